package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/config"
	"github.com/similarwords/anagramd/internal/handler"
	"github.com/similarwords/anagramd/internal/metrics"
	"github.com/similarwords/anagramd/internal/service"
)

// Deps are the collaborators the routes need. Metrics and NewRelic are
// optional.
type Deps struct {
	Words    *service.Words
	Metrics  *metrics.Metrics
	NewRelic *newrelic.Application
	// Checks are probed by the readiness endpoint.
	Checks map[string]handler.Pinger
	Log    zerolog.Logger
}

// Server holds the Echo app and its configuration.
type Server struct {
	Echo   *echo.Echo
	Config *config.Config
	log    zerolog.Logger
}

// New builds the Echo server and registers routes under the API prefix.
func New(cfg *config.Config, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	log := d.Log.With().Str("component", "http").Logger()

	e.Use(
		middleware.Recover(),
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.Server.CORSAllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"*"},
			AllowCredentials: true,
		}),
		requestLogger(log),
	)
	if d.NewRelic != nil {
		e.Use(newRelicTransactions(d.NewRelic))
	}
	if d.Metrics != nil {
		e.Use(d.Metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	words := &handler.WordHandler{Service: d.Words, Log: log}
	logs := &handler.RequestLogHandler{Service: d.Words, Log: log}
	health := &handler.HealthHandler{Checks: d.Checks}

	api := e.Group(cfg.API.Prefix())
	api.GET("/similar", words.Similar)
	api.POST("/add-word", words.AddWord)
	api.GET("/stats", logs.Stats)
	api.GET("/request_logs", logs.List)
	api.POST("/request_logs/archive", logs.Archive)
	api.GET("/request_logs/archives", logs.Archives)
	api.GET("/request_logs/archives/content", logs.ArchiveContent)
	api.GET("/health", health.Health)
	api.GET("/health/ready", health.Ready)

	return &Server{Echo: e, Config: cfg, log: log}
}

// requestLogger logs one zerolog line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + s.Config.Server.Port
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- s.Echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.Config.Server.ShutdownTimeout > 0 {
		return s.Config.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.Echo.Shutdown(ctx)
}
