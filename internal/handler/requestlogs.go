package handler

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/requestlog"
	"github.com/similarwords/anagramd/internal/response"
	"github.com/similarwords/anagramd/internal/service"
)

// timestampLayouts are tried in order; layouts without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// RequestLogHandler serves /stats and the /request_logs routes.
type RequestLogHandler struct {
	Service *service.Words
	Log     zerolog.Logger
}

type statsResponse struct {
	TotalWords          int64   `json:"totalWords"`
	TotalRequests       int64   `json:"totalRequests"`
	AvgProcessingTimeMs float64 `json:"avgProcessingTimeMs"`
}

// Stats reports word and request aggregates (GET /stats?from=&to=).
func (h *RequestLogHandler) Stats(c echo.Context) error {
	w, err := parseWindow(c)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	s, err := h.Service.Stats(c.Request().Context(), w)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	return response.JSON(c, statsResponse{
		TotalWords:          s.TotalWords,
		TotalRequests:       s.TotalRequests,
		AvgProcessingTimeMs: s.AvgProcessingTimeUs / 1000,
	})
}

// List returns request-log entries (GET /request_logs?from=&to=&limit=).
func (h *RequestLogHandler) List(c echo.Context) error {
	w, err := parseWindow(c)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return response.BadRequest(c, "'limit' must be a non-negative integer")
		}
	}
	entries, err := h.Service.RequestLogs(c.Request().Context(), w, limit)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	return response.JSON(c, entries)
}

// Archive uploads the entries in the window (POST /request_logs/archive).
func (h *RequestLogHandler) Archive(c echo.Context) error {
	w, err := parseWindow(c)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	res, err := h.Service.Archive(c.Request().Context(), w)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	return response.OK(c, res, "request logs archived")
}

// Archives lists uploaded archives (GET /request_logs/archives).
func (h *RequestLogHandler) Archives(c echo.Context) error {
	objs, err := h.Service.Archives(c.Request().Context())
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	return response.OK(c, map[string]any{"objects": objs}, "")
}

// ArchiveContent returns the entries of one archive
// (GET /request_logs/archives/content?key=).
func (h *RequestLogHandler) ArchiveContent(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return response.BadRequest(c, "query parameter 'key' is required")
	}
	entries, err := h.Service.ArchivedLogs(c.Request().Context(), key)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	return response.OK(c, map[string]any{"key": key, "logs": entries}, "")
}

func parseWindow(c echo.Context) (requestlog.Window, error) {
	from, err := parseTimestamp("from", c.QueryParam("from"))
	if err != nil {
		return requestlog.Window{}, err
	}
	to, err := parseTimestamp("to", c.QueryParam("to"))
	if err != nil {
		return requestlog.Window{}, err
	}
	w := requestlog.Window{From: from, To: to}
	return w, w.Validate()
}

func parseTimestamp(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Validation("'%s' must be an ISO 8601 timestamp", name)
}
