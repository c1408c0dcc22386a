package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/apperr"
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data    any    `json:"data"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path"`
}

// APIError is the body of every error response. Error is a stable machine
// code such as duplicate_word.
type APIError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Path    string `json:"path"`
	Status  int    `json:"status"`
}

// pathFromContext returns the request path from Echo context.
func pathFromContext(c echo.Context) string {
	if c == nil || c.Request() == nil {
		return ""
	}
	return c.Request().URL.Path
}

// OK sends a 200 response with data wrapped in APIResponse.
func OK(c echo.Context, data any, message string) error {
	return c.JSON(http.StatusOK, APIResponse{
		Data:    data,
		Status:  http.StatusOK,
		Message: message,
		Path:    pathFromContext(c),
	})
}

// JSON sends a 200 response with data as the whole body.
func JSON(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// Error sends a JSON error response using APIError.
func Error(c echo.Context, status int, message, code string) error {
	return c.JSON(status, APIError{
		Message: message,
		Error:   code,
		Path:    pathFromContext(c),
		Status:  status,
	})
}

// BadRequest sends 400 with message and a validation_error code.
func BadRequest(c echo.Context, message string) error {
	return Error(c, http.StatusBadRequest, message, apperr.Code(apperr.ErrValidation))
}

// FromError maps err onto the error envelope. Server-side failures are
// logged with their cause; the body only carries the generic message.
func FromError(c echo.Context, log zerolog.Logger, err error) error {
	status := apperr.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("path", pathFromContext(c)).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("request failed")
	}
	return Error(c, status, apperr.Message(err), apperr.Code(err))
}
