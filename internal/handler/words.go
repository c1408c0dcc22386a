package handler

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/response"
	"github.com/similarwords/anagramd/internal/service"
)

// WordHandler serves /similar and /add-word.
type WordHandler struct {
	Service *service.Words
	Log     zerolog.Logger
}

type similarResponse struct {
	Similar []string `json:"similar"`
}

type addWordRequest struct {
	Word string `json:"word" validate:"required"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Similar returns the stored anagrams of ?word= (GET /similar).
func (h *WordHandler) Similar(c echo.Context) error {
	word := c.QueryParam("word")
	if word == "" {
		return response.BadRequest(c, "query parameter 'word' is required")
	}
	similar, err := h.Service.Similar(c.Request().Context(), word)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	return response.JSON(c, similarResponse{Similar: similar})
}

// AddWord registers a new word (POST /add-word).
func (h *WordHandler) AddWord(c echo.Context) error {
	var req addWordRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid JSON body")
	}
	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, "field 'word' is required")
	}
	conf, err := h.Service.AddWord(c.Request().Context(), req.Word)
	if err != nil {
		return response.FromError(c, h.Log, err)
	}
	return response.JSON(c, messageResponse{Message: fmt.Sprintf("Word: %s added successfully", conf.Word)})
}
