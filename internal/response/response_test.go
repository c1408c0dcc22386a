package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/apperr"
)

func TestFromErrorHidesStoreDetails(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/similar?word=x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := apperr.StoreFailure("find by signature", errors.New("pq: password authentication failed"))
	if err := FromError(c, zerolog.Nop(), err); err != nil {
		t.Fatalf("FromError: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("driver error leaked: %s", rec.Body.String())
	}
	var body APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error != "store_failure" || body.Path != "/api/v1/similar" || body.Status != 500 {
		t.Fatalf("body = %+v", body)
	}
}

func TestFromErrorDuplicate(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/add-word", nil), rec)

	_ = FromError(c, zerolog.Nop(), apperr.ErrDuplicateWord)
	var body APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Code != http.StatusBadRequest || body.Error != "duplicate_word" || body.Message != "Word already exists in database" {
		t.Fatalf("status=%d body=%+v", rec.Code, body)
	}
}
