package handler

import (
	"errors"
	"testing"
	"time"

	"github.com/similarwords/anagramd/internal/apperr"
)

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2024-03-01T10:20:30Z":      time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC),
		"2024-03-01T10:20:30+02:00": time.Date(2024, 3, 1, 8, 20, 30, 0, time.UTC),
		"2024-03-01T10:20:30":       time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC),
		"2024-03-01 10:20:30":       time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC),
		"2024-03-01":                time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, err := parseTimestamp("from", raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q = %v, want %v", raw, got, want)
		}
	}

	if got, err := parseTimestamp("from", ""); got != nil || err != nil {
		t.Fatalf("empty = %v, %v", got, err)
	}
	if _, err := parseTimestamp("to", "03/01/2024"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
