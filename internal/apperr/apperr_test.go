package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("word is required"), http.StatusBadRequest},
		{"duplicate", fmt.Errorf("insert: %w", ErrDuplicateWord), http.StatusBadRequest},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"store", StoreFailure("insert word", errors.New("conn reset")), http.StatusInternalServerError},
		{"store timeout", StoreFailure("similar", fmt.Errorf("beginning transaction: %w", context.DeadlineExceeded)), http.StatusInternalServerError},
		{"unavailable", ErrUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatusCode(tc.err); got != tc.want {
				t.Fatalf("HTTPStatusCode = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestStoreFailureKeepsOperationAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := StoreFailure("find by signature", cause)
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatal("expected ErrStoreFailure")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be unwrappable")
	}
	if !strings.Contains(err.Error(), "find by signature") {
		t.Fatalf("error %q does not name the operation", err)
	}
	if Code(err) != "store_failure" {
		t.Fatalf("Code = %q", Code(err))
	}
	if Message(err) == err.Error() {
		t.Fatal("store failure message must not expose the cause")
	}
}

func TestStoreFailurePassesThroughTaxonomy(t *testing.T) {
	if err := StoreFailure("insert", ErrDuplicateWord); !errors.Is(err, ErrDuplicateWord) || errors.Is(err, ErrStoreFailure) {
		t.Fatalf("duplicate must stay a duplicate, got %v", err)
	}
	if StoreFailure("insert", nil) != nil {
		t.Fatal("nil must stay nil")
	}
	err := StoreFailure("count", context.DeadlineExceeded)
	if !errors.Is(err, ErrStoreFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout must be a store failure, got %v", err)
	}
}

func TestCode(t *testing.T) {
	if Code(Validation("x")) != "validation_error" {
		t.Fatal("validation code")
	}
	if Code(ErrDuplicateWord) != "duplicate_word" {
		t.Fatal("duplicate code")
	}
	if Code(ErrNotFound) != "not_found" {
		t.Fatal("not found code")
	}
}
