package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("request: %w: title is required", ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("rfq: %w", ErrNotFound), http.StatusNotFound},
		{"transition", fmt.Errorf("request: submit: %w", ErrInvalidTransition), http.StatusConflict},
		{"awarded", fmt.Errorf("award: %w", ErrAlreadyAwarded), http.StatusConflict},
		{"expired", ErrRfqExpired, http.StatusConflict},
		{"duplicate", ErrDuplicateQuote, http.StatusConflict},
		{"not accepting", ErrRfqNotAcceptingQuotes, http.StatusConflict},
		{"quote expired", ErrQuoteExpired, http.StatusConflict},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError},
		{"external", ErrExternalUnavailable, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestPublicMessageHidesUnexpected(t *testing.T) {
	err := fmt.Errorf("award: insert order: %w", errors.New("pq: deadlock detected"))
	if got := PublicMessage(err); got != "internal server error" {
		t.Fatalf("expected generic message, got %q", got)
	}

	domain := fmt.Errorf("award: %w", ErrAlreadyAwarded)
	if got := PublicMessage(domain); got != domain.Error() {
		t.Fatalf("expected domain message, got %q", got)
	}
}
