// Package apperr holds the error kinds shared by every workflow component.
// Packages wrap these sentinels with their own prefix and callers classify
// failures with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrAlreadyAwarded        = errors.New("rfq already awarded")
	ErrRfqExpired            = errors.New("rfq expired")
	ErrDuplicateQuote        = errors.New("duplicate quote")
	ErrRfqNotAcceptingQuotes = errors.New("rfq not accepting quotes")
	ErrQuoteExpired          = errors.New("quote validity elapsed")
	ErrExternalUnavailable   = errors.New("external service unavailable")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
)

var conflicts = []error{
	ErrInvalidTransition,
	ErrAlreadyAwarded,
	ErrRfqExpired,
	ErrDuplicateQuote,
	ErrRfqNotAcceptingQuotes,
	ErrQuoteExpired,
}

// HTTPStatus maps an error chain to the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	for _, kind := range conflicts {
		if errors.Is(err, kind) {
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

// IsDomain reports whether err carries one of the known kinds. Anything else
// is an unexpected storage or transport failure.
func IsDomain(err error) bool {
	return HTTPStatus(err) != http.StatusInternalServerError
}

// PublicMessage returns the text safe to hand to a caller.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsDomain(err) {
		return err.Error()
	}
	return "internal server error"
}
