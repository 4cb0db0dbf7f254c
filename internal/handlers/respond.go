package handlers

import (
	"errors"
	"net/http"

	"github.com/transitgo/backend/internal/services"
)

// statusForError maps service errors onto HTTP status codes. Anything
// unclassified is treated as an internal failure.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidBooking):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, services.ErrWalletNotFound),
		errors.Is(err, services.ErrRouteNotFound),
		errors.Is(err, services.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrTicketNotActive):
		return http.StatusConflict
	case errors.Is(err, services.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, services.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
