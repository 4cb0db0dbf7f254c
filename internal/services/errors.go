package services

import "errors"

// Service error taxonomy. Handlers map these to HTTP status codes; callers
// inside the package match with errors.Is.
var (
	// ErrInvalidAmount is returned before any store interaction when a
	// wallet operation is requested with amount <= 0.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidBooking is returned before any store interaction when a
	// booking request fails validation: passenger count below one, identical
	// start and end points, or a travel date in the past.
	ErrInvalidBooking = errors.New("invalid booking request")

	// ErrInsufficientFunds is returned by Charge when the wallet balance is
	// lower than the requested amount. No transaction row is written.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")

	// ErrWalletNotFound is returned when an operation that does not lazily
	// create wallets targets a user without one.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrRouteNotFound is returned when a booking references an unknown route.
	ErrRouteNotFound = errors.New("route not found")

	// ErrTicketNotFound is returned for reads of unknown or foreign tickets.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrTicketNotActive is returned when a scan or cancellation targets a
	// ticket whose effective status is not active.
	ErrTicketNotActive = errors.New("ticket is not active")

	// ErrConstraintViolation maps the store's unique-constraint failures
	// (duplicate QR payload, replayed external reference racing an insert).
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrStoreUnavailable wraps transient persistence failures. Read paths
	// may retry; mutations must not be blindly retried without an
	// idempotency key.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrReconciliationRequired signals that a charge committed but the paired
	// ticket write and the compensating refund both failed. Funds moved and
	// need manual reconciliation; this is intentionally loud.
	ErrReconciliationRequired = errors.New("booking reconciliation required")
)
