package domain

import "errors"

// Error kinds. These are sentinel values rather than a closed set of
// language-level error types: callers match them with errors.Is and wrap
// them with package-prefixed context via fmt.Errorf("%w: ...", ...).
var (
	// ErrTransportFailure covers network/timeout failures from the HTTP
	// client core that are not retryable status codes.
	ErrTransportFailure = errors.New("transport failure")

	// ErrRateLimited corresponds to an HTTP 429; retried by the client core.
	ErrRateLimited = errors.New("rate limited")

	// ErrServerBusy corresponds to a 5xx response; retried by the client core.
	ErrServerBusy = errors.New("server busy")

	// ErrClientRejection is a non-retryable 4xx other than 429.
	ErrClientRejection = errors.New("client rejection")

	// ErrDecodeFailure indicates a malformed response payload.
	ErrDecodeFailure = errors.New("decode failure")

	// ErrDomainReject indicates a market failed strategy preconditions
	// (missing tokens, mismatched array lengths, unsupported order type).
	ErrDomainReject = errors.New("domain reject")

	// ErrCapacityExceeded indicates a daily or per-order volume cap breach.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrCooldown indicates a recent execution blocks a new one.
	ErrCooldown = errors.New("cooldown active")

	// ErrSigningUnavailable indicates no private key is configured.
	ErrSigningUnavailable = errors.New("signing unavailable")

	// ErrConflict indicates the venue rejected an order (e.g. a stale nonce).
	ErrConflict = errors.New("order conflict")

	// ErrCancelled indicates the task or stage was stopped.
	ErrCancelled = errors.New("cancelled")

	// ErrNotFound is returned by stores/caches for a missing record.
	ErrNotFound = errors.New("not found")
)
