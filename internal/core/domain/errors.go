package domain

import "errors"

var (
	// ErrVersionConflict is returned by order storage when a concurrent
	// writer changed the status first. The order service reloads the order
	// and reports the attempt as an invalid transition.
	ErrVersionConflict = errors.New("version conflict")

	// ErrConcurrencyTimeout means a debit could not acquire its key (or
	// exhausted its retries) without committing any partial effect. The whole
	// call is safe to retry.
	ErrConcurrencyTimeout = errors.New("concurrency timeout")

	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidAdjustment      = errors.New("adjustment would make stock negative")

	ErrOrderNotFound      = errors.New("order not found")
	ErrDownstreamNotFound = errors.New("downstream order not found")
	ErrUnknownItem        = errors.New("unknown item")
	ErrEmptyOrder         = errors.New("order has no items")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrMissingWorkstation = errors.New("workstation id is required")

	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)
