package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotFound is returned when the catalog has no entry for a resource key.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrAlreadyClaimed is returned when a claim already exists for the resource key.
	// It is a definite outcome and must not be retried as if it were transient.
	ErrAlreadyClaimed = errors.New("resource already claimed")

	// ErrClaimNotFound is returned when an operation targets a claim that does not exist.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrStoreUnavailable is returned when the storage engine could not be reached or did
	// not answer. The outcome of the attempted mutation is unknown.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidCursor is returned when a pagination token cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrInvalidArgument is returned when a caller omits a required identifier.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedMutation is returned for a mutation/predicate pair the store does not define.
	ErrUnsupportedMutation = errors.New("unsupported mutation")
)

// Unavailable wraps a transport or driver error so that it matches ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsRetryable reports whether err leaves the outcome undetermined and may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
