package storage

import (
	"errors"

	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
)

// Sentinel errors for storage facts. Adapters return these (optionally
// wrapped) so components can translate them into domain errors without
// seeing engine-specific messages.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrReadOnly   = errors.New("write attempted in read-only view")
	ErrOutOfRange = errors.New("quantity total out of range")
)

// DomainError translates a storage error about entity into the domain
// taxonomy. Errors that already carry a code pass through unchanged.
func DomainError(err error, entity string) error {
	var de *dErrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, entity+" not found")
	case errors.Is(err, ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, entity+" already exists")
	case errors.Is(err, ErrOutOfRange):
		return dErrors.Wrap(err, dErrors.CodeInternal, entity+" total out of range")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}
}

// RetryOnConflict runs fn and, if it failed with a Conflict code, runs it
// once more. fn must open its own transaction: a failed one cannot be
// reused.
func RetryOnConflict(fn func() error) error {
	err := fn()
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		err = fn()
	}
	return err
}
