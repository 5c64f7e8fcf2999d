// Package apperr defines the error kinds shared by every layer. Domain code
// wraps one of the sentinels; the HTTP layer maps them to status codes.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrEntityNotFound = errors.New("entity not found")
	ErrInvalidField   = errors.New("invalid field value")
	ErrDatabase       = errors.New("database error")
	ErrSearchQuery    = errors.New("invalid search query")
	ErrAlreadyExists  = errors.New("already exists")
	ErrReadOnly       = errors.New("database is read-only")
)

// Wrap annotates err with kind unless it already carries a known kind.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if Known(err) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Known reports whether err wraps one of the sentinels above.
func Known(err error) bool {
	for _, k := range []error{
		ErrNotFound, ErrEntityNotFound, ErrInvalidField, ErrDatabase,
		ErrSearchQuery, ErrAlreadyExists, ErrReadOnly,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
