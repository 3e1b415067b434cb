package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error surfaced by the memory components wraps exactly
// one of these, so callers can classify with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service error")
)

// Validationf returns an ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound with a formatted detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf returns an ErrConflict with a formatted detail.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// External wraps err as an ErrExternalService for the named call.
func External(call string, err error) error {
	if errors.Is(err, ErrExternalService) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrExternalService, call, err)
}
