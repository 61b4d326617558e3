package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable marks failures of the underlying repository.
	ErrStorageUnavailable = errors.New("settings storage unavailable")
	// ErrCreateLoop is returned when the default record was inserted but
	// still could not be read back.
	ErrCreateLoop = errors.New("endless loop while creating settings record")
)

// Error is returned by Reload and Update. Use errors.Is with
// ErrStorageUnavailable or ErrCreateLoop to tell the kinds apart.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("settings %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func storageError(op string, cause error) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrStorageUnavailable, cause)}
}
