package errors

import (
	"errors"
	"fmt"
)

// Kind sentinels for the recoverable failures this core surfaces.
// Services wrap these with detail via E/Ef; callers branch with
// errors.Is and the HTTP layer maps them centrally in mapper.go.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyApplied      = errors.New("already applied")
	ErrNoActiveSession     = errors.New("no active session")
	ErrRaceLost            = errors.New("race lost")
)

// E wraps a kind with a caller-facing detail message.
func E(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

// Ef is E with formatting.
func Ef(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Is re-exports errors.Is so callers don't need both packages.
func Is(err, target error) bool { return errors.Is(err, target) }
