package errors

import (
	stdErrors "errors"
	"fmt"
)

// ErrInvariant marks programming errors: conditions that correct callers can never trigger.
var ErrInvariant = stdErrors.New("invariant violation")

// Invariant panics with an ErrInvariant-wrapped error. It is reserved for misuse of
// internal APIs, never for user input.
func Invariant(format string, args ...any) {
	panic(fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...)))
}

// IsInvariant reports whether a recovered panic value is an invariant violation.
func IsInvariant(recovered any) bool {
	err, ok := recovered.(error)
	return ok && stdErrors.Is(err, ErrInvariant)
}
