package weights

import (
	"errors"
	"fmt"
)

var (
	ErrFormat   = errors.New("weights: malformed source")
	ErrNotFound = errors.New("weights: block not found")
)

// FormatError reports a malformed serialized source. Line is 1-based and zero
// when the problem is not tied to a single line (eg a missing layer index).
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("weights: line %d: %s", e.Line, e.Msg)
	}
	return "weights: " + e.Msg
}

func (e *FormatError) Unwrap() error { return ErrFormat }

func formatErrorf(line int, format string, args ...any) error {
	return &FormatError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a (layer, kind) pair with no block in the store.
type NotFoundError struct {
	Layer int
	Kind  Kind
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("weights: no %s block for layer %d", e.Kind, e.Layer)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
