package template

import (
	"errors"
	"fmt"
)

// ErrUnknownVar is returned by SetVar when the variable name does not
// exist in the compiled template.
var ErrUnknownVar = errors.New("unknown template variable")

// ErrUnknownBlock is returned by AddBlock when no block with the given
// name exists in the compiled template.
var ErrUnknownBlock = errors.New("unknown template block")

// SyntaxError is the single error category for compile-time failures.
// Parsing is all-or-nothing: a SyntaxError means no Template was produced.
type SyntaxError struct {
	// Msg describes the failure.
	Msg string
	// Offset is the character offset into the working text at which the
	// failure was detected.
	Offset int
	// Err carries an underlying cause, such as a condition-expression
	// evaluation failure. May be nil.
	Err error
}

func (e *SyntaxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("template syntax error at offset %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("template syntax error at offset %d: %s", e.Offset, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func syntaxErr(offset int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Offset: offset}
}
