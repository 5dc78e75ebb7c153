package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat indicates the blacklist payload is structurally wrong
	ErrInvalidFormat = errors.New("invalid blacklist data format")

	// ErrEmptyData indicates no data was received
	ErrEmptyData = errors.New("empty blacklist data received")

	// ErrUnsupportedFormat indicates the data format is not supported
	ErrUnsupportedFormat = errors.New("unsupported blacklist data format")
)

// ParsingError wraps errors that occur during blacklist payload parsing
type ParsingError struct {
	Format string
	Line   int
	Column int
	Cause  error
}

func (e *ParsingError) Error() string {
	if e.Line > 0 || e.Column > 0 {
		return fmt.Sprintf("parsing %s format failed at line %d, column %d: %v",
			e.Format, e.Line, e.Column, e.Cause)
	}
	return fmt.Sprintf("parsing %s format failed: %v", e.Format, e.Cause)
}

func (e *ParsingError) Unwrap() error {
	return e.Cause
}

// NewParsingError creates a new ParsingError
func NewParsingError(format string, cause error) *ParsingError {
	return &ParsingError{
		Format: format,
		Cause:  cause,
	}
}

// NewParsingErrorWithPosition creates a new ParsingError with line/column info.
// For JSON payloads the column is the index of the offending array element.
func NewParsingErrorWithPosition(format string, line, column int, cause error) *ParsingError {
	return &ParsingError{
		Format: format,
		Line:   line,
		Column: column,
		Cause:  cause,
	}
}
