package statement

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; location details are carried by
// LineError, ElementError and RowError.
var (
	ErrParse            = errors.New("parse error")
	ErrUnknownField     = errors.New("unknown field")
	ErrOutOfOrder       = errors.New("field out of order")
	ErrStructure        = errors.New("invalid document structure")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidFormat    = errors.New("invalid format")
	ErrConversion       = errors.New("conversion error")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// LineError locates a failure in line-oriented input.
type LineError struct {
	Line  int
	Field string
	Err   error
}

func (e *LineError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: field %s: %v", e.Line, e.Field, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ElementError locates a failure in an XML document by element path.
type ElementError struct {
	Path string
	Err  error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element %s: %v", e.Path, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }

// RowError locates a failure in tabular input. Row 1 is the header.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d: column %s: %v", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// IsInputError reports whether err was caused by malformed input rather than I/O.
func IsInputError(err error) bool {
	for _, kind := range []error{
		ErrParse, ErrUnknownField, ErrOutOfOrder, ErrStructure, ErrInvalidDate,
		ErrInvalidAmount, ErrMissingField, ErrInvalidFormat, ErrConversion, ErrCurrencyMismatch,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
