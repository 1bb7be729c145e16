package formula

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax reports a malformed formula.
	ErrSyntax = errors.New("syntax error")
	// ErrUnknownIdentifier reports an identifier with no value in the variable mapping.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrDivisionByZero reports a division whose divisor evaluated to zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrNonFinite reports an input or intermediate result that is NaN or infinite.
	ErrNonFinite = errors.New("non-finite value")
)

// EvaluationError is returned for every formula that cannot produce a finite number.
type EvaluationError struct {
	Formula string
	Pos     int
	Err     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("formula %q: offset %d: %v", e.Formula, e.Pos, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func newError(src string, pos int, err error) *EvaluationError {
	return &EvaluationError{Formula: src, Pos: pos, Err: err}
}
