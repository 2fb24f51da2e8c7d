// Package tradeerr classifies per-item trading failures so the batch runner
// can count them without inspecting error strings.
package tradeerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the outcome class of a failed operation.
type Kind int

const (
	// Unexpected errors are logged with context and counted as failures.
	Unexpected Kind = iota
	// Validation errors fail immediately and are never retried.
	Validation
	// Retryable errors are transient exchange conditions.
	Retryable
	// Interrupted marks a user cancellation. It is not a failure.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Retryable:
		return "retryable"
	case Interrupted:
		return "interrupted"
	default:
		return "unexpected"
	}
}

// Error carries the kind plus the operation and symbol it happened on.
type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Symbol != "" && e.Op != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: Validation, Err: fmt.Errorf(format, args...)}
}

func Retryablef(format string, args ...any) error {
	return &Error{Kind: Retryable, Err: fmt.Errorf(format, args...)}
}

func Interruptedf(format string, args ...any) error {
	return &Error{Kind: Interrupted, Err: fmt.Errorf(format, args...)}
}

// retryableError is implemented by exchange errors that know whether the
// condition is transient.
type retryableError interface {
	IsRetryable() bool
}

// KindOf classifies err. Explicit kinds win over inferred ones.
func KindOf(err error) Kind {
	if err == nil {
		return Unexpected
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Interrupted
	}
	var re retryableError
	if errors.As(err, &re) && re.IsRetryable() {
		return Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	return Unexpected
}

func IsValidation(err error) bool  { return err != nil && KindOf(err) == Validation }
func IsRetryable(err error) bool   { return err != nil && KindOf(err) == Retryable }
func IsInterrupted(err error) bool { return err != nil && KindOf(err) == Interrupted }
