package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Step is a single unit of flight computation.
//
// A step reads RequiredColumns from the flight and writes OutputColumns back.
// The column sets must not change for the lifetime of the step; the graph
// engine uses them to order execution.
type Step interface {
	// Name identifies the step in diagnostics
	Name() string
	RequiredColumns() []string
	OutputColumns() []string
	// Required steps fail the whole run when they cannot produce their output
	Required() bool
	// Applicable is checked immediately before Compute
	Applicable(env *Env) bool
	Compute(ctx context.Context, env *Env) error
	// ExplainApplicability describes why the step is or is not applicable
	ExplainApplicability(env *Env) string
}

// Session serialises access to a database handle shared by concurrently
// running steps.
type Session interface {
	Do(ctx context.Context, fn func(ctx context.Context, db *sqlx.DB) error) error
}

// Env is what a step sees while it runs
type Env struct {
	Flight  *Flight
	Session Session
	Logger  *zap.Logger
}

// ErrNoSession is returned by steps that need reference data when no session is configured
var ErrNoSession = errors.New("no database session configured")

// StepErrorKind classifies an error returned from Step.Compute
type StepErrorKind string

const (
	// ErrorKindRecoverable is a data-quality problem; processing continues with a warning
	ErrorKindRecoverable StepErrorKind = "recoverable"
	// ErrorKindFatal invalidates the step output and everything depending on it
	ErrorKindFatal StepErrorKind = "fatal"
	// ErrorKindUnclassified is any error or panic outside the taxonomy; it aborts the run
	ErrorKindUnclassified StepErrorKind = "unclassified"
)

// StepError is an error returned by a step, tagged with its kind
type StepError struct {
	Kind StepErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Recoverable wraps err as a data-quality warning
func Recoverable(err error) error {
	return &StepError{Kind: ErrorKindRecoverable, Err: err}
}

// Recoverablef formats a data-quality warning
func Recoverablef(format string, args ...any) error {
	return Recoverable(fmt.Errorf(format, args...))
}

// Fatal wraps err as a failure that invalidates the step output
func Fatal(err error) error {
	return &StepError{Kind: ErrorKindFatal, Err: err}
}

// Fatalf formats a fatal step failure
func Fatalf(format string, args ...any) error {
	return Fatal(fmt.Errorf(format, args...))
}

// KindOf returns the kind of err. Errors that are not StepErrors, and
// StepErrors with an unknown kind, are unclassified.
func KindOf(err error) StepErrorKind {
	var se *StepError
	if !errors.As(err, &se) {
		return ErrorKindUnclassified
	}
	switch se.Kind {
	case ErrorKindRecoverable, ErrorKindFatal:
		return se.Kind
	default:
		return ErrorKindUnclassified
	}
}
