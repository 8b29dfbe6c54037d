package domain

import (
	"errors"
	"fmt"
	"time"
)

// StepState is the execution state of a single step in a run
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateSucceeded StepState = "succeeded"
	StepStateFailed    StepState = "failed"
	StepStateDisabled  StepState = "disabled"
	// StepStateSkipped marks steps never evaluated because the run was aborted
	StepStateSkipped StepState = "skipped"
)

// StepFailure is an error captured at a step
type StepFailure struct {
	Step string        `json:"step"`
	Kind StepErrorKind `json:"kind"`
	Err  error         `json:"-"`
	// Message duplicates Err for serialisation
	Message string `json:"message"`
}

func (f *StepFailure) Error() string {
	msg := f.Message
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return fmt.Sprintf("step %s: %s", f.Step, msg)
}

func (f *StepFailure) Unwrap() error {
	return f.Err
}

// NewStepFailure creates a failure for the named step
func NewStepFailure(step string, kind StepErrorKind, err error) *StepFailure {
	return &StepFailure{Step: step, Kind: kind, Err: err, Message: err.Error()}
}

// StepOutcome summarises what happened to one step
type StepOutcome struct {
	Step     string        `json:"step"`
	State    StepState     `json:"state"`
	Required bool          `json:"required"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the aggregated outcome of executing a step graph
type RunResult struct {
	Fatal    []*StepFailure `json:"fatal,omitempty"`
	Warnings []*StepFailure `json:"warnings,omitempty"`
	Steps    []StepOutcome  `json:"steps"`
}

// Failed reports whether at least one fatal error was captured
func (r *RunResult) Failed() bool {
	return len(r.Fatal) > 0
}

// Err joins every fatal failure, or returns nil for a successful run
func (r *RunResult) Err() error {
	if !r.Failed() {
		return nil
	}
	errs := make([]error, len(r.Fatal))
	for i, f := range r.Fatal {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Outcome returns the outcome of the named step
func (r *RunResult) Outcome(step string) (StepOutcome, bool) {
	for _, o := range r.Steps {
		if o.Step == step {
			return o, true
		}
	}
	return StepOutcome{}, false
}

// ErrRunNotFound is returned by run stores for unknown run IDs
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the processing status of a flight
type RunStatus string

const (
	RunStatusProcessing RunStatus = "processing"
	RunStatusSuccess    RunStatus = "success"
	RunStatusWarning    RunStatus = "warning"
	RunStatusError      RunStatus = "error"
)

// IsTerminal reports whether processing has finished
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusWarning || s == RunStatusError
}

// RunReport is the persisted record of processing one flight
type RunReport struct {
	ID          string         `json:"id"`
	FlightID    string         `json:"flight_id"`
	Airframe    string         `json:"airframe"`
	Status      RunStatus      `json:"status"`
	Errors      []*StepFailure `json:"errors,omitempty"`
	Warnings    []*StepFailure `json:"warnings,omitempty"`
	Steps       []StepOutcome  `json:"steps,omitempty"`
	Columns     []string       `json:"columns,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StatusFor maps a run result to the flight status seen by the pipeline
func StatusFor(r *RunResult) RunStatus {
	switch {
	case r.Failed():
		return RunStatusError
	case len(r.Warnings) > 0:
		return RunStatusWarning
	default:
		return RunStatusSuccess
	}
}
