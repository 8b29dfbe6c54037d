package depgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGraphExecuted is returned when a graph is executed a second time
	ErrGraphExecuted = errors.New("graph has already been executed")
	// ErrRequiredStepDisabled is recorded when a required step cannot run
	ErrRequiredStepDisabled = errors.New("required step disabled")
	// ErrUnclassified wraps panics raised by steps
	ErrUnclassified = errors.New("unclassified step failure")
	// ErrRunAborted is the reason recorded on steps skipped after an abort
	ErrRunAborted = errors.New("run aborted")
)

// ConflictError reports two steps claiming the same output column
type ConflictError struct {
	Column string
	First  string
	Second string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("steps %q and %q both produce column %q", e.First, e.Second, e.Column)
}

// CycleError reports a dependency cycle through Step
type CycleError struct {
	Step string
	// Path lists the steps on the cycle, starting and ending with Step
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected from step %q: %s", e.Step, strings.Join(e.Path, " -> "))
}

// RequiredChainError reports a required step depending on an optional one
type RequiredChainError struct {
	Required string
	Optional string
}

func (e *RequiredChainError) Error() string {
	return fmt.Sprintf("required step %q depends on optional step %q", e.Required, e.Optional)
}
