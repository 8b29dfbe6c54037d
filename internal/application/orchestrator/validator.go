package orchestrator

import (
	"fmt"

	"github.com/aescanero/flightgraph/pkg/domain"
)

// Validator validates flight submissions
type Validator struct{}

// NewValidator creates a new submission validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a flight submission
func (v *Validator) Validate(sub *domain.FlightSubmission) error {
	if sub == nil {
		return fmt.Errorf("submission is nil")
	}

	// Check basic fields
	if sub.FlightID == "" {
		return fmt.Errorf("flight ID is required")
	}

	if sub.Airframe == "" {
		return fmt.Errorf("airframe is required")
	}

	if len(sub.Doubles)+len(sub.Strings) == 0 {
		return fmt.Errorf("flight must have at least one column")
	}

	// Validate columns
	names := make(map[string]bool)
	length := -1
	check := func(name string, n int) error {
		if name == "" {
			return fmt.Errorf("column name is required")
		}
		if names[name] {
			return fmt.Errorf("duplicate column: %s", name)
		}
		names[name] = true

		// every column of a flight covers the same samples
		if length >= 0 && n != length {
			return fmt.Errorf("column %s has %d samples, expected %d", name, n, length)
		}
		length = n
		return nil
	}

	for i, s := range sub.Doubles {
		if s == nil {
			return fmt.Errorf("double column %d is nil", i)
		}
		if err := check(s.Name, s.Len()); err != nil {
			return err
		}
	}
	for i, s := range sub.Strings {
		if s == nil {
			return fmt.Errorf("string column %d is nil", i)
		}
		if err := check(s.Name, s.Len()); err != nil {
			return err
		}
	}

	// Validate aliases
	for column, aliases := range sub.Aliases {
		if column == "" {
			return fmt.Errorf("alias target is required")
		}
		for _, alias := range aliases {
			if alias == "" {
				return fmt.Errorf("empty alias for column %s", column)
			}
		}
	}

	return nil
}
