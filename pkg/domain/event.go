package domain

import "time"

// EventType identifies a lifecycle event
type EventType string

const (
	EventTypeFlightSubmitted EventType = "flight.submitted"
	EventTypeRunStarted      EventType = "run.started"
	EventTypeRunCompleted    EventType = "run.completed"
	EventTypeRunFailed       EventType = "run.failed"
	EventTypeStepStarted     EventType = "step.started"
	EventTypeStepCompleted   EventType = "step.completed"
	EventTypeStepFailed      EventType = "step.failed"
	EventTypeStepDisabled    EventType = "step.disabled"
)

// Event topics
const (
	TopicFlights = "flight.events"
	TopicRuns    = "run.events"
	TopicSteps   = "step.events"
)

// Event is published on the event bus while flights are processed
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	FlightID  string         `json:"flight_id,omitempty"`
	Step      string         `json:"step,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// FlightSubmission is the payload of a flight.submitted event and of the
// REST submission endpoint: an already-parsed flight.
type FlightSubmission struct {
	FlightID string              `json:"flight_id"`
	Airframe string              `json:"airframe"`
	Meta     FlightMeta          `json:"meta"`
	Doubles  []*DoubleSeries     `json:"doubles"`
	Strings  []*StringSeries     `json:"strings"`
	Aliases  map[string][]string `json:"aliases,omitempty"`
}

// Flight builds the data context for the submission
func (s *FlightSubmission) Flight() *Flight {
	f := NewFlight(s.FlightID, s.Airframe, s.Doubles, s.Strings)
	f.UpdateMeta(func(m *FlightMeta) { *m = s.Meta })
	for column, aliases := range s.Aliases {
		f.SetAliases(column, aliases...)
	}
	return f
}
