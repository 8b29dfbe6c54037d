// Package ports defines the interfaces between flight processing and its
// infrastructure adapters.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
)

// EventHandler handles an event delivered by an EventBus
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers lifecycle events
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	// Subscribe delivers events until ctx is cancelled
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// RunStore persists run reports
type RunStore interface {
	SaveRun(ctx context.Context, report *domain.RunReport) error
	GetRun(ctx context.Context, runID string) (*domain.RunReport, error)
	ListRuns(ctx context.Context) ([]*domain.RunReport, error)
	DeleteRun(ctx context.Context, runID string) error
}

// MetricsCollector records processing metrics
type MetricsCollector interface {
	RecordFlightSubmitted(airframe string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordStepExecuted(step, state string, duration time.Duration)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetActiveRuns(count int)
}
