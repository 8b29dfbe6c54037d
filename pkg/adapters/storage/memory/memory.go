package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/flightgraph/pkg/domain"
)

// InMemoryRunStore implements RunStore using an in-memory map
type InMemoryRunStore struct {
	runs map[string]*domain.RunReport
	mu   sync.RWMutex
}

// NewInMemoryRunStore creates a new in-memory run store
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		runs: make(map[string]*domain.RunReport),
	}
}

// SaveRun stores a copy of the report
func (s *InMemoryRunStore) SaveRun(ctx context.Context, report *domain.RunReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("run report requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// copy to avoid later mutations
	stored := *report
	s.runs[report.ID] = &stored
	return nil
}

// GetRun returns a copy of the report
func (s *InMemoryRunStore) GetRun(ctx context.Context, runID string) (*domain.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}

	out := *report
	return &out, nil
}

// ListRuns returns every report, newest first
func (s *InMemoryRunStore) ListRuns(ctx context.Context) ([]*domain.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]*domain.RunReport, 0, len(s.runs))
	for _, r := range s.runs {
		out := *r
		reports = append(reports, &out)
	}
	sortNewestFirst(reports)
	return reports, nil
}

// DeleteRun removes a report
func (s *InMemoryRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}

func sortNewestFirst(reports []*domain.RunReport) {
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].SubmittedAt.Equal(reports[j].SubmittedAt) {
			return reports[i].ID < reports[j].ID
		}
		return reports[i].SubmittedAt.After(reports[j].SubmittedAt)
	})
}
