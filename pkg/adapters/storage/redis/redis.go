package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const runKeyPrefix = "flightgraph:run:"

// RunStore implements RunStore using Redis JSON values with a TTL
type RunStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStore creates a new Redis run store. A zero ttl keeps reports forever.
func NewRunStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStore {
	return &RunStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun persists a run report, refreshing its TTL
func (s *RunStore) SaveRun(ctx context.Context, report *domain.RunReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("run report requires an id")
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	if err := s.client.Set(ctx, getRunKey(report.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}

	s.logger.Debug("run report saved",
		zap.String("run_id", report.ID),
		zap.String("status", string(report.Status)))

	return nil
}

// GetRun retrieves a run report
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.RunReport, error) {
	data, err := s.client.Get(ctx, getRunKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}

	var report domain.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run report: %w", err)
	}

	return &report, nil
}

// ListRuns returns every stored report, newest first. Reports that expire or
// fail to decode during the scan are skipped.
func (s *RunStore) ListRuns(ctx context.Context) ([]*domain.RunReport, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, runKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	reports := make([]*domain.RunReport, 0, len(keys))
	for _, key := range keys {
		report, err := s.GetRun(ctx, strings.TrimPrefix(key, runKeyPrefix))
		if err != nil {
			if !errors.Is(err, domain.ErrRunNotFound) {
				s.logger.Warn("skipping unreadable run report", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		reports = append(reports, report)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].SubmittedAt.After(reports[j].SubmittedAt)
	})
	return reports, nil
}

// DeleteRun deletes a run report
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, getRunKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete run report: %w", err)
	}

	s.logger.Debug("run report deleted", zap.String("run_id", runID))
	return nil
}

// getRunKey returns the Redis key for a run report
func getRunKey(runID string) string {
	return runKeyPrefix + runID
}
