package memory

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRunStore(t *testing.T) {
	store := NewInMemoryRunStore()
	ctx := context.Background()
	now := time.Now()

	older := &domain.RunReport{ID: "run-1", FlightID: "f1", Status: domain.RunStatusSuccess, SubmittedAt: now.Add(-time.Minute)}
	newer := &domain.RunReport{ID: "run-2", FlightID: "f2", Status: domain.RunStatusProcessing, SubmittedAt: now}

	require.NoError(t, store.SaveRun(ctx, older))
	require.NoError(t, store.SaveRun(ctx, newer))

	// stored values are copies
	newer.Status = domain.RunStatusError
	got, err := store.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusProcessing, got.Status)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	_, err = store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestInMemoryRunStore_RequiresID(t *testing.T) {
	store := NewInMemoryRunStore()
	assert.Error(t, store.SaveRun(context.Background(), &domain.RunReport{}))
	assert.Error(t, store.SaveRun(context.Background(), nil))
}
