package reference

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InsertAirports(context.Background(), db,
		Airport{Code: "ROC", Name: "Greater Rochester International", Latitude: 43.1189, Longitude: -77.6724},
		Airport{Code: "BUF", Name: "Buffalo Niagara International", Latitude: 42.9405, Longitude: -78.7322},
		Airport{Code: "GFK", Name: "Grand Forks International", Latitude: 47.9493, Longitude: -97.1761},
	))
	return db
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestNearestAirport(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	airport, dist, err := NearestAirport(ctx, db, 43.12, -77.67, 30000)
	require.NoError(t, err)
	assert.Equal(t, "ROC", airport.Code)
	assert.Less(t, dist, 1000.0)

	airport, _, err = NearestAirport(ctx, db, 42.95, -78.70, 30000)
	require.NoError(t, err)
	assert.Equal(t, "BUF", airport.Code)
}

func TestNearestAirport_NoneInRange(t *testing.T) {
	db := openTestDB(t)

	_, _, err := NearestAirport(context.Background(), db, 40.0, -100.0, 30000)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0, Distance(43, -77, 43, -77), 1e-6)
	// one degree of latitude is roughly 60 nautical miles
	assert.InDelta(t, 60*6076.12, Distance(43, -77, 44, -77), 1500)
}

func TestSession_SerialisesAccess(t *testing.T) {
	db := openTestDB(t)
	session := NewSession(db, zap.NewNop())

	var inside, overlap atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := session.Do(context.Background(), func(ctx context.Context, db *sqlx.DB) error {
				if inside.Add(1) > 1 {
					overlap.Add(1)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlap.Load())
}

func TestSession_CancelledContext(t *testing.T) {
	session := NewSession(openTestDB(t), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := session.Do(ctx, func(context.Context, *sqlx.DB) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
