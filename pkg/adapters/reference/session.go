package reference

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Session shares one reference database handle between concurrently running
// steps. Only one function holds the handle at a time.
type Session struct {
	db     *sqlx.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// NewSession wraps db
func NewSession(db *sqlx.DB, logger *zap.Logger) *Session {
	return &Session{db: db, logger: logger}
}

// Do runs fn with exclusive use of the database handle
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, db *sqlx.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, s.db)
}

// Close closes the underlying handle
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("closing reference database")
	return s.db.Close()
}
