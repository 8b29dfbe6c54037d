package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aescanero/flightgraph/internal/application/depgraph"
	"github.com/aescanero/flightgraph/internal/application/workers"
	"github.com/aescanero/flightgraph/pkg/adapters/reference"
	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/aescanero/flightgraph/pkg/steps"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}

// loadCatalog returns the built-in catalog, or the one described by path
func loadCatalog(path string) (*steps.Catalog, error) {
	if path == "" {
		return steps.DefaultCatalog(), nil
	}
	return steps.LoadCatalog(path, steps.Builtins())
}

// openReference opens the reference database session. It returns a nil
// session, not an error, when dsn is empty.
func openReference(ctx context.Context, driver, dsn string, logger *zap.Logger) (*reference.Session, error) {
	if dsn == "" {
		logger.Info("no reference database configured; steps needing it will be skipped")
		return nil, nil
	}
	db, err := reference.Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to reference database", zap.String("driver", driver))
	return reference.NewSession(db, logger), nil
}

// sessionOf keeps a missing session a nil interface
func sessionOf(s *reference.Session) domain.Session {
	if s == nil {
		return nil
	}
	return s
}

// submitterOf keeps a missing pool a nil interface; steps then run inline
func submitterOf(p *workers.Pool) depgraph.Submitter {
	if p == nil {
		return nil
	}
	return p
}

// readSubmissions reads one flight, or a {"flights": [...]} batch, from path.
// A path of "-" reads standard input.
func readSubmissions(path string, stdin io.Reader) ([]*domain.FlightSubmission, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read flights: %w", err)
	}

	var batch struct {
		Flights []*domain.FlightSubmission `json:"flights"`
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse flights: %w", err)
	}
	if len(batch.Flights) > 0 {
		return batch.Flights, nil
	}

	var sub domain.FlightSubmission
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		return nil, fmt.Errorf("parse flight: %w", err)
	}
	return []*domain.FlightSubmission{&sub}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
