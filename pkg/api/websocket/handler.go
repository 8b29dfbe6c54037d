package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/aescanero/flightgraph/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RunLookup finds stored run reports
type RunLookup interface {
	GetRun(ctx context.Context, runID string) (*domain.RunReport, error)
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	runs     RunLookup
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler. runs may be nil; when set, a
// stream for a run that already finished sends its report and closes.
func NewHandler(eventBus ports.EventBus, runs RunLookup, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		runs:     runs,
		logger:   logger,
	}
}

// HandleRunStream streams the run and step events of one run. The stream
// closes after the run completes or fails.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	logger := h.logger.With(zap.String("run_id", runID))
	logger.Info("WebSocket connection established", zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the client never sends; reading detects when it goes away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	eventChan := make(chan domain.Event, 64)
	h.subscribeToEvents(ctx, runID, eventChan)

	if h.runs != nil {
		if report, err := h.runs.GetRun(ctx, runID); err == nil && report.Status.IsTerminal() {
			_ = h.write(conn, finalEvent(report))
			h.close(conn)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			if err := h.write(conn, event); err != nil {
				logger.Warn("failed to write message", zap.Error(err))
				return
			}
			if isFinal(event) {
				h.close(conn)
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, event domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(event)
}

func (h *Handler) close(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func isFinal(event domain.Event) bool {
	return event.Type == domain.EventTypeRunCompleted || event.Type == domain.EventTypeRunFailed
}

// finalEvent describes a stored report the way the run's last event did
func finalEvent(report *domain.RunReport) domain.Event {
	eventType := domain.EventTypeRunCompleted
	if report.Status == domain.RunStatusError {
		eventType = domain.EventTypeRunFailed
	}
	event := domain.Event{
		ID:       report.ID,
		Type:     eventType,
		RunID:    report.ID,
		FlightID: report.FlightID,
		Data: map[string]any{
			"status":   report.Status,
			"errors":   len(report.Errors),
			"warnings": len(report.Warnings),
		},
	}
	if report.CompletedAt != nil {
		event.Timestamp = *report.CompletedAt
	}
	return event
}

// subscribeToEvents forwards the run's events to ch until ctx is cancelled
func (h *Handler) subscribeToEvents(ctx context.Context, runID string, ch chan<- domain.Event) {
	eventHandler := func(_ context.Context, event domain.Event) error {
		if event.RunID != runID {
			return nil
		}

		// the final event closes the stream, so it waits for room
		if isFinal(event) {
			select {
			case ch <- event:
			case <-ctx.Done():
			}
			return nil
		}

		// Send to channel (non-blocking)
		select {
		case ch <- event:
		case <-ctx.Done():
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	for _, topic := range []string{domain.TopicRuns, domain.TopicSteps} {
		if err := h.eventBus.Subscribe(ctx, topic, eventHandler); err != nil {
			h.logger.Error("failed to subscribe to events",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}
