package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FlightSubmitResponse represents a flight submission response
type FlightSubmitResponse struct {
	RunID       string           `json:"run_id"`
	FlightID    string           `json:"flight_id"`
	Status      domain.RunStatus `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// BatchRequest represents a batch processing request
type BatchRequest struct {
	Flights []*domain.FlightSubmission `json:"flights" binding:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{
		"orchestrator": "ok",
	}
	status := http.StatusOK
	healthy := "healthy"

	if s.health != nil {
		pool := s.health.GetStatus()
		checks["workers"] = pool
		if !pool.Healthy {
			status = http.StatusServiceUnavailable
			healthy = "unhealthy"
		}
	}

	c.JSON(status, gin.H{
		"status":      healthy,
		"timestamp":   time.Now().UTC(),
		"active_runs": s.orchestrator.ActiveRuns(),
		"checks":      checks,
	})
}

// handleSubmitFlight handles flight submission
func (s *Server) handleSubmitFlight(c *gin.Context) {
	var sub domain.FlightSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		s.logger.Warn("invalid request", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	runID, err := s.orchestrator.Submit(c.Request.Context(), &sub)
	if err != nil {
		s.logger.Error("failed to submit flight", zap.Error(err))
		abortWithError(c, http.StatusUnprocessableEntity, "SUBMISSION_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, FlightSubmitResponse{
		RunID:       runID,
		FlightID:    sub.FlightID,
		Status:      domain.RunStatusProcessing,
		SubmittedAt: time.Now().UTC(),
	})
}

// handleProcessBatch processes many flights and waits for all of them
func (s *Server) handleProcessBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	summary, err := s.orchestrator.ProcessBatch(c.Request.Context(), req.Flights)
	if err != nil {
		s.logger.Error("batch processing interrupted", zap.Error(err))
		abortWithError(c, http.StatusServiceUnavailable, "BATCH_INTERRUPTED", err.Error())
		return
	}

	c.JSON(http.StatusOK, summary)
}

// handlePlanFlight returns the step order for a flight without running it
func (s *Server) handlePlanFlight(c *gin.Context) {
	var sub domain.FlightSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	plan, err := s.orchestrator.Plan(&sub)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, "PLAN_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, plan)
}

// handleListRuns handles listing runs, newest first
func (s *Server) handleListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "offset must not be negative")
		return
	}

	runs, err := s.orchestrator.ListRuns(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to retrieve runs")
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := runs[:0]
		for _, r := range runs {
			if string(r.Status) == status {
				filtered = append(filtered, r)
			}
		}
		runs = filtered
	}

	total := len(runs)
	page := []*domain.RunReport{}
	if offset < total {
		page = runs[offset:min(offset+limit, total)]
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":   page,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetRun handles getting a run report
func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	report, err := s.orchestrator.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Run not found")
			return
		}
		s.logger.Error("failed to get run", zap.String("run_id", runID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to retrieve run")
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		abortWithError(c, http.StatusConflict, "CANCELLATION_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       "cancelling",
		"cancelled_at": time.Now().UTC(),
	})
}
