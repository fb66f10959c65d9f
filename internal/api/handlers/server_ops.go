package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	apperrors "github.com/s35241607/ticket-system/internal/pkg/errors"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/pkg/worker"
	"github.com/s35241607/ticket-system/internal/usecase"
)

// SweepResponse reports a manually triggered sweep.
type SweepResponse struct {
	Scanned      int `json:"scanned"`
	AutoApproved int `json:"auto_approved"`
	Escalated    int `json:"escalated"`
	Failed       int `json:"failed"`
}

// EventResponse is one stored domain event.
type EventResponse struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Status    string         `json:"status"`
	CreatedBy string         `json:"created_by"`
	CreatedAt string         `json:"created_at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

var knownAggregates = map[string]bool{
	domain.AggregateApproval: true,
	domain.AggregateWorkflow: true,
	domain.AggregateStep:     true,
	domain.AggregateAction:   true,
}

// GetPools handles GET /ops/pools.
func (s *Server) GetPools(c *gin.Context) {
	if s.pools == nil {
		_ = c.Error(apperrors.New(apperrors.CodeUnavailable, "worker pools are not configured", http.StatusServiceUnavailable))
		return
	}
	c.JSON(http.StatusOK, s.pools.Metrics())
}

// TriggerSweep handles POST /ops/timeouts/sweep. With ?async=true the sweep
// runs detached on the general pool and the handler answers 202 at once.
func (s *Server) TriggerSweep(c *gin.Context) {
	if s.sweeper == nil {
		_ = c.Error(apperrors.New(apperrors.CodeUnavailable, "timeout sweep is not configured", http.StatusServiceUnavailable))
		return
	}
	if c.Query("async") == "true" && s.pools != nil {
		err := s.pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
			res, err := s.sweeper.SweepTimeouts(ctx)
			if err != nil {
				logger.Error("detached timeout sweep failed", zap.Error(err))
				return
			}
			logSweep(res)
		})
		if err != nil {
			_ = c.Error(apperrors.Unavailable(err, "worker pool is saturated"))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}

	res, err := s.sweeper.SweepTimeouts(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.FromDomain(err))
		return
	}
	logSweep(res)
	c.JSON(http.StatusOK, SweepResponse{
		Scanned:      res.Scanned,
		AutoApproved: res.AutoApproved,
		Escalated:    res.Escalated,
		Failed:       res.Failed,
	})
}

func logSweep(res usecase.SweepResult) {
	logger.Info("manual timeout sweep",
		zap.Int("scanned", res.Scanned),
		zap.Int("auto_approved", res.AutoApproved),
		zap.Int("escalated", res.Escalated),
		zap.Int("failed", res.Failed),
	)
}

// ListAggregateEvents handles GET /ops/events/:aggregate_type/:aggregate_id.
func (s *Server) ListAggregateEvents(c *gin.Context) {
	if s.events == nil {
		_ = c.Error(apperrors.New(apperrors.CodeUnavailable, "event store is not configured", http.StatusServiceUnavailable))
		return
	}
	aggregateType := c.Param("aggregate_type")
	if !knownAggregates[aggregateType] {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "unknown aggregate type").
			WithParams(map[string]interface{}{"aggregate_type": aggregateType}))
		return
	}

	events, err := s.events.ListByAggregate(c.Request.Context(), aggregateType, c.Param("aggregate_id"))
	if err != nil {
		_ = c.Error(apperrors.FromDomain(err))
		return
	}
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		item := EventResponse{
			EventID:   e.EventID,
			EventType: string(e.EventType),
			Status:    string(e.Status),
			CreatedBy: e.CreatedBy,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
		var payload map[string]any
		if err := e.DecodePayload(&payload); err == nil {
			item.Payload = payload
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}
