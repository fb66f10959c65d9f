// Package audit implements the audit logging service.
//
// Audit logs are append-only compliance records. Hard-delete is NOT allowed.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

// Logger writes audit records to the database.
type Logger struct {
	db *sql.DB
}

// NewLogger creates a new audit Logger. db is usually a pgx pool opened
// through pgx/v5/stdlib.
func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// LogAction records an auditable action.
func (l *Logger) LogAction(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]any) error {
	var raw []byte
	if details != nil {
		var err error
		if raw, err = json.Marshal(details); err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, resource_type, resource_id, actor, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		generateAuditID(), action, resourceType, resourceID, actor, raw,
	)
	if err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", action),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// HandleEvent records a relayed domain event. The action is the lower-case
// event type, e.g. "approval_approved".
func (l *Logger) HandleEvent(ctx context.Context, event *domain.DomainEvent) error {
	var details map[string]any
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &details); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.EventType, err)
		}
	}
	if details == nil {
		details = map[string]any{}
	}
	details["event_id"] = event.EventID
	return l.LogAction(ctx, strings.ToLower(string(event.EventType)),
		event.AggregateType, event.AggregateID, event.CreatedBy, details)
}

// Register subscribes the logger to every event the engine emits.
func (l *Logger) Register(d *domain.EventDispatcher) {
	d.Register(l.HandleEvent, domain.AllEventTypes()...)
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("audit-%s", id.String())
}
