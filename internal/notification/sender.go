// Package notification writes approval notifications to the in-app inbox.
//
// Notifications are produced from relayed domain events, so a delivery
// failure never rolls back the approval decision that caused it.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/repository/postgres"
)

// Notification types stored in notifications.type.
const (
	TypeApprovalPending   = "APPROVAL_PENDING"
	TypeApprovalCompleted = "APPROVAL_COMPLETED"
	TypeApprovalRejected  = "APPROVAL_REJECTED"
	TypeApprovalCancelled = "APPROVAL_CANCELLED"
	TypeChangesRequested  = "CHANGES_REQUESTED"
	TypeStepTimedOut      = "STEP_TIMED_OUT"
)

const resourceApproval = "approval"

// Params holds the required fields for creating a notification.
type Params struct {
	RecipientID  uuid.UUID
	Type         string
	Title        string
	Message      string
	ResourceType string
	ResourceID   string
}

// Sender defines the interface for sending notifications.
type Sender interface {
	// Send creates a notification for a single recipient.
	Send(ctx context.Context, params Params) error

	// SendToMany creates notifications for multiple recipients.
	// Best-effort: logs errors but does not abort on individual failures.
	SendToMany(ctx context.Context, recipientIDs []uuid.UUID, params Params) error
}

// Inbox persists notifications.
type Inbox interface {
	Insert(ctx context.Context, n postgres.Notification) error
}

// InboxSender writes notifications to the database inbox.
type InboxSender struct {
	inbox Inbox
	now   func() time.Time
}

// NewInboxSender creates a new inbox sender.
func NewInboxSender(inbox Inbox) *InboxSender {
	return &InboxSender{inbox: inbox, now: time.Now}
}

// Send stores a single notification.
func (s *InboxSender) Send(ctx context.Context, params Params) error {
	if err := validateParams(params); err != nil {
		return fmt.Errorf("notification params invalid: %w", err)
	}

	err := s.inbox.Insert(ctx, postgres.Notification{
		ID:           uuid.New(),
		UserID:       params.RecipientID,
		Type:         params.Type,
		Title:        params.Title,
		Message:      params.Message,
		ResourceType: params.ResourceType,
		ResourceID:   params.ResourceID,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create notification for user %s: %w", params.RecipientID, err)
	}

	logger.Debug("notification sent",
		zap.Stringer("recipient", params.RecipientID),
		zap.String("type", params.Type),
	)
	return nil
}

// SendToMany creates notifications for multiple recipients (best-effort).
func (s *InboxSender) SendToMany(ctx context.Context, recipientIDs []uuid.UUID, params Params) error {
	if len(recipientIDs) == 0 {
		return nil
	}

	var failCount int
	for _, recipientID := range recipientIDs {
		p := params
		p.RecipientID = recipientID
		if err := s.Send(ctx, p); err != nil {
			failCount++
			logger.Error("notification delivery failed",
				zap.Stringer("recipient", recipientID),
				zap.String("type", params.Type),
				zap.Error(err),
			)
		}
	}

	if failCount > 0 {
		return fmt.Errorf("notification delivery failed for %d/%d recipients", failCount, len(recipientIDs))
	}
	return nil
}

var _ Sender = (*InboxSender)(nil)

func validateParams(p Params) error {
	switch {
	case p.RecipientID == uuid.Nil:
		return errors.New("recipient_id is required")
	case p.Type == "":
		return errors.New("type is required")
	case p.Title == "":
		return errors.New("title is required")
	case p.Message == "":
		return errors.New("message is required")
	}
	return nil
}
