package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

// ApprovalReader is the part of the approval store the triggers need.
type ApprovalReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Approval, error)
	Assignees(ctx context.Context, approvalID, stepID uuid.UUID) ([]uuid.UUID, error)
}

// Triggers turns approval events into inbox notifications:
//  1. APPROVAL_PENDING: approvers of a newly entered step
//  2. APPROVAL_COMPLETED / APPROVAL_REJECTED / APPROVAL_CANCELLED: the submitter
//  3. CHANGES_REQUESTED: the submitter
//  4. STEP_TIMED_OUT: approvers of the step that ran out of time
//
// Lookup failures are returned so the relay retries; send failures are
// logged only, since a retry would duplicate the notifications that did go out.
type Triggers struct {
	sender    Sender
	approvals ApprovalReader
}

// NewTriggers creates a new notification trigger service.
func NewTriggers(sender Sender, approvals ApprovalReader) *Triggers {
	return &Triggers{sender: sender, approvals: approvals}
}

// Register subscribes the triggers to d.
func (t *Triggers) Register(d *domain.EventDispatcher) {
	d.Register(t.onSubmitted, domain.EventSubmittedForApproval)
	d.Register(t.onStepCompleted, domain.EventApprovalStepCompleted)
	d.Register(t.onWorkflowCompleted, domain.EventWorkflowCompleted)
	d.Register(t.onChangesRequested, domain.EventChangesRequested)
	d.Register(t.onTimeout, domain.EventApprovalTimeoutOccurred)
}

func (t *Triggers) onSubmitted(ctx context.Context, event *domain.DomainEvent) error {
	var e domain.SubmittedForApproval
	if err := event.DecodePayload(&e); err != nil {
		return err
	}
	t.notifyApprovers(ctx, e.ApprovalID, e.Approvers)
	return nil
}

func (t *Triggers) onStepCompleted(ctx context.Context, event *domain.DomainEvent) error {
	var e domain.ApprovalStepCompleted
	if err := event.DecodePayload(&e); err != nil {
		return err
	}
	if e.NextStepID == nil {
		return nil
	}
	approvers, err := t.approvals.Assignees(ctx, e.ApprovalID, *e.NextStepID)
	if err != nil {
		return fmt.Errorf("load approvers of step %s: %w", *e.NextStepID, err)
	}
	t.notifyApprovers(ctx, e.ApprovalID, approvers)
	return nil
}

func (t *Triggers) onWorkflowCompleted(ctx context.Context, event *domain.DomainEvent) error {
	var e domain.WorkflowCompleted
	if err := event.DecodePayload(&e); err != nil {
		return err
	}
	approval, err := t.approvals.GetByID(ctx, e.ApprovalID)
	if err != nil {
		return fmt.Errorf("load approval %s: %w", e.ApprovalID, err)
	}

	params := Params{
		RecipientID:  approval.SubmittedBy,
		ResourceType: resourceApproval,
		ResourceID:   e.ApprovalID.String(),
	}
	switch e.FinalStatus {
	case domain.ApprovalStatusApproved:
		params.Type = TypeApprovalCompleted
		params.Title = "Your document has been approved"
		params.Message = fmt.Sprintf("Document %s completed its approval workflow", e.DocumentID)
	case domain.ApprovalStatusRejected:
		params.Type = TypeApprovalRejected
		params.Title = "Your document has been rejected"
		params.Message = withReason(fmt.Sprintf("Document %s was rejected by %s", e.DocumentID, e.CompletedBy), e.Reason)
	case domain.ApprovalStatusCancelled:
		params.Type = TypeApprovalCancelled
		params.Title = "Approval cancelled"
		params.Message = withReason(fmt.Sprintf("The approval of document %s was cancelled", e.DocumentID), e.Reason)
	default:
		return nil
	}

	if err := t.sender.Send(ctx, params); err != nil {
		logger.Error("failed to send completion notification",
			zap.Stringer("approval_id", e.ApprovalID),
			zap.String("final_status", string(e.FinalStatus)),
			zap.Error(err),
		)
	}
	return nil
}

func (t *Triggers) onChangesRequested(ctx context.Context, event *domain.DomainEvent) error {
	var e domain.ChangesRequested
	if err := event.DecodePayload(&e); err != nil {
		return err
	}
	approval, err := t.approvals.GetByID(ctx, e.ApprovalID)
	if err != nil {
		return fmt.Errorf("load approval %s: %w", e.ApprovalID, err)
	}

	params := Params{
		RecipientID:  approval.SubmittedBy,
		Type:         TypeChangesRequested,
		Title:        "Changes requested",
		Message:      withReason(fmt.Sprintf("Approver %s requested changes to document %s", e.ApproverID, e.DocumentID), e.Comment),
		ResourceType: resourceApproval,
		ResourceID:   e.ApprovalID.String(),
	}
	if err := t.sender.Send(ctx, params); err != nil {
		logger.Error("failed to send CHANGES_REQUESTED notification",
			zap.Stringer("approval_id", e.ApprovalID),
			zap.Error(err),
		)
	}
	return nil
}

func (t *Triggers) onTimeout(ctx context.Context, event *domain.DomainEvent) error {
	var e domain.ApprovalTimeoutOccurred
	if err := event.DecodePayload(&e); err != nil {
		return err
	}
	approvers, err := t.approvals.Assignees(ctx, e.ApprovalID, e.StepID)
	if err != nil {
		return fmt.Errorf("load approvers of step %s: %w", e.StepID, err)
	}

	action := "was auto-approved"
	if e.EscalationRequired {
		action = "has been escalated"
	}
	params := Params{
		Type:         TypeStepTimedOut,
		Title:        "Approval step timed out",
		Message:      fmt.Sprintf("A step pending for more than %d hours %s", e.TimeoutHours, action),
		ResourceType: resourceApproval,
		ResourceID:   e.ApprovalID.String(),
	}
	if err := t.sender.SendToMany(ctx, approvers, params); err != nil {
		logger.Error("failed to send STEP_TIMED_OUT notifications",
			zap.Stringer("approval_id", e.ApprovalID),
			zap.Error(err),
		)
	}
	return nil
}

func (t *Triggers) notifyApprovers(ctx context.Context, approvalID uuid.UUID, approvers []uuid.UUID) {
	if len(approvers) == 0 {
		logger.Warn("no approvers to notify", zap.Stringer("approval_id", approvalID))
		return
	}

	params := Params{
		Type:         TypeApprovalPending,
		Title:        "Document pending your approval",
		Message:      fmt.Sprintf("Approval %s is waiting for your decision", approvalID),
		ResourceType: resourceApproval,
		ResourceID:   approvalID.String(),
	}
	if err := t.sender.SendToMany(ctx, approvers, params); err != nil {
		logger.Error("failed to send APPROVAL_PENDING notifications",
			zap.Stringer("approval_id", approvalID),
			zap.Int("approver_count", len(approvers)),
			zap.Error(err),
		)
	}
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + ": " + reason
}
