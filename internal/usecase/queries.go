package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/s35241607/ticket-system/internal/domain"
)

const defaultListLimit = 50

// GetApproval returns one approval.
func (e *Engine) GetApproval(ctx context.Context, id uuid.UUID) (*domain.Approval, error) {
	return loadApproval(ctx, e.store.Repositories(), id)
}

// ApprovalForDocument returns the latest approval of a document.
func (e *Engine) ApprovalForDocument(ctx context.Context, documentID uuid.UUID) (*domain.Approval, error) {
	a, err := e.store.Repositories().Approvals.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load approval of document %s: %w", documentID, err)
	}
	return a, nil
}

// PendingForUser lists in-progress approvals waiting on userID.
func (e *Engine) PendingForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Approval, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	out, err := e.store.Repositories().Approvals.ListPendingForApprover(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list approvals pending for %s: %w", userID, err)
	}
	return out, nil
}

// HistoryEntry pairs an action with its human-readable summary.
type HistoryEntry struct {
	Action  *domain.Action
	Summary string
}

// History returns the actions of an approval in the order they happened.
func (e *Engine) History(ctx context.Context, approvalID uuid.UUID) ([]HistoryEntry, error) {
	actions, err := e.store.Repositories().Actions.ListByApproval(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("list actions of approval %s: %w", approvalID, err)
	}
	out := make([]HistoryEntry, 0, len(actions))
	for _, a := range actions {
		out = append(out, HistoryEntry{Action: a, Summary: a.Summary()})
	}
	return out, nil
}

// DecisionsBy lists the most recent actions taken by approverID.
func (e *Engine) DecisionsBy(ctx context.Context, approverID uuid.UUID, limit int) ([]*domain.Action, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	out, err := e.store.Repositories().Actions.ListByApprover(ctx, approverID, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions of approver %s: %w", approverID, err)
	}
	return out, nil
}
