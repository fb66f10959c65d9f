package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ApprovalRepository persists approvals.
//
// Save inserts when Version is 0 and otherwise updates only if the stored
// version still equals a.Version, returning ErrConcurrentModification when it
// does not. On success a.Version holds the new version.
type ApprovalRepository interface {
	Save(ctx context.Context, a *Approval) error
	GetByID(ctx context.Context, id uuid.UUID) (*Approval, error)
	// GetByDocumentID returns the most recently submitted approval of a document.
	GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*Approval, error)
	ListByStatus(ctx context.Context, status ApprovalStatus, limit int) ([]*Approval, error)
	// ListTimedOut returns in-progress approvals whose current step timed
	// out before now and still needs handling: auto-approve steps, and other
	// steps not yet escalated since the approval entered them. Oldest
	// deadline first.
	ListTimedOut(ctx context.Context, now time.Time, limit int) ([]*Approval, error)
	// CountAtStep counts in-progress approvals currently on stepID.
	CountAtStep(ctx context.Context, stepID uuid.UUID) (int, error)
	// AssignApprovers records who may decide the given step.
	AssignApprovers(ctx context.Context, approvalID, stepID uuid.UUID, approvers []uuid.UUID) error
	// ClearAssignees forgets every step assignment of an approval.
	ClearAssignees(ctx context.Context, approvalID uuid.UUID) error
	// Assignees returns the approvers recorded for a step.
	Assignees(ctx context.Context, approvalID, stepID uuid.UUID) ([]uuid.UUID, error)
	// ListPendingForApprover returns in-progress approvals whose current step
	// is assigned to approverID.
	ListPendingForApprover(ctx context.Context, approverID uuid.UUID, limit int) ([]*Approval, error)
}

// WorkflowRepository persists workflows together with their steps.
// Save follows the same version rules as ApprovalRepository.Save.
type WorkflowRepository interface {
	Save(ctx context.Context, w *Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error)
	GetByName(ctx context.Context, name string) (*Workflow, error)
	ListActive(ctx context.Context) ([]*Workflow, error)
}

// ActionRepository is the append-only audit trail.
type ActionRepository interface {
	Append(ctx context.Context, a *Action) error
	ListByApproval(ctx context.Context, approvalID uuid.UUID) ([]*Action, error)
	ListByApprover(ctx context.Context, approverID uuid.UUID, limit int) ([]*Action, error)
}

// EventSink receives drained events.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}

// DocumentReader provides the document projection.
type DocumentReader interface {
	GetDocumentView(ctx context.Context, documentID uuid.UUID) (DocumentView, error)
}

// Repositories groups the stores one unit of work operates on.
type Repositories struct {
	Approvals ApprovalRepository
	Workflows WorkflowRepository
	Actions   ActionRepository
	Events    EventSink
}

// Store hands out repositories, either standalone or bound to a transaction.
// Everything fn writes through repos commits or rolls back together.
type Store interface {
	Repositories() Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type actorKey struct{}

// WithActor attaches the acting user to ctx. Stored events record it as
// their creator.
func WithActor(ctx context.Context, actor uuid.UUID) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting user attached by WithActor.
func ActorFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
