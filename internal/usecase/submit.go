package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	apperrors "github.com/s35241607/ticket-system/internal/pkg/errors"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/pkg/tracing"
)

// SubmitDocumentCommand starts the approval of a document. Without a
// WorkflowID the first active workflow applicable to the document is used.
type SubmitDocumentCommand struct {
	DocumentID  uuid.UUID `validate:"required"`
	SubmittedBy uuid.UUID `validate:"required"`
	WorkflowID  *uuid.UUID
}

// SubmitDocument creates an approval and enters its first step.
func (e *Engine) SubmitDocument(ctx context.Context, cmd SubmitDocumentCommand) (*domain.Approval, error) {
	if err := e.check(domain.EntityApproval, cmd); err != nil {
		return nil, err
	}
	doc, err := e.loadDocument(ctx, cmd.DocumentID)
	if err != nil {
		return nil, err
	}

	var approval *domain.Approval
	err = e.run(ctx, "submit", cmd.SubmittedBy, func(ctx context.Context, repos domain.Repositories) error {
		if err := ensureNoOpenApproval(ctx, repos, doc.ID); err != nil {
			return err
		}
		wf, err := e.selectWorkflow(ctx, repos, doc, cmd.WorkflowID)
		if err != nil {
			return err
		}

		a, err := domain.NewApproval(doc.ID, wf.ID, cmd.SubmittedBy)
		if err != nil {
			return err
		}
		if err := e.enterFirstStep(ctx, repos, a, wf, doc); err != nil {
			return err
		}
		approval = a
		return nil
	}, tracing.DocumentIDKey.String(cmd.DocumentID.String()))
	if err != nil {
		return nil, err
	}

	logger.Info("Document submitted for approval",
		zap.String("approval_id", approval.ID.String()),
		zap.String("document_id", approval.DocumentID.String()),
		zap.String("workflow_id", approval.WorkflowID.String()),
	)
	return approval, nil
}

// enterFirstStep submits a into wf, persists it and assigns the approvers.
func (e *Engine) enterFirstStep(ctx context.Context, repos domain.Repositories, a *domain.Approval, wf *domain.Workflow, doc domain.DocumentView) error {
	first := wf.FirstStep()
	if first == nil {
		return &domain.ValidationError{Entity: domain.EntityWorkflow, Message: fmt.Sprintf("workflow %s has no steps", wf.ID)}
	}
	approvers, err := e.resolveApprovers(ctx, first, doc)
	if err != nil {
		return err
	}
	if err := a.Submit(wf, approvers); err != nil {
		return err
	}
	if err := repos.Approvals.Save(ctx, a); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return apperrors.ErrApprovalAlreadyOpen(a.DocumentID.String())
		}
		return fmt.Errorf("save approval %s: %w", a.ID, err)
	}
	if err := repos.Approvals.AssignApprovers(ctx, a.ID, first.ID, approvers); err != nil {
		return fmt.Errorf("assign approvers of step %s: %w", first.ID, err)
	}
	return publish(ctx, repos, a)
}

// resolveApprovers resolves step for doc and fails when nobody can decide it.
func (e *Engine) resolveApprovers(ctx context.Context, step *domain.Step, doc domain.DocumentView) ([]uuid.UUID, error) {
	approvers, err := step.ResolveApprovers(ctx, doc, e.resolvers)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		return nil, apperrors.ErrNoApproversResolved(step.ID.String())
	}
	return approvers, nil
}

func (e *Engine) selectWorkflow(ctx context.Context, repos domain.Repositories, doc domain.DocumentView, explicit *uuid.UUID) (*domain.Workflow, error) {
	if explicit != nil {
		return loadWorkflow(ctx, repos, *explicit)
	}
	active, err := repos.Workflows.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	for _, wf := range active {
		if wf.IsApplicableTo(doc) {
			return wf, nil
		}
	}
	return nil, apperrors.ErrNoApplicableWorkflow(doc.ID.String())
}

func ensureNoOpenApproval(ctx context.Context, repos domain.Repositories, documentID uuid.UUID) error {
	existing, err := repos.Approvals.GetByDocumentID(ctx, documentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load approval of document %s: %w", documentID, err)
	case existing.IsCompleted():
		return nil
	}
	return apperrors.ErrApprovalAlreadyOpen(documentID.String())
}
