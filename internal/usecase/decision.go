package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	apperrors "github.com/s35241607/ticket-system/internal/pkg/errors"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/pkg/tracing"
)

// DecisionCommand records an approver's decision on the current step.
// A zero StepID means the current step.
type DecisionCommand struct {
	ApprovalID uuid.UUID `validate:"required"`
	StepID     uuid.UUID
	ApproverID uuid.UUID         `validate:"required"`
	Decision   domain.ActionType `validate:"required,oneof=approve reject request_changes"`
	Comment    string            `validate:"required,max=2000"`
}

// DecisionResult reports the outcome of ProcessDecision.
type DecisionResult struct {
	Approval *domain.Approval
	Action   *domain.Action
	// Advanced is true when the decision moved the approval past its step.
	Advanced bool
}

// ProcessDecision applies an approve, reject or request_changes decision.
// Approving a parallel step advances only once enough distinct approvers
// approved it; a sequential step advances on the first approval.
func (e *Engine) ProcessDecision(ctx context.Context, cmd DecisionCommand) (*DecisionResult, error) {
	if err := e.check(domain.EntityAction, cmd); err != nil {
		return nil, err
	}

	var result DecisionResult
	err := e.run(ctx, "decide", cmd.ApproverID, func(ctx context.Context, repos domain.Repositories) error {
		a, err := loadApproval(ctx, repos, cmd.ApprovalID)
		if err != nil {
			return err
		}
		if !a.IsInProgress() {
			return &domain.StateError{From: a.Status, Operation: string(cmd.Decision)}
		}
		wf, err := loadWorkflow(ctx, repos, a.WorkflowID)
		if err != nil {
			return err
		}
		step, err := currentStep(a, wf)
		if err != nil {
			return err
		}
		stepID := cmd.StepID
		if stepID == uuid.Nil {
			stepID = step.ID
		}
		doc, err := e.loadDocument(ctx, a.DocumentID)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, repos, a, step, doc, cmd.ApproverID); err != nil {
			return err
		}

		action, advanced, err := e.decide(ctx, repos, a, wf, step, doc, stepID, cmd)
		if err != nil {
			return err
		}
		if err := repos.Approvals.Save(ctx, a); err != nil {
			return fmt.Errorf("save approval %s: %w", a.ID, err)
		}
		if err := repos.Actions.Append(ctx, action); err != nil {
			return fmt.Errorf("append action %s: %w", action.ID, err)
		}
		if err := publish(ctx, repos, a, action); err != nil {
			return err
		}
		result = DecisionResult{Approval: a, Action: action, Advanced: advanced}
		return nil
	},
		tracing.ApprovalIDKey.String(cmd.ApprovalID.String()),
		tracing.ApproverIDKey.String(cmd.ApproverID.String()),
		tracing.ActionKey.String(string(cmd.Decision)),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("Approval decision recorded",
		zap.String("approval_id", result.Approval.ID.String()),
		zap.String("decision", string(cmd.Decision)),
		zap.String("status", string(result.Approval.Status)),
		zap.Bool("advanced", result.Advanced),
	)
	return &result, nil
}

func (e *Engine) decide(
	ctx context.Context,
	repos domain.Repositories,
	a *domain.Approval,
	wf *domain.Workflow,
	step *domain.Step,
	doc domain.DocumentView,
	stepID uuid.UUID,
	cmd DecisionCommand,
) (*domain.Action, bool, error) {
	switch cmd.Decision {
	case domain.ActionTypeReject:
		if err := a.Reject(stepID, cmd.ApproverID, cmd.Comment); err != nil {
			return nil, false, err
		}
		action, err := domain.NewRejectAction(a.ID, stepID, cmd.ApproverID, cmd.Comment, nil)
		return action, false, err

	case domain.ActionTypeRequestChanges:
		if err := a.RequestChanges(stepID, cmd.ApproverID, cmd.Comment); err != nil {
			return nil, false, err
		}
		action, err := domain.NewRequestChangesAction(a.ID, stepID, cmd.ApproverID, cmd.Comment, nil)
		return action, false, err
	}

	approvedBy, err := approversThisRound(ctx, repos, a, step.ID)
	if err != nil {
		return nil, false, err
	}
	if slices.Contains(approvedBy, cmd.ApproverID) {
		return nil, false, &domain.ValidationError{
			Entity:  domain.EntityAction,
			Message: fmt.Sprintf("approver %s already approved step %s", cmd.ApproverID, step.ID),
		}
	}
	if err := a.ApproveStep(stepID, cmd.ApproverID, cmd.Comment); err != nil {
		return nil, false, err
	}
	action, err := domain.NewApproveAction(a.ID, stepID, cmd.ApproverID, cmd.Comment, nil)
	if err != nil {
		return nil, false, err
	}

	approvedBy = append(approvedBy, cmd.ApproverID)
	satisfied, err := stepSatisfied(ctx, repos, a, step, len(approvedBy))
	if err != nil || !satisfied {
		return action, false, err
	}
	if err := e.advance(ctx, repos, a, wf, step, doc); err != nil {
		return nil, false, err
	}
	return action, true, nil
}

// stepSatisfied reports whether approvals approvals complete step. A
// parallel step never requires more approvals than it has assignees.
func stepSatisfied(ctx context.Context, repos domain.Repositories, a *domain.Approval, step *domain.Step, approvals int) (bool, error) {
	if step.IsSequential() {
		return true, nil
	}
	required := step.RequiredApproverCount()
	assignees, err := repos.Approvals.Assignees(ctx, a.ID, step.ID)
	if err != nil {
		return false, fmt.Errorf("load approvers of step %s: %w", step.ID, err)
	}
	if len(assignees) > 0 && required > len(assignees) {
		required = len(assignees)
	}
	return approvals >= required, nil
}

// advance moves a to the step after step, or completes it after the last one.
func (e *Engine) advance(ctx context.Context, repos domain.Repositories, a *domain.Approval, wf *domain.Workflow, step *domain.Step, doc domain.DocumentView) error {
	next := wf.NextStep(step.ID)
	if next == nil {
		return a.ProgressToNextStep(nil)
	}
	approvers, err := e.resolveApprovers(ctx, next, doc)
	if err != nil {
		return err
	}
	nextID := next.ID
	if err := a.ProgressToNextStep(&nextID); err != nil {
		return err
	}
	if err := repos.Approvals.AssignApprovers(ctx, a.ID, next.ID, approvers); err != nil {
		return fmt.Errorf("assign approvers of step %s: %w", next.ID, err)
	}
	return nil
}

// approversThisRound returns the distinct users who approved stepID since
// the approval last entered it.
func approversThisRound(ctx context.Context, repos domain.Repositories, a *domain.Approval, stepID uuid.UUID) ([]uuid.UUID, error) {
	actions, err := repos.Actions.ListByApproval(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list actions of approval %s: %w", a.ID, err)
	}
	since := a.TimeoutReference()
	var out []uuid.UUID
	for _, act := range actions {
		if act.StepID != stepID || act.CreatedAt.Before(since) {
			continue
		}
		if act.Type != domain.ActionTypeApprove && act.Type != domain.ActionTypeAutoApprove {
			continue
		}
		if !slices.Contains(out, act.ApproverID) {
			out = append(out, act.ApproverID)
		}
	}
	return out, nil
}

// authorize accepts assigned approvers (including escalation targets) and
// anyone the step currently resolves to.
func (e *Engine) authorize(ctx context.Context, repos domain.Repositories, a *domain.Approval, step *domain.Step, doc domain.DocumentView, userID uuid.UUID) error {
	assignees, err := repos.Approvals.Assignees(ctx, a.ID, step.ID)
	if err != nil {
		return fmt.Errorf("load approvers of step %s: %w", step.ID, err)
	}
	if slices.Contains(assignees, userID) {
		return nil
	}
	ok, err := step.CanApprove(ctx, userID, doc, e.resolvers)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrApproverNotAuthorized(userID.String())
	}
	return nil
}

// CancelCommand cancels an open approval.
type CancelCommand struct {
	ApprovalID  uuid.UUID `validate:"required"`
	CancelledBy uuid.UUID `validate:"required"`
	Reason      string    `validate:"max=2000"`
}

// Cancel ends an open approval as cancelled.
func (e *Engine) Cancel(ctx context.Context, cmd CancelCommand) (*domain.Approval, error) {
	if err := e.check(domain.EntityApproval, cmd); err != nil {
		return nil, err
	}

	var approval *domain.Approval
	err := e.run(ctx, "cancel", cmd.CancelledBy, func(ctx context.Context, repos domain.Repositories) error {
		a, err := loadApproval(ctx, repos, cmd.ApprovalID)
		if err != nil {
			return err
		}
		if err := a.Cancel(cmd.CancelledBy, cmd.Reason); err != nil {
			return err
		}
		if err := repos.Approvals.Save(ctx, a); err != nil {
			return fmt.Errorf("save approval %s: %w", a.ID, err)
		}
		approval = a
		return publish(ctx, repos, a)
	}, tracing.ApprovalIDKey.String(cmd.ApprovalID.String()))
	if err != nil {
		return nil, err
	}

	logger.Info("Approval cancelled",
		zap.String("approval_id", approval.ID.String()),
		zap.String("cancelled_by", cmd.CancelledBy.String()),
	)
	return approval, nil
}

// ResubmitCommand sends a revised document back into approval. A nil
// WorkflowID keeps the current workflow.
type ResubmitCommand struct {
	ApprovalID  uuid.UUID `validate:"required"`
	SubmittedBy uuid.UUID `validate:"required"`
	WorkflowID  *uuid.UUID
}

// Resubmit resets a requires_changes approval and submits it again from the
// first step of its (possibly new) workflow.
func (e *Engine) Resubmit(ctx context.Context, cmd ResubmitCommand) (*domain.Approval, error) {
	if err := e.check(domain.EntityApproval, cmd); err != nil {
		return nil, err
	}

	var approval *domain.Approval
	err := e.run(ctx, "resubmit", cmd.SubmittedBy, func(ctx context.Context, repos domain.Repositories) error {
		a, err := loadApproval(ctx, repos, cmd.ApprovalID)
		if err != nil {
			return err
		}
		if err := a.ResetForResubmission(cmd.WorkflowID); err != nil {
			return err
		}
		// Approvers and escalation targets of the previous round lose their say.
		if err := repos.Approvals.ClearAssignees(ctx, a.ID); err != nil {
			return err
		}
		wf, err := loadWorkflow(ctx, repos, a.WorkflowID)
		if err != nil {
			return err
		}
		doc, err := e.loadDocument(ctx, a.DocumentID)
		if err != nil {
			return err
		}
		if err := e.enterFirstStep(ctx, repos, a, wf, doc); err != nil {
			return err
		}
		approval = a
		return nil
	}, tracing.ApprovalIDKey.String(cmd.ApprovalID.String()))
	if err != nil {
		return nil, err
	}

	logger.Info("Approval resubmitted",
		zap.String("approval_id", approval.ID.String()),
		zap.String("workflow_id", approval.WorkflowID.String()),
	)
	return approval, nil
}
