package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/pkg/tracing"
	"github.com/s35241607/ticket-system/internal/pkg/worker"
)

// EscalateCommand hands the current step of an approval to another user.
// A nil EscalateTo lets the escalator choose the target.
type EscalateCommand struct {
	ApprovalID  uuid.UUID `validate:"required"`
	EscalatedBy uuid.UUID `validate:"required"`
	EscalateTo  *uuid.UUID
	Reason      string `validate:"required,max=2000"`
}

// Escalate records an escalation of the current step and makes the target
// an approver of it. The approval itself does not change state.
func (e *Engine) Escalate(ctx context.Context, cmd EscalateCommand) (*domain.Action, error) {
	if err := e.check(domain.EntityAction, cmd); err != nil {
		return nil, err
	}

	var action *domain.Action
	err := e.run(ctx, "escalate", cmd.EscalatedBy, func(ctx context.Context, repos domain.Repositories) error {
		a, err := loadApproval(ctx, repos, cmd.ApprovalID)
		if err != nil {
			return err
		}
		if !a.IsInProgress() {
			return &domain.StateError{From: a.Status, Operation: string(domain.ActionTypeEscalate)}
		}
		wf, err := loadWorkflow(ctx, repos, a.WorkflowID)
		if err != nil {
			return err
		}
		step, err := currentStep(a, wf)
		if err != nil {
			return err
		}
		action, err = e.escalate(ctx, repos, a, step, cmd.EscalatedBy, cmd.EscalateTo, cmd.Reason)
		return err
	}, tracing.ApprovalIDKey.String(cmd.ApprovalID.String()))
	if err != nil {
		return nil, err
	}

	target, _ := action.EscalatedTo()
	logger.Info("Approval step escalated",
		zap.String("approval_id", cmd.ApprovalID.String()),
		zap.String("step_id", action.StepID.String()),
		zap.String("escalated_to", target.String()),
	)
	return action, nil
}

func (e *Engine) escalate(
	ctx context.Context,
	repos domain.Repositories,
	a *domain.Approval,
	step *domain.Step,
	by uuid.UUID,
	to *uuid.UUID,
	reason string,
) (*domain.Action, error) {
	assignees, err := repos.Approvals.Assignees(ctx, a.ID, step.ID)
	if err != nil {
		return nil, fmt.Errorf("load approvers of step %s: %w", step.ID, err)
	}

	var target uuid.UUID
	if to != nil {
		target = *to
	} else {
		if e.escalator == nil {
			return nil, &domain.ValidationError{Entity: domain.EntityAction, Message: "escalation must specify a target"}
		}
		if target, err = e.escalator.EscalationTarget(ctx, assignees); err != nil {
			return nil, fmt.Errorf("find escalation target for step %s: %w", step.ID, err)
		}
	}

	action, err := domain.NewEscalateAction(a.ID, step.ID, by, target, reason, nil)
	if err != nil {
		return nil, err
	}
	if err := repos.Actions.Append(ctx, action); err != nil {
		return nil, fmt.Errorf("append action %s: %w", action.ID, err)
	}
	if err := repos.Approvals.AssignApprovers(ctx, a.ID, step.ID, []uuid.UUID{target}); err != nil {
		return nil, fmt.Errorf("assign escalation target %s: %w", target, err)
	}
	return action, publish(ctx, repos, action)
}

// SweepResult summarises one timeout sweep.
type SweepResult struct {
	Scanned      int
	AutoApproved int
	Escalated    int
	Failed       int
}

type timeoutOutcome int

const (
	outcomeNone timeoutOutcome = iota
	outcomeAutoApproved
	outcomeEscalated
)

// SweepTimeouts handles every in-progress approval whose current step ran
// past its timeout: auto-approve steps are approved by the system user and
// advanced, other steps are escalated once. Each approval is handled in its
// own transaction; failures are counted and logged, not returned.
func (e *Engine) SweepTimeouts(ctx context.Context) (res SweepResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.sweep_timeouts")
	defer tracing.End(span, &err)

	now := e.now()
	approvals, err := e.store.Repositories().Approvals.ListTimedOut(ctx, now, e.cfg.SweepBatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list timed out approvals: %w", err)
	}
	res.Scanned = len(approvals)

	var autoApproved, escalated, failed atomic.Int32
	handle := func(ctx context.Context, id uuid.UUID) {
		outcome, err := e.handleTimeout(ctx, id, now)
		if err != nil {
			failed.Add(1)
			logger.Error("Timeout handling failed",
				zap.String("approval_id", id.String()),
				zap.Error(err),
			)
			return
		}
		switch outcome {
		case outcomeAutoApproved:
			autoApproved.Add(1)
		case outcomeEscalated:
			escalated.Add(1)
		}
	}

	if e.sweepPool == nil {
		for _, a := range approvals {
			handle(ctx, a.ID)
		}
	} else {
		tasks := make([]worker.Task, 0, len(approvals))
		for _, a := range approvals {
			id := a.ID
			tasks = append(tasks, func(ctx context.Context) { handle(ctx, id) })
		}
		if err := e.sweepPool.RunAll(ctx, tasks); err != nil {
			return res, fmt.Errorf("run timeout sweep: %w", err)
		}
	}

	res.AutoApproved = int(autoApproved.Load())
	res.Escalated = int(escalated.Load())
	res.Failed = int(failed.Load())
	if res.AutoApproved+res.Escalated+res.Failed > 0 {
		logger.Info("Timeout sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("auto_approved", res.AutoApproved),
			zap.Int("escalated", res.Escalated),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// handleTimeout re-reads the approval inside its own transaction so that a
// decision made since the listing wins.
func (e *Engine) handleTimeout(ctx context.Context, approvalID uuid.UUID, now time.Time) (timeoutOutcome, error) {
	outcome := outcomeNone
	err := e.run(ctx, "handle_timeout", e.cfg.SystemUserID, func(ctx context.Context, repos domain.Repositories) error {
		outcome = outcomeNone
		a, err := loadApproval(ctx, repos, approvalID)
		if err != nil {
			return err
		}
		if !a.IsInProgress() {
			return nil
		}
		wf, err := loadWorkflow(ctx, repos, a.WorkflowID)
		if err != nil {
			return err
		}
		step, err := currentStep(a, wf)
		if err != nil {
			return err
		}
		if !step.IsTimeoutExceededAt(a.TimeoutReference(), now) {
			return nil
		}

		if step.AutoApproveOnTimeout {
			if err := e.autoApprove(ctx, repos, a, wf, step); err != nil {
				return err
			}
			outcome = outcomeAutoApproved
			return nil
		}

		done, err := escalatedThisRound(ctx, repos, a, step.ID)
		if err != nil || done {
			return err
		}
		if err := step.HandleTimeout(a.ID); err != nil {
			return err
		}
		if err := publish(ctx, repos, step); err != nil {
			return err
		}
		reason := fmt.Sprintf("Escalated after %d hours without a decision", *step.TimeoutHours)
		if _, err := e.escalate(ctx, repos, a, step, e.cfg.SystemUserID, nil, reason); err != nil {
			return fmt.Errorf("escalate step %s: %w", step.ID, err)
		}
		outcome = outcomeEscalated
		return nil
	}, tracing.ApprovalIDKey.String(approvalID.String()))
	return outcome, err
}

func (e *Engine) autoApprove(ctx context.Context, repos domain.Repositories, a *domain.Approval, wf *domain.Workflow, step *domain.Step) error {
	if e.cfg.SystemUserID == uuid.Nil {
		return &domain.ValidationError{Entity: domain.EntityAction, Message: "system user is not configured"}
	}
	if err := step.HandleTimeout(a.ID); err != nil {
		return err
	}
	comment := fmt.Sprintf("Auto-approved after %d hours timeout", *step.TimeoutHours)
	if err := a.ApproveStep(step.ID, e.cfg.SystemUserID, comment); err != nil {
		return err
	}
	action, err := domain.NewAutoApproveAction(a.ID, step.ID, e.cfg.SystemUserID, step.TimeoutHours, comment, nil)
	if err != nil {
		return err
	}
	doc, err := e.loadDocument(ctx, a.DocumentID)
	if err != nil {
		return err
	}
	if err := e.advance(ctx, repos, a, wf, step, doc); err != nil {
		return err
	}
	if err := repos.Approvals.Save(ctx, a); err != nil {
		return fmt.Errorf("save approval %s: %w", a.ID, err)
	}
	if err := repos.Actions.Append(ctx, action); err != nil {
		return fmt.Errorf("append action %s: %w", action.ID, err)
	}
	return publish(ctx, repos, step, a, action)
}

// escalatedThisRound reports whether stepID was already escalated since the
// approval last entered it.
func escalatedThisRound(ctx context.Context, repos domain.Repositories, a *domain.Approval, stepID uuid.UUID) (bool, error) {
	actions, err := repos.Actions.ListByApproval(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("list actions of approval %s: %w", a.ID, err)
	}
	since := a.TimeoutReference()
	for _, act := range actions {
		if act.StepID == stepID && act.IsEscalation() && !act.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}
