package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/pkg/tracing"
)

// StepSpec describes a step to add to a workflow.
type StepSpec struct {
	Name                 string              `validate:"required"`
	Description          string              `validate:"required"`
	Order                int                 `validate:"gte=1"`
	ApproverType         domain.ApproverType `validate:"required,oneof=individual role department creator_manager"`
	ApproverCriteria     domain.Criteria
	IsParallel           bool
	TimeoutHours         *int `validate:"omitempty,gte=1"`
	AutoApproveOnTimeout bool
}

// CreateWorkflowCommand creates a workflow with its initial steps.
type CreateWorkflowCommand struct {
	Name        string `validate:"required"`
	Description string `validate:"required"`
	Category    domain.Criteria
	Tags        domain.Criteria
	Creator     domain.Criteria
	Steps       []StepSpec `validate:"dive"`
	CreatedBy   uuid.UUID  `validate:"required"`
}

// CreateWorkflow stores a new, active workflow.
func (e *Engine) CreateWorkflow(ctx context.Context, cmd CreateWorkflowCommand) (*domain.Workflow, error) {
	if err := e.check(domain.EntityWorkflow, cmd); err != nil {
		return nil, err
	}

	var wf *domain.Workflow
	err := e.run(ctx, "create_workflow", cmd.CreatedBy, func(ctx context.Context, repos domain.Repositories) error {
		w, err := domain.NewWorkflow(cmd.Name, cmd.Description, cmd.Category, cmd.Tags, cmd.Creator)
		if err != nil {
			return err
		}
		for _, spec := range cmd.Steps {
			if _, err := addStep(w, spec); err != nil {
				return err
			}
		}
		if err := repos.Workflows.Save(ctx, w); err != nil {
			return fmt.Errorf("save workflow %s: %w", w.Name, err)
		}
		wf = w
		return publishWorkflow(ctx, repos, w)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("name", wf.Name),
		zap.Int("steps", len(wf.Steps)),
	)
	return wf, nil
}

// AddStep appends a step to an active workflow.
func (e *Engine) AddStep(ctx context.Context, workflowID, actor uuid.UUID, spec StepSpec) (*domain.Step, error) {
	if err := e.check(domain.EntityStep, spec); err != nil {
		return nil, err
	}
	var step *domain.Step
	_, err := e.mutateWorkflow(ctx, "add_step", workflowID, actor, func(w *domain.Workflow) error {
		s, err := addStep(w, spec)
		step = s
		return err
	})
	return step, err
}

// RemoveStep detaches a step from an active workflow. A step that running
// approvals currently wait on cannot be removed.
func (e *Engine) RemoveStep(ctx context.Context, workflowID, actor, stepID uuid.UUID) (*domain.Workflow, error) {
	return e.mutateWorkflowTx(ctx, "remove_step", workflowID, actor, func(ctx context.Context, repos domain.Repositories, w *domain.Workflow) error {
		n, err := repos.Approvals.CountAtStep(ctx, stepID)
		if err != nil {
			return err
		}
		if n > 0 {
			return &domain.ValidationError{
				Entity:  domain.EntityStep,
				Message: fmt.Sprintf("step %s is the current step of %d in-progress approvals", stepID, n),
			}
		}
		return w.RemoveStep(stepID)
	})
}

// ActivateWorkflow makes a workflow eligible for submissions.
func (e *Engine) ActivateWorkflow(ctx context.Context, workflowID, actor uuid.UUID) (*domain.Workflow, error) {
	return e.mutateWorkflow(ctx, "activate_workflow", workflowID, actor, func(w *domain.Workflow) error {
		return w.Activate()
	})
}

// DeactivateWorkflow takes a workflow out of selection. Running approvals
// keep using it.
func (e *Engine) DeactivateWorkflow(ctx context.Context, workflowID, actor uuid.UUID) (*domain.Workflow, error) {
	return e.mutateWorkflow(ctx, "deactivate_workflow", workflowID, actor, func(w *domain.Workflow) error {
		w.Deactivate()
		return nil
	})
}

// UpdateWorkflowCriteria replaces the selected applicability criteria.
func (e *Engine) UpdateWorkflowCriteria(ctx context.Context, workflowID, actor uuid.UUID, update domain.CriteriaUpdate) (*domain.Workflow, error) {
	return e.mutateWorkflow(ctx, "update_workflow_criteria", workflowID, actor, func(w *domain.Workflow) error {
		return w.UpdateCriteria(update)
	})
}

// UpdateWorkflowDetails renames a workflow or changes its description.
func (e *Engine) UpdateWorkflowDetails(ctx context.Context, workflowID, actor uuid.UUID, name, description string) (*domain.Workflow, error) {
	return e.mutateWorkflow(ctx, "update_workflow_details", workflowID, actor, func(w *domain.Workflow) error {
		return w.UpdateDetails(name, description)
	})
}

// UpdateStepApprovers replaces the approver criteria of a step.
func (e *Engine) UpdateStepApprovers(ctx context.Context, workflowID, actor, stepID uuid.UUID, criteria domain.Criteria) (*domain.Workflow, error) {
	return e.mutateWorkflow(ctx, "update_step_approvers", workflowID, actor, func(w *domain.Workflow) error {
		step, err := stepOf(w, stepID)
		if err != nil {
			return err
		}
		return step.UpdateApproverCriteria(criteria)
	})
}

// UpdateStepTimeout changes the timeout settings of a step. Nil arguments are left unchanged.
func (e *Engine) UpdateStepTimeout(ctx context.Context, workflowID, actor, stepID uuid.UUID, hours *int, autoApprove *bool) (*domain.Workflow, error) {
	return e.mutateWorkflow(ctx, "update_step_timeout", workflowID, actor, func(w *domain.Workflow) error {
		step, err := stepOf(w, stepID)
		if err != nil {
			return err
		}
		return step.UpdateTimeoutSettings(hours, autoApprove)
	})
}

// ListWorkflows returns the active workflows.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	out, err := e.store.Repositories().Workflows.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	return out, nil
}

// WorkflowByName looks a workflow up by its unique name.
func (e *Engine) WorkflowByName(ctx context.Context, name string) (*domain.Workflow, error) {
	w, err := e.store.Repositories().Workflows.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", name, err)
	}
	return w, nil
}

func (e *Engine) mutateWorkflow(ctx context.Context, op string, workflowID, actor uuid.UUID, fn func(w *domain.Workflow) error) (*domain.Workflow, error) {
	return e.mutateWorkflowTx(ctx, op, workflowID, actor, func(_ context.Context, _ domain.Repositories, w *domain.Workflow) error {
		return fn(w)
	})
}

func (e *Engine) mutateWorkflowTx(
	ctx context.Context,
	op string,
	workflowID, actor uuid.UUID,
	fn func(ctx context.Context, repos domain.Repositories, w *domain.Workflow) error,
) (*domain.Workflow, error) {
	var wf *domain.Workflow
	err := e.run(ctx, op, actor, func(ctx context.Context, repos domain.Repositories) error {
		w, err := loadWorkflow(ctx, repos, workflowID)
		if err != nil {
			return err
		}
		if err := fn(ctx, repos, w); err != nil {
			return err
		}
		if err := repos.Workflows.Save(ctx, w); err != nil {
			return fmt.Errorf("save workflow %s: %w", w.ID, err)
		}
		wf = w
		return publishWorkflow(ctx, repos, w)
	}, tracing.WorkflowIDKey.String(workflowID.String()))
	if err != nil {
		return nil, err
	}

	logger.Info("Workflow updated",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("operation", op),
	)
	return wf, nil
}

func addStep(w *domain.Workflow, spec StepSpec) (*domain.Step, error) {
	step, err := domain.NewStep(domain.StepParams{
		WorkflowID:           w.ID,
		Name:                 spec.Name,
		Description:          spec.Description,
		Order:                spec.Order,
		ApproverType:         spec.ApproverType,
		ApproverCriteria:     spec.ApproverCriteria,
		IsParallel:           spec.IsParallel,
		TimeoutHours:         spec.TimeoutHours,
		AutoApproveOnTimeout: spec.AutoApproveOnTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := w.AddStep(step); err != nil {
		return nil, err
	}
	return step, nil
}

func stepOf(w *domain.Workflow, stepID uuid.UUID) (*domain.Step, error) {
	step := w.StepByID(stepID)
	if step == nil {
		return nil, fmt.Errorf("step %s of workflow %s: %w", stepID, w.ID, domain.ErrNotFound)
	}
	return step, nil
}

// publishWorkflow drains the workflow and all of its steps.
func publishWorkflow(ctx context.Context, repos domain.Repositories, w *domain.Workflow) error {
	sources := make([]eventSource, 0, len(w.Steps)+1)
	sources = append(sources, w)
	for _, s := range w.Steps {
		sources = append(sources, s)
	}
	return publish(ctx, repos, sources...)
}
