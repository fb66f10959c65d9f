package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/s35241607/ticket-system/internal/domain"
)

// WorkflowNameConstraint guards unique workflow names.
const WorkflowNameConstraint = "approval_workflows_name_key"

const workflowColumns = `id, name, description, is_active, category_criteria, tag_criteria,
	creator_criteria, version, created_at, updated_at`

const stepColumns = `id, workflow_id, name, description, step_order, approver_type, approver_criteria,
	is_parallel, timeout_hours, auto_approve_on_timeout, created_at`

// WorkflowRepo implements domain.WorkflowRepository. Steps are stored in
// approval_steps and always loaded with their workflow.
type WorkflowRepo struct {
	db DBTX
}

// NewWorkflowRepo creates a workflow repository on db.
func NewWorkflowRepo(db DBTX) *WorkflowRepo {
	return &WorkflowRepo{db: db}
}

// Save writes the workflow and replaces its step set.
func (r *WorkflowRepo) Save(ctx context.Context, w *domain.Workflow) error {
	category, err := marshalCriteria(w.CategoryCriteria)
	if err != nil {
		return fmt.Errorf("encode category criteria: %w", err)
	}
	tags, err := marshalCriteria(w.TagCriteria)
	if err != nil {
		return fmt.Errorf("encode tag criteria: %w", err)
	}
	creator, err := marshalCriteria(w.CreatorCriteria)
	if err != nil {
		return fmt.Errorf("encode creator criteria: %w", err)
	}

	newVersion := w.Version + 1
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if w.Version == 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO approval_workflows (`+workflowColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)`,
				w.ID, w.Name, w.Description, w.IsActive, category, tags, creator,
				w.CreatedAt.UTC(), w.UpdatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert workflow %s: %w", w.ID, mapError(err))
			}
		} else {
			tag, err := tx.Exec(ctx, `
				UPDATE approval_workflows
				SET name = $2, description = $3, is_active = $4, category_criteria = $5,
					tag_criteria = $6, creator_criteria = $7, updated_at = $8, version = version + 1
				WHERE id = $1 AND version = $9`,
				w.ID, w.Name, w.Description, w.IsActive, category, tags, creator,
				w.UpdatedAt.UTC(), w.Version,
			)
			if err != nil {
				return fmt.Errorf("update workflow %s: %w", w.ID, mapError(err))
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("update workflow %s at version %d: %w", w.ID, w.Version, domain.ErrConcurrentModification)
			}
		}
		return saveSteps(ctx, tx, w)
	})
	if err != nil {
		return err
	}
	w.Version = newVersion
	return nil
}

func saveSteps(ctx context.Context, tx pgx.Tx, w *domain.Workflow) error {
	keep := make([]uuid.UUID, 0, len(w.Steps))
	for _, s := range w.Steps {
		keep = append(keep, s.ID)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM approval_steps WHERE workflow_id = $1 AND NOT (id = ANY($2::uuid[]))`,
		w.ID, keep,
	); err != nil {
		return fmt.Errorf("prune steps of workflow %s: %w", w.ID, err)
	}

	batch := &pgx.Batch{}
	for _, s := range w.Steps {
		criteria, err := marshalCriteria(s.ApproverCriteria)
		if err != nil {
			return fmt.Errorf("encode approver criteria of step %s: %w", s.ID, err)
		}
		batch.Queue(`
			INSERT INTO approval_steps (`+stepColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				step_order = EXCLUDED.step_order,
				approver_type = EXCLUDED.approver_type,
				approver_criteria = EXCLUDED.approver_criteria,
				is_parallel = EXCLUDED.is_parallel,
				timeout_hours = EXCLUDED.timeout_hours,
				auto_approve_on_timeout = EXCLUDED.auto_approve_on_timeout`,
			s.ID, w.ID, s.Name, s.Description, s.Order, string(s.ApproverType), criteria,
			s.IsParallel, s.TimeoutHours, s.AutoApproveOnTimeout, s.CreatedAt.UTC(),
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert steps of workflow %s: %w", w.ID, mapError(err))
	}
	return nil
}

// GetByID loads a workflow with its steps.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	row := r.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE id = $1`, id)
	w, err := scanWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, mapError(err))
	}
	if err := r.loadSteps(ctx, []*domain.Workflow{w}); err != nil {
		return nil, err
	}
	return w, nil
}

// GetByName loads a workflow by its unique name.
func (r *WorkflowRepo) GetByName(ctx context.Context, name string) (*domain.Workflow, error) {
	row := r.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE name = $1`, name)
	w, err := scanWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("get workflow %q: %w", name, mapError(err))
	}
	if err := r.loadSteps(ctx, []*domain.Workflow{w}); err != nil {
		return nil, err
	}
	return w, nil
}

// ListActive returns active workflows ordered by creation time.
func (r *WorkflowRepo) ListActive(ctx context.Context) ([]*domain.Workflow, error) {
	return r.list(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE is_active ORDER BY created_at, id`)
}

// ListAll returns every workflow ordered by name.
func (r *WorkflowRepo) ListAll(ctx context.Context) ([]*domain.Workflow, error) {
	return r.list(ctx, `SELECT `+workflowColumns+` FROM approval_workflows ORDER BY name`)
}

func (r *WorkflowRepo) list(ctx context.Context, query string) ([]*domain.Workflow, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	var out []*domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	if err := r.loadSteps(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *WorkflowRepo) loadSteps(ctx context.Context, workflows []*domain.Workflow) error {
	if len(workflows) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Workflow, len(workflows))
	ids := make([]uuid.UUID, 0, len(workflows))
	for _, w := range workflows {
		byID[w.ID] = w
		ids = append(ids, w.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+stepColumns+` FROM approval_steps
		WHERE workflow_id = ANY($1::uuid[])
		ORDER BY workflow_id, step_order, created_at`, ids)
	if err != nil {
		return fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return fmt.Errorf("scan step: %w", err)
		}
		if w, ok := byID[s.WorkflowID]; ok {
			w.Steps = append(w.Steps, s)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate steps: %w", err)
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var (
		w                       domain.Workflow
		category, tags, creator []byte
	)
	if err := row.Scan(
		&w.ID, &w.Name, &w.Description, &w.IsActive, &category, &tags, &creator,
		&w.Version, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if w.CategoryCriteria, err = unmarshalCriteria(category); err != nil {
		return nil, fmt.Errorf("decode category criteria: %w", err)
	}
	if w.TagCriteria, err = unmarshalCriteria(tags); err != nil {
		return nil, fmt.Errorf("decode tag criteria: %w", err)
	}
	if w.CreatorCriteria, err = unmarshalCriteria(creator); err != nil {
		return nil, fmt.Errorf("decode creator criteria: %w", err)
	}
	return &w, nil
}

func scanStep(row pgx.Row) (*domain.Step, error) {
	var (
		s            domain.Step
		approverType string
		criteria     []byte
	)
	if err := row.Scan(
		&s.ID, &s.WorkflowID, &s.Name, &s.Description, &s.Order, &approverType, &criteria,
		&s.IsParallel, &s.TimeoutHours, &s.AutoApproveOnTimeout, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.ApproverType = domain.ApproverType(approverType)
	c, err := unmarshalCriteria(criteria)
	if err != nil {
		return nil, fmt.Errorf("decode approver criteria: %w", err)
	}
	s.ApproverCriteria = c
	return &s, nil
}

var _ domain.WorkflowRepository = (*WorkflowRepo)(nil)
