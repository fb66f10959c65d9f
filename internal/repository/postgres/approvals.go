package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/s35241607/ticket-system/internal/domain"
)

// OpenApprovalConstraint guards one open approval per document.
const OpenApprovalConstraint = "approvals_open_document_key"

const approvalColumns = `id, document_id, workflow_id, current_step_id, status, submitted_by,
	submitted_at, step_started_at, completed_at, version`

// ApprovalRepo implements domain.ApprovalRepository.
type ApprovalRepo struct {
	db DBTX
}

// NewApprovalRepo creates an approval repository on db.
func NewApprovalRepo(db DBTX) *ApprovalRepo {
	return &ApprovalRepo{db: db}
}

// Save inserts a new approval or updates a stored one under its version.
func (r *ApprovalRepo) Save(ctx context.Context, a *domain.Approval) error {
	if a.Version == 0 {
		_, err := r.db.Exec(ctx, `
			INSERT INTO approvals (`+approvalColumns+`, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, now())`,
			a.ID, a.DocumentID, a.WorkflowID, a.CurrentStepID, string(a.Status), a.SubmittedBy,
			nullTime(a.SubmittedAt), a.StepStartedAt, a.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert approval %s: %w", a.ID, mapError(err))
		}
		a.Version = 1
		return nil
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE approvals
		SET workflow_id = $2, current_step_id = $3, status = $4, submitted_at = $5,
			step_started_at = $6, completed_at = $7, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $8`,
		a.ID, a.WorkflowID, a.CurrentStepID, string(a.Status), nullTime(a.SubmittedAt),
		a.StepStartedAt, a.CompletedAt, a.Version,
	)
	if err != nil {
		return fmt.Errorf("update approval %s: %w", a.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update approval %s at version %d: %w", a.ID, a.Version, domain.ErrConcurrentModification)
	}
	a.Version++
	return nil
}

// GetByID loads one approval.
func (r *ApprovalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Approval, error) {
	row := r.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)
	a, err := scanApproval(row)
	if err != nil {
		return nil, fmt.Errorf("get approval %s: %w", id, mapError(err))
	}
	return a, nil
}

// GetByDocumentID returns the latest approval of a document. Open approvals
// win over closed ones.
func (r *ApprovalRepo) GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*domain.Approval, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+approvalColumns+` FROM approvals
		WHERE document_id = $1
		ORDER BY (status NOT IN ('approved', 'rejected', 'cancelled')) DESC,
			submitted_at DESC NULLS LAST, updated_at DESC
		LIMIT 1`, documentID)
	a, err := scanApproval(row)
	if err != nil {
		return nil, fmt.Errorf("get approval for document %s: %w", documentID, mapError(err))
	}
	return a, nil
}

// ListByStatus returns approvals in status, oldest step first.
func (r *ApprovalRepo) ListByStatus(ctx context.Context, status domain.ApprovalStatus, limit int) ([]*domain.Approval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+approvalColumns+` FROM approvals
		WHERE status = $1
		ORDER BY COALESCE(step_started_at, submitted_at) ASC NULLS LAST, id
		LIMIT $2`, string(status), clampLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("list approvals by status %s: %w", status, err)
	}
	return collectApprovals(rows)
}

// ListTimedOut returns in-progress approvals past their current step's
// deadline. Non auto-approve steps escalated since step start are left out,
// so they cannot crowd the batch.
func (r *ApprovalRepo) ListTimedOut(ctx context.Context, now time.Time, limit int) ([]*domain.Approval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.document_id, a.workflow_id, a.current_step_id, a.status, a.submitted_by,
			a.submitted_at, a.step_started_at, a.completed_at, a.version
		FROM approvals a
		JOIN approval_steps s ON s.id = a.current_step_id
		WHERE a.status = $1
			AND s.timeout_hours IS NOT NULL
			AND COALESCE(a.step_started_at, a.submitted_at) + make_interval(hours => s.timeout_hours) < $2
			AND (s.auto_approve_on_timeout OR NOT EXISTS (
				SELECT 1 FROM approval_actions x
				WHERE x.approval_id = a.id AND x.step_id = s.id AND x.action_type = $3
					AND x.created_at >= COALESCE(a.step_started_at, a.submitted_at)))
		ORDER BY COALESCE(a.step_started_at, a.submitted_at) + make_interval(hours => s.timeout_hours), a.id
		LIMIT $4`,
		string(domain.ApprovalStatusInProgress), now.UTC(), string(domain.ActionTypeEscalate), clampLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("list timed out approvals: %w", err)
	}
	return collectApprovals(rows)
}

// CountAtStep counts in-progress approvals whose current step is stepID.
func (r *ApprovalRepo) CountAtStep(ctx context.Context, stepID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM approvals
		WHERE current_step_id = $1 AND status = $2`,
		stepID, string(domain.ApprovalStatusInProgress)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count approvals at step %s: %w", stepID, err)
	}
	return n, nil
}

// AssignApprovers records the approver set of a step. Re-assigning the same
// users is a no-op.
func (r *ApprovalRepo) AssignApprovers(ctx context.Context, approvalID, stepID uuid.UUID, approvers []uuid.UUID) error {
	if len(approvers) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO approval_assignees (approval_id, step_id, approver_id)
		SELECT $1, $2, unnest($3::uuid[])
		ON CONFLICT DO NOTHING`, approvalID, stepID, approvers); err != nil {
		return fmt.Errorf("assign approvers to approval %s step %s: %w", approvalID, stepID, mapError(err))
	}
	return nil
}

// ClearAssignees drops every assignment of an approval.
func (r *ApprovalRepo) ClearAssignees(ctx context.Context, approvalID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM approval_assignees WHERE approval_id = $1`, approvalID); err != nil {
		return fmt.Errorf("clear assignees of approval %s: %w", approvalID, err)
	}
	return nil
}

// ListPendingForApprover returns in-progress approvals whose current step is
// assigned to approverID.
func (r *ApprovalRepo) ListPendingForApprover(ctx context.Context, approverID uuid.UUID, limit int) ([]*domain.Approval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.document_id, a.workflow_id, a.current_step_id, a.status, a.submitted_by,
			a.submitted_at, a.step_started_at, a.completed_at, a.version
		FROM approvals a
		JOIN approval_assignees s
			ON s.approval_id = a.id AND s.step_id = a.current_step_id
		WHERE a.status = $1 AND s.approver_id = $2
		ORDER BY a.step_started_at ASC NULLS LAST, a.id
		LIMIT $3`, string(domain.ApprovalStatusInProgress), approverID, clampLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("list pending approvals for %s: %w", approverID, err)
	}
	return collectApprovals(rows)
}

// Assignees returns the approvers recorded for a step.
func (r *ApprovalRepo) Assignees(ctx context.Context, approvalID, stepID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT approver_id FROM approval_assignees
		WHERE approval_id = $1 AND step_id = $2
		ORDER BY assigned_at, approver_id`, approvalID, stepID)
	if err != nil {
		return nil, fmt.Errorf("list assignees of approval %s: %w", approvalID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan assignees of approval %s: %w", approvalID, err)
	}
	return ids, nil
}

func collectApprovals(rows pgx.Rows) ([]*domain.Approval, error) {
	defer rows.Close()
	var out []*domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return out, nil
}

func scanApproval(row pgx.Row) (*domain.Approval, error) {
	var (
		a           domain.Approval
		status      string
		submittedAt *time.Time
	)
	if err := row.Scan(
		&a.ID, &a.DocumentID, &a.WorkflowID, &a.CurrentStepID, &status, &a.SubmittedBy,
		&submittedAt, &a.StepStartedAt, &a.CompletedAt, &a.Version,
	); err != nil {
		return nil, err
	}
	a.Status = domain.ApprovalStatus(status)
	a.SubmittedAt = timeOrZero(submittedAt)
	return &a, nil
}

var _ domain.ApprovalRepository = (*ApprovalRepo)(nil)
