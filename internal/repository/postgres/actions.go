package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/s35241607/ticket-system/internal/domain"
)

const actionColumns = `id, approval_id, step_id, approver_id, action_type, comment, metadata, created_at`

// ActionRepo implements domain.ActionRepository. Rows are never updated or
// deleted.
type ActionRepo struct {
	db DBTX
}

// NewActionRepo creates an action repository on db.
func NewActionRepo(db DBTX) *ActionRepo {
	return &ActionRepo{db: db}
}

// Append stores one action.
func (r *ActionRepo) Append(ctx context.Context, a *domain.Action) error {
	metadata, err := json.Marshal(a.MetadataMap())
	if err != nil {
		return fmt.Errorf("encode metadata of action %s: %w", a.ID, err)
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO approval_actions (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.ApprovalID, a.StepID, a.ApproverID, string(a.Type), a.Comment, metadata, a.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("append action %s: %w", a.ID, mapError(err))
	}
	return nil
}

// ListByApproval returns the audit trail of an approval in time order.
func (r *ActionRepo) ListByApproval(ctx context.Context, approvalID uuid.UUID) ([]*domain.Action, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+actionColumns+` FROM approval_actions
		WHERE approval_id = $1
		ORDER BY created_at, id`, approvalID)
	if err != nil {
		return nil, fmt.Errorf("list actions of approval %s: %w", approvalID, err)
	}
	return collectActions(rows)
}

// ListByApprover returns the latest actions taken by approverID.
func (r *ActionRepo) ListByApprover(ctx context.Context, approverID uuid.UUID, limit int) ([]*domain.Action, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+actionColumns+` FROM approval_actions
		WHERE approver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, approverID, clampLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("list actions of approver %s: %w", approverID, err)
	}
	return collectActions(rows)
}

func collectActions(rows pgx.Rows) ([]*domain.Action, error) {
	defer rows.Close()
	var out []*domain.Action
	for rows.Next() {
		var (
			a          domain.Action
			actionType string
			metadata   []byte
		)
		if err := rows.Scan(
			&a.ID, &a.ApprovalID, &a.StepID, &a.ApproverID, &actionType, &a.Comment, &metadata, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Type = domain.ActionType(actionType)
		if len(metadata) > 0 {
			var m map[string]any
			if err := json.Unmarshal(metadata, &m); err != nil {
				return nil, fmt.Errorf("decode metadata of action %s: %w", a.ID, err)
			}
			a.Metadata = domain.ActionMetadataFromMap(m)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}

var _ domain.ActionRepository = (*ActionRepo)(nil)
