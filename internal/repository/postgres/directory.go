package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/s35241607/ticket-system/internal/domain"
)

// DirectoryRepo answers org-chart questions from the directory tables.
type DirectoryRepo struct {
	db DBTX
}

// NewDirectoryRepo creates a directory repository on db.
func NewDirectoryRepo(db DBTX) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

// DirectoryUser is one directory entry.
type DirectoryUser struct {
	ID           uuid.UUID
	DisplayName  string
	Email        string
	DepartmentID *uuid.UUID
	ManagerID    *uuid.UUID
	Roles        []string
	Active       bool
}

// UsersWithRoles returns active users holding any of roles.
func (r *DirectoryRepo) UsersWithRoles(ctx context.Context, roles []string) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT u.id FROM directory_users u
		JOIN directory_user_roles ur ON ur.user_id = u.id
		WHERE u.active AND ur.role = ANY($1::text[])
		ORDER BY u.id`, roles)
	if err != nil {
		return nil, fmt.Errorf("query users with roles: %w", err)
	}
	return collectIDs(rows)
}

// UsersInDepartments returns active users of the given departments.
func (r *DirectoryRepo) UsersInDepartments(ctx context.Context, departmentIDs []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM directory_users
		WHERE active AND department_id = ANY($1::uuid[])
		ORDER BY id`, departmentIDs)
	if err != nil {
		return nil, fmt.Errorf("query users in departments: %w", err)
	}
	return collectIDs(rows)
}

// ManagerOf returns the active manager of userID, or domain.ErrNotFound.
func (r *DirectoryRepo) ManagerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `
		SELECT m.id FROM directory_users u
		JOIN directory_users m ON m.id = u.manager_id
		WHERE u.id = $1 AND m.active`, userID).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("manager of %s: %w", userID, mapError(err))
	}
	return id, nil
}

// UpsertUser writes a directory entry and replaces its roles.
func (r *DirectoryRepo) UpsertUser(ctx context.Context, u DirectoryUser) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO directory_users (id, display_name, email, department_id, manager_id, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				email = EXCLUDED.email,
				department_id = EXCLUDED.department_id,
				manager_id = EXCLUDED.manager_id,
				active = EXCLUDED.active`,
			u.ID, u.DisplayName, u.Email, u.DepartmentID, u.ManagerID, u.Active,
		); err != nil {
			return fmt.Errorf("upsert directory user %s: %w", u.ID, mapError(err))
		}
		if _, err := tx.Exec(ctx, `DELETE FROM directory_user_roles WHERE user_id = $1`, u.ID); err != nil {
			return fmt.Errorf("clear roles of %s: %w", u.ID, err)
		}
		if len(u.Roles) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO directory_user_roles (user_id, role)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING`, u.ID, u.Roles); err != nil {
			return fmt.Errorf("set roles of %s: %w", u.ID, err)
		}
		return nil
	})
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan ids: %w", err)
	}
	return ids, nil
}

// DocumentRepo stores the document projection the engine evaluates
// workflows and approver rules against.
type DocumentRepo struct {
	db DBTX
}

// NewDocumentRepo creates a document repository on db.
func NewDocumentRepo(db DBTX) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// GetDocumentView implements domain.DocumentReader.
func (r *DocumentRepo) GetDocumentView(ctx context.Context, documentID uuid.UUID) (domain.DocumentView, error) {
	var (
		view       domain.DocumentView
		categoryID *uuid.UUID
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, category_id, tag_ids, creator_id FROM documents WHERE id = $1`, documentID,
	).Scan(&view.ID, &categoryID, &view.Tags, &view.CreatorID)
	if err != nil {
		return domain.DocumentView{}, fmt.Errorf("get document %s: %w", documentID, mapError(err))
	}
	if categoryID != nil {
		view.CategoryID = *categoryID
	}
	return view, nil
}

// UpsertDocument writes the projection of one document.
func (r *DocumentRepo) UpsertDocument(ctx context.Context, title string, view domain.DocumentView) error {
	var categoryID *uuid.UUID
	if view.CategoryID != uuid.Nil {
		categoryID = &view.CategoryID
	}
	tags := view.Tags
	if tags == nil {
		tags = []uuid.UUID{}
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO documents (id, title, category_id, creator_id, tag_ids, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			category_id = EXCLUDED.category_id,
			creator_id = EXCLUDED.creator_id,
			tag_ids = EXCLUDED.tag_ids,
			updated_at = now()`,
		view.ID, title, categoryID, view.CreatorID, tags,
	); err != nil {
		return fmt.Errorf("upsert document %s: %w", view.ID, mapError(err))
	}
	return nil
}

var _ domain.DocumentReader = (*DocumentRepo)(nil)
