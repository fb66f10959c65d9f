// Package resolver implements approver resolution on top of the org
// directory for the Role, Department and CreatorManager approver types.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/s35241607/ticket-system/internal/domain"
)

// Directory answers org-chart questions.
type Directory interface {
	UsersWithRoles(ctx context.Context, roles []string) ([]uuid.UUID, error)
	UsersInDepartments(ctx context.Context, departmentIDs []uuid.UUID) ([]uuid.UUID, error)
	// ManagerOf returns domain.ErrNotFound when userID has no active manager.
	ManagerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// New returns resolvers for every approver type backed by dir.
func New(dir Directory) domain.Resolvers {
	return domain.Resolvers{
		domain.ApproverTypeIndividual:     domain.IndividualResolver{},
		domain.ApproverTypeRole:           &RoleResolver{dir: dir},
		domain.ApproverTypeDepartment:     &DepartmentResolver{dir: dir},
		domain.ApproverTypeCreatorManager: &CreatorManagerResolver{dir: dir},
	}
}

// RoleResolver returns holders of any role in criteria.roles. When
// department_ids is also present, only members of those departments count.
type RoleResolver struct {
	dir Directory
}

// Resolve implements domain.ApproverResolver.
func (r *RoleResolver) Resolve(ctx context.Context, criteria domain.Criteria, _ domain.DocumentView) ([]uuid.UUID, error) {
	roles, ok := criteria.StringList(domain.CriteriaRoles)
	if !ok || len(roles) == 0 {
		return nil, stepError("role approver type must include %s", domain.CriteriaRoles)
	}
	ids, err := r.dir.UsersWithRoles(ctx, roles)
	if err != nil {
		return nil, fmt.Errorf("look up roles %v: %w", roles, err)
	}
	if _, scoped := criteria[domain.CriteriaDepartmentIDs]; !scoped {
		return ids, nil
	}

	departments, err := criteria.UUIDList(domain.CriteriaDepartmentIDs)
	if err != nil {
		return nil, stepError("%v", err)
	}
	members, err := r.dir.UsersInDepartments(ctx, departments)
	if err != nil {
		return nil, fmt.Errorf("look up departments: %w", err)
	}
	return intersect(ids, members), nil
}

// DepartmentResolver returns members of criteria.department_ids.
type DepartmentResolver struct {
	dir Directory
}

// Resolve implements domain.ApproverResolver.
func (r *DepartmentResolver) Resolve(ctx context.Context, criteria domain.Criteria, _ domain.DocumentView) ([]uuid.UUID, error) {
	if _, ok := criteria[domain.CriteriaDepartmentIDs]; !ok {
		return nil, stepError("department approver type must include %s", domain.CriteriaDepartmentIDs)
	}
	departments, err := criteria.UUIDList(domain.CriteriaDepartmentIDs)
	if err != nil {
		return nil, stepError("%v", err)
	}
	ids, err := r.dir.UsersInDepartments(ctx, departments)
	if err != nil {
		return nil, fmt.Errorf("look up departments: %w", err)
	}
	return ids, nil
}

// CreatorManagerResolver returns the manager of the document creator. A
// creator without a manager yields no approvers.
type CreatorManagerResolver struct {
	dir Directory
}

// Resolve implements domain.ApproverResolver.
func (r *CreatorManagerResolver) Resolve(ctx context.Context, _ domain.Criteria, doc domain.DocumentView) ([]uuid.UUID, error) {
	if doc.CreatorID == uuid.Nil {
		return []uuid.UUID{}, nil
	}
	manager, err := r.dir.ManagerOf(ctx, doc.CreatorID)
	if errors.Is(err, domain.ErrNotFound) {
		return []uuid.UUID{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up manager of %s: %w", doc.CreatorID, err)
	}
	return []uuid.UUID{manager}, nil
}

func stepError(format string, args ...any) error {
	return &domain.ValidationError{Entity: domain.EntityStep, Message: fmt.Sprintf(format, args...)}
}

func intersect(a, b []uuid.UUID) []uuid.UUID {
	in := make(map[uuid.UUID]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(a))
	for _, id := range a {
		if _, ok := in[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
