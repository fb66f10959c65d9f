package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ApproverResolver turns a step's approver criteria into concrete identities
// for one document. There is one implementation per ApproverType.
type ApproverResolver interface {
	Resolve(ctx context.Context, criteria Criteria, doc DocumentView) ([]uuid.UUID, error)
}

// ApproverResolverFunc adapts a function to ApproverResolver.
type ApproverResolverFunc func(ctx context.Context, criteria Criteria, doc DocumentView) ([]uuid.UUID, error)

// Resolve calls f.
func (f ApproverResolverFunc) Resolve(ctx context.Context, criteria Criteria, doc DocumentView) ([]uuid.UUID, error) {
	return f(ctx, criteria, doc)
}

// Resolvers maps approver types to their resolver. Types without an entry
// resolve to no approvers, except Individual which falls back to
// IndividualResolver.
type Resolvers map[ApproverType]ApproverResolver

func (r Resolvers) forType(t ApproverType) ApproverResolver {
	if res, ok := r[t]; ok && res != nil {
		return res
	}
	if t == ApproverTypeIndividual {
		return IndividualResolver{}
	}
	return nil
}

// IndividualResolver reads identities straight from user_ids.
type IndividualResolver struct{}

// Resolve implements ApproverResolver.
func (IndividualResolver) Resolve(_ context.Context, criteria Criteria, _ DocumentView) ([]uuid.UUID, error) {
	if _, ok := criteria[CriteriaUserIDs]; !ok {
		return nil, newValidationError(EntityStep, "individual approver type must include %s", CriteriaUserIDs)
	}
	ids, err := criteria.UUIDList(CriteriaUserIDs)
	if err != nil {
		return nil, newValidationError(EntityStep, "invalid user ID format: %v", err)
	}
	return ids, nil
}

// ResolveApprovers returns the distinct approvers of s for doc.
func (s *Step) ResolveApprovers(ctx context.Context, doc DocumentView, resolvers Resolvers) ([]uuid.UUID, error) {
	resolver := resolvers.forType(s.ApproverType)
	if resolver == nil {
		return []uuid.UUID{}, nil
	}
	ids, err := resolver.Resolve(ctx, s.ApproverCriteria, doc)
	if err != nil {
		return nil, fmt.Errorf("resolve %s approvers for step %s: %w", s.ApproverType, s.ID, err)
	}
	return dedupe(ids), nil
}

// CanApprove reports whether userID is among the resolved approvers of s.
func (s *Step) CanApprove(ctx context.Context, userID uuid.UUID, doc DocumentView, resolvers Resolvers) (bool, error) {
	if userID == uuid.Nil {
		return false, nil
	}
	ids, err := s.ResolveApprovers(ctx, doc, resolvers)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
