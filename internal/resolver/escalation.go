package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/s35241607/ticket-system/internal/domain"
)

// ErrNoEscalationTarget is returned when neither a manager nor a fallback
// user is available.
var ErrNoEscalationTarget = errors.New("no escalation target")

// ManagerEscalator routes a timed-out step to the manager of its approvers.
type ManagerEscalator struct {
	dir      Directory
	fallback uuid.UUID
}

// NewManagerEscalator creates an escalator. fallback may be uuid.Nil.
func NewManagerEscalator(dir Directory, fallback uuid.UUID) *ManagerEscalator {
	return &ManagerEscalator{dir: dir, fallback: fallback}
}

// EscalationTarget returns the manager of the first approver that has one
// and is not an approver itself, falling back to the configured user.
func (e *ManagerEscalator) EscalationTarget(ctx context.Context, approvers []uuid.UUID) (uuid.UUID, error) {
	current := make(map[uuid.UUID]struct{}, len(approvers))
	for _, id := range approvers {
		current[id] = struct{}{}
	}

	for _, id := range approvers {
		manager, err := e.dir.ManagerOf(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return uuid.Nil, fmt.Errorf("look up manager of %s: %w", id, err)
		}
		if _, already := current[manager]; already {
			continue
		}
		return manager, nil
	}

	if e.fallback != uuid.Nil {
		return e.fallback, nil
	}
	return uuid.Nil, ErrNoEscalationTarget
}
