package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/s35241607/ticket-system/internal/domain"
)

// memStore is an in-memory domain.Store. Transactions are serialised and
// roll back every write when fn fails.
type memStore struct {
	mu        sync.Mutex
	approvals map[uuid.UUID]*domain.Approval
	workflows map[uuid.UUID]*domain.Workflow
	actions   []*domain.Action
	assignees map[[2]uuid.UUID][]uuid.UUID
	events    []domain.Event
}

func newMemStore() *memStore {
	return &memStore{
		approvals: map[uuid.UUID]*domain.Approval{},
		workflows: map[uuid.UUID]*domain.Workflow{},
		assignees: map[[2]uuid.UUID][]uuid.UUID{},
	}
}

func (s *memStore) Repositories() domain.Repositories {
	return s.bind(false)
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	approvals := make(map[uuid.UUID]*domain.Approval, len(s.approvals))
	for k, v := range s.approvals {
		approvals[k] = v
	}
	workflows := make(map[uuid.UUID]*domain.Workflow, len(s.workflows))
	for k, v := range s.workflows {
		workflows[k] = v
	}
	assignees := make(map[[2]uuid.UUID][]uuid.UUID, len(s.assignees))
	for k, v := range s.assignees {
		assignees[k] = v
	}
	nActions, nEvents := len(s.actions), len(s.events)

	if err := fn(ctx, s.bind(true)); err != nil {
		s.approvals, s.workflows, s.assignees = approvals, workflows, assignees
		s.actions, s.events = s.actions[:nActions], s.events[:nEvents]
		return err
	}
	return nil
}

func (s *memStore) bind(tx bool) domain.Repositories {
	return domain.Repositories{
		Approvals: &memApprovals{s: s, tx: tx},
		Workflows: &memWorkflows{s: s, tx: tx},
		Actions:   &memActions{s: s, tx: tx},
		Events:    &memSink{s: s, tx: tx},
	}
}

func (s *memStore) lock(tx bool) func() {
	if tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) eventTypes() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType()
	}
	return out
}

func cloneApproval(a *domain.Approval) *domain.Approval {
	c := *a
	c.TakeEvents()
	if a.CurrentStepID != nil {
		id := *a.CurrentStepID
		c.CurrentStepID = &id
	}
	if a.StepStartedAt != nil {
		t := *a.StepStartedAt
		c.StepStartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneWorkflow(w *domain.Workflow) *domain.Workflow {
	c := *w
	c.TakeEvents()
	c.Steps = make([]*domain.Step, len(w.Steps))
	for i, s := range w.Steps {
		sc := *s
		sc.TakeEvents()
		c.Steps[i] = &sc
	}
	return &c
}

type memApprovals struct {
	s  *memStore
	tx bool
}

func (r *memApprovals) Save(_ context.Context, a *domain.Approval) error {
	defer r.s.lock(r.tx)()
	if a.Version == 0 {
		if !a.IsCompleted() {
			for _, other := range r.s.approvals {
				if other.DocumentID == a.DocumentID && !other.IsCompleted() {
					return domain.ErrDuplicate
				}
			}
		}
	} else {
		stored, ok := r.s.approvals[a.ID]
		if !ok || stored.Version != a.Version {
			return domain.ErrConcurrentModification
		}
	}
	a.Version++
	r.s.approvals[a.ID] = cloneApproval(a)
	return nil
}

func (r *memApprovals) GetByID(_ context.Context, id uuid.UUID) (*domain.Approval, error) {
	defer r.s.lock(r.tx)()
	a, ok := r.s.approvals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneApproval(a), nil
}

func (r *memApprovals) GetByDocumentID(_ context.Context, documentID uuid.UUID) (*domain.Approval, error) {
	defer r.s.lock(r.tx)()
	var best *domain.Approval
	for _, a := range r.s.approvals {
		if a.DocumentID != documentID {
			continue
		}
		if best == nil || preferApproval(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return cloneApproval(best), nil
}

// preferApproval orders open approvals first, then the latest submission.
func preferApproval(a, b *domain.Approval) bool {
	if a.IsCompleted() != b.IsCompleted() {
		return !a.IsCompleted()
	}
	return a.SubmittedAt.After(b.SubmittedAt)
}

func (r *memApprovals) ListByStatus(_ context.Context, status domain.ApprovalStatus, limit int) ([]*domain.Approval, error) {
	defer r.s.lock(r.tx)()
	var out []*domain.Approval
	for _, a := range r.s.approvals {
		if a.Status == status {
			out = append(out, cloneApproval(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeoutReference().Before(out[j].TimeoutReference()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memApprovals) ListTimedOut(_ context.Context, now time.Time, limit int) ([]*domain.Approval, error) {
	defer r.s.lock(r.tx)()
	type due struct {
		a        *domain.Approval
		deadline time.Time
	}
	var candidates []due
	for _, a := range r.s.approvals {
		if !a.IsInProgress() || a.CurrentStepID == nil {
			continue
		}
		w, ok := r.s.workflows[a.WorkflowID]
		if !ok {
			continue
		}
		step := w.StepByID(*a.CurrentStepID)
		if step == nil || !step.IsTimeoutExceededAt(a.TimeoutReference(), now) {
			continue
		}
		if !step.AutoApproveOnTimeout && r.escalatedSince(a, step.ID) {
			continue
		}
		deadline, _ := step.TimeoutDeadline(a.TimeoutReference())
		candidates = append(candidates, due{a: cloneApproval(a), deadline: deadline})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].deadline.Before(candidates[j].deadline) })
	out := make([]*domain.Approval, 0, len(candidates))
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		out = append(out, c.a)
	}
	return out, nil
}

func (r *memApprovals) escalatedSince(a *domain.Approval, stepID uuid.UUID) bool {
	for _, act := range r.s.actions {
		if act.ApprovalID == a.ID && act.StepID == stepID && act.IsEscalation() && !act.CreatedAt.Before(a.TimeoutReference()) {
			return true
		}
	}
	return false
}

func (r *memApprovals) CountAtStep(_ context.Context, stepID uuid.UUID) (int, error) {
	defer r.s.lock(r.tx)()
	n := 0
	for _, a := range r.s.approvals {
		if a.IsInProgress() && a.CurrentStepID != nil && *a.CurrentStepID == stepID {
			n++
		}
	}
	return n, nil
}

func (r *memApprovals) ClearAssignees(_ context.Context, approvalID uuid.UUID) error {
	defer r.s.lock(r.tx)()
	for key := range r.s.assignees {
		if key[0] == approvalID {
			delete(r.s.assignees, key)
		}
	}
	return nil
}

func (r *memApprovals) AssignApprovers(_ context.Context, approvalID, stepID uuid.UUID, approvers []uuid.UUID) error {
	defer r.s.lock(r.tx)()
	key := [2]uuid.UUID{approvalID, stepID}
	current := append([]uuid.UUID(nil), r.s.assignees[key]...)
	for _, id := range approvers {
		found := false
		for _, c := range current {
			found = found || c == id
		}
		if !found {
			current = append(current, id)
		}
	}
	r.s.assignees[key] = current
	return nil
}

func (r *memApprovals) Assignees(_ context.Context, approvalID, stepID uuid.UUID) ([]uuid.UUID, error) {
	defer r.s.lock(r.tx)()
	return append([]uuid.UUID(nil), r.s.assignees[[2]uuid.UUID{approvalID, stepID}]...), nil
}

func (r *memApprovals) ListPendingForApprover(_ context.Context, approverID uuid.UUID, limit int) ([]*domain.Approval, error) {
	defer r.s.lock(r.tx)()
	var out []*domain.Approval
	for _, a := range r.s.approvals {
		if !a.IsInProgress() {
			continue
		}
		for _, id := range r.s.assignees[[2]uuid.UUID{a.ID, *a.CurrentStepID}] {
			if id == approverID {
				out = append(out, cloneApproval(a))
				break
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memWorkflows struct {
	s  *memStore
	tx bool
}

func (r *memWorkflows) Save(_ context.Context, w *domain.Workflow) error {
	defer r.s.lock(r.tx)()
	if w.Version == 0 {
		for _, other := range r.s.workflows {
			if other.Name == w.Name {
				return domain.ErrDuplicate
			}
		}
	} else if stored, ok := r.s.workflows[w.ID]; !ok || stored.Version != w.Version {
		return domain.ErrConcurrentModification
	}
	w.Version++
	r.s.workflows[w.ID] = cloneWorkflow(w)
	return nil
}

func (r *memWorkflows) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	defer r.s.lock(r.tx)()
	w, ok := r.s.workflows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneWorkflow(w), nil
}

func (r *memWorkflows) GetByName(_ context.Context, name string) (*domain.Workflow, error) {
	defer r.s.lock(r.tx)()
	for _, w := range r.s.workflows {
		if w.Name == name {
			return cloneWorkflow(w), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memWorkflows) ListActive(_ context.Context) ([]*domain.Workflow, error) {
	defer r.s.lock(r.tx)()
	var out []*domain.Workflow
	for _, w := range r.s.workflows {
		if w.IsActive {
			out = append(out, cloneWorkflow(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memActions struct {
	s  *memStore
	tx bool
}

func (r *memActions) Append(_ context.Context, a *domain.Action) error {
	defer r.s.lock(r.tx)()
	c := *a
	c.TakeEvents()
	r.s.actions = append(r.s.actions, &c)
	return nil
}

func (r *memActions) ListByApproval(_ context.Context, approvalID uuid.UUID) ([]*domain.Action, error) {
	defer r.s.lock(r.tx)()
	var out []*domain.Action
	for _, a := range r.s.actions {
		if a.ApprovalID == approvalID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memActions) ListByApprover(_ context.Context, approverID uuid.UUID, limit int) ([]*domain.Action, error) {
	defer r.s.lock(r.tx)()
	var out []*domain.Action
	for i := len(r.s.actions) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.actions[i].ApproverID == approverID {
			out = append(out, r.s.actions[i])
		}
	}
	return out, nil
}

type memSink struct {
	s  *memStore
	tx bool
}

func (r *memSink) Publish(_ context.Context, events []domain.Event) error {
	defer r.s.lock(r.tx)()
	r.s.events = append(r.s.events, events...)
	return nil
}

type memDocuments map[uuid.UUID]domain.DocumentView

func (m memDocuments) GetDocumentView(_ context.Context, id uuid.UUID) (domain.DocumentView, error) {
	doc, ok := m[id]
	if !ok {
		return domain.DocumentView{}, domain.ErrNotFound
	}
	return doc, nil
}

type fixedEscalator struct {
	target uuid.UUID
	err    error
	calls  int
}

func (f *fixedEscalator) EscalationTarget(context.Context, []uuid.UUID) (uuid.UUID, error) {
	f.calls++
	return f.target, f.err
}
