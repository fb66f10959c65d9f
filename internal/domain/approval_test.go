package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflow(t *testing.T, orders ...int) *Workflow {
	t.Helper()
	wf, err := NewWorkflow("Expense approval", "Expense reports above the team limit", nil, nil, nil)
	require.NoError(t, err)
	for _, order := range orders {
		step, err := NewStep(StepParams{
			WorkflowID:       wf.ID,
			Name:             fmt.Sprintf("Level %d review", order),
			Description:      "Manager review",
			Order:            order,
			ApproverType:     ApproverTypeIndividual,
			ApproverCriteria: Criteria{CriteriaUserIDs: []string{uuid.NewString()}},
		})
		require.NoError(t, err)
		require.NoError(t, wf.AddStep(step))
	}
	wf.TakeEvents()
	return wf
}

func newTestApproval(t *testing.T, wf *Workflow) *Approval {
	t.Helper()
	a, err := NewApproval(uuid.New(), wf.ID, uuid.New())
	require.NoError(t, err)
	return a
}

// approvalIn drives a fresh approval into status through public operations.
func approvalIn(t *testing.T, wf *Workflow, status ApprovalStatus) *Approval {
	t.Helper()
	a := newTestApproval(t, wf)
	approver := uuid.New()
	switch status {
	case ApprovalStatusPending:
	case ApprovalStatusInProgress:
		require.NoError(t, a.Submit(wf, []uuid.UUID{approver}))
	case ApprovalStatusApproved:
		require.NoError(t, a.Submit(wf, []uuid.UUID{approver}))
		require.NoError(t, a.CompleteApproval(approver))
	case ApprovalStatusRejected:
		require.NoError(t, a.Submit(wf, []uuid.UUID{approver}))
		require.NoError(t, a.Reject(*a.CurrentStepID, approver, "no budget"))
	case ApprovalStatusRequiresChanges:
		require.NoError(t, a.Submit(wf, []uuid.UUID{approver}))
		require.NoError(t, a.RequestChanges(*a.CurrentStepID, approver, "attach receipts"))
	case ApprovalStatusCancelled:
		require.NoError(t, a.Cancel(a.SubmittedBy, "duplicate"))
	default:
		t.Fatalf("unsupported status %s", status)
	}
	a.TakeEvents()
	require.Equal(t, status, a.Status)
	return a
}

func TestNewApproval(t *testing.T) {
	t.Parallel()

	doc, wf, user := uuid.New(), uuid.New(), uuid.New()
	tests := []struct {
		name    string
		doc     uuid.UUID
		wf      uuid.UUID
		user    uuid.UUID
		wantMsg string
	}{
		{name: "valid", doc: doc, wf: wf, user: user},
		{name: "missing document", wf: wf, user: user, wantMsg: "document ID cannot be empty"},
		{name: "missing workflow", doc: doc, user: user, wantMsg: "workflow ID cannot be empty"},
		{name: "missing submitter", doc: doc, wf: wf, wantMsg: "submitter ID cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := NewApproval(tt.doc, tt.wf, tt.user)
			if tt.wantMsg != "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, EntityApproval, verr.Entity)
				assert.Contains(t, verr.Message, tt.wantMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ApprovalStatusPending, a.Status)
			assert.Nil(t, a.CurrentStepID)
			assert.Nil(t, a.CompletedAt)
			assert.False(t, a.SubmittedAt.IsZero())
			assert.Empty(t, a.ValidateInvariants())
			assert.Empty(t, a.TakeEvents())
		})
	}
}

func TestApproval_TransitionTableClosure(t *testing.T) {
	t.Parallel()

	type operation struct {
		name    string
		allowed map[ApprovalStatus]ApprovalStatus
		apply   func(a *Approval, wf *Workflow) error
	}

	stepOf := func(a *Approval, wf *Workflow) uuid.UUID {
		if a.CurrentStepID != nil {
			return *a.CurrentStepID
		}
		return wf.FirstStep().ID
	}

	operations := []operation{
		{
			name:    OpSubmit,
			allowed: map[ApprovalStatus]ApprovalStatus{ApprovalStatusPending: ApprovalStatusInProgress},
			apply: func(a *Approval, wf *Workflow) error {
				return a.Submit(wf, []uuid.UUID{uuid.New()})
			},
		},
		{
			name:    OpApproveStep,
			allowed: map[ApprovalStatus]ApprovalStatus{ApprovalStatusInProgress: ApprovalStatusInProgress},
			apply: func(a *Approval, wf *Workflow) error {
				return a.ApproveStep(stepOf(a, wf), uuid.New(), "looks good")
			},
		},
		{
			name:    OpReject,
			allowed: map[ApprovalStatus]ApprovalStatus{ApprovalStatusInProgress: ApprovalStatusRejected},
			apply: func(a *Approval, wf *Workflow) error {
				return a.Reject(stepOf(a, wf), uuid.New(), "not justified")
			},
		},
		{
			name:    OpRequestChanges,
			allowed: map[ApprovalStatus]ApprovalStatus{ApprovalStatusInProgress: ApprovalStatusRequiresChanges},
			apply: func(a *Approval, wf *Workflow) error {
				return a.RequestChanges(stepOf(a, wf), uuid.New(), "missing totals")
			},
		},
		{
			name:    OpProgressToNextStep,
			allowed: map[ApprovalStatus]ApprovalStatus{ApprovalStatusInProgress: ApprovalStatusInProgress},
			apply: func(a *Approval, wf *Workflow) error {
				next := wf.StepByOrder(2).ID
				return a.ProgressToNextStep(&next)
			},
		},
		{
			name:    OpCompleteApproval,
			allowed: map[ApprovalStatus]ApprovalStatus{ApprovalStatusInProgress: ApprovalStatusApproved},
			apply: func(a *Approval, _ *Workflow) error {
				return a.CompleteApproval(uuid.Nil)
			},
		},
		{
			name: OpCancel,
			allowed: map[ApprovalStatus]ApprovalStatus{
				ApprovalStatusPending:         ApprovalStatusCancelled,
				ApprovalStatusInProgress:      ApprovalStatusCancelled,
				ApprovalStatusRequiresChanges: ApprovalStatusCancelled,
			},
			apply: func(a *Approval, _ *Workflow) error {
				return a.Cancel(uuid.New(), "withdrawn")
			},
		},
		{
			name:    OpResetForResubmission,
			allowed: map[ApprovalStatus]ApprovalStatus{ApprovalStatusRequiresChanges: ApprovalStatusPending},
			apply: func(a *Approval, _ *Workflow) error {
				return a.ResetForResubmission(nil)
			},
		},
	}

	for _, op := range operations {
		for _, from := range ApprovalStatuses() {
			op, from := op, from
			t.Run(op.name+"/"+string(from), func(t *testing.T) {
				t.Parallel()
				wf := newTestWorkflow(t, 1, 2)
				a := approvalIn(t, wf, from)

				err := op.apply(a, wf)

				if want, ok := op.allowed[from]; ok {
					require.NoError(t, err)
					assert.Equal(t, want, a.Status)
					assert.Empty(t, a.ValidateInvariants())
					return
				}
				require.ErrorIs(t, err, ErrInvalidState)
				var serr *StateError
				require.ErrorAs(t, err, &serr)
				assert.Equal(t, from, serr.From)
				assert.Equal(t, op.name, serr.Operation)
				assert.Contains(t, err.Error(), string(from))
				assert.Contains(t, err.Error(), op.name)
				assert.Equal(t, from, a.Status, "status must not change on failure")
				assert.Empty(t, a.TakeEvents(), "no events on failure")
			})
		}
	}
}

func TestApproval_ScenarioA_Submit(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1, 2)
	a := newTestApproval(t, wf)
	a1, a2 := uuid.New(), uuid.New()

	require.NoError(t, a.Submit(wf, []uuid.UUID{a1, a2}))

	assert.Equal(t, ApprovalStatusInProgress, a.Status)
	require.NotNil(t, a.CurrentStepID)
	assert.Equal(t, wf.FirstStep().ID, *a.CurrentStepID)
	require.NotNil(t, a.StepStartedAt)

	events := a.TakeEvents()
	require.Len(t, events, 1)
	submitted, ok := events[0].(SubmittedForApproval)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{a1, a2}, submitted.Approvers)
	assert.Equal(t, a.ID, submitted.ApprovalID)
	assert.Equal(t, wf.ID, submitted.WorkflowID)
	assert.Equal(t, a.SubmittedBy, submitted.SubmittedBy)
	assert.Empty(t, a.TakeEvents(), "events are cleared on read")
}

func TestApproval_ScenarioB_Reject(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1, 2)
	a := newTestApproval(t, wf)
	a1 := uuid.New()
	require.NoError(t, a.Submit(wf, []uuid.UUID{a1, uuid.New()}))
	a.TakeEvents()

	require.NoError(t, a.Reject(*a.CurrentStepID, a1, "insufficient detail"))

	assert.Equal(t, ApprovalStatusRejected, a.Status)
	assert.NotNil(t, a.CompletedAt)
	assert.Nil(t, a.CurrentStepID)

	events := a.TakeEvents()
	require.Len(t, events, 2)
	rejected, ok := events[0].(Rejected)
	require.True(t, ok)
	assert.Equal(t, "insufficient detail", rejected.Comment)
	assert.Equal(t, a1, rejected.ApproverID)
	completed, ok := events[1].(WorkflowCompleted)
	require.True(t, ok)
	assert.Equal(t, ApprovalStatusRejected, completed.FinalStatus)
	assert.Equal(t, a1, completed.CompletedBy)
}

func TestApproval_ScenarioE_ProgressToSameStep(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1, 2)
	a := approvalIn(t, wf, ApprovalStatusInProgress)
	same := *a.CurrentStepID

	err := a.ProgressToNextStep(&same)

	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, same, *a.CurrentStepID)
	assert.Empty(t, a.TakeEvents())
}

func TestApproval_Submit_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		workflow  func(wf *Workflow) *Workflow
		approvers []uuid.UUID
		wantMsg   string
	}{
		{
			name:      "nil workflow",
			workflow:  func(*Workflow) *Workflow { return nil },
			approvers: []uuid.UUID{uuid.New()},
			wantMsg:   "workflow cannot be empty",
		},
		{
			name: "different workflow",
			workflow: func(*Workflow) *Workflow {
				other, _ := NewWorkflow("Other", "Other flow", nil, nil, nil)
				return other
			},
			approvers: []uuid.UUID{uuid.New()},
			wantMsg:   "does not match",
		},
		{
			name: "workflow without steps",
			workflow: func(wf *Workflow) *Workflow {
				wf.Steps = nil
				return wf
			},
			approvers: []uuid.UUID{uuid.New()},
			wantMsg:   "workflow has no steps",
		},
		{
			name: "inactive workflow",
			workflow: func(wf *Workflow) *Workflow {
				wf.Deactivate()
				return wf
			},
			approvers: []uuid.UUID{uuid.New()},
			wantMsg:   "not active",
		},
		{
			name:     "empty approvers",
			workflow: func(wf *Workflow) *Workflow { return wf },
			wantMsg:  "approver list cannot be empty",
		},
		{
			name:      "nil approver",
			workflow:  func(wf *Workflow) *Workflow { return wf },
			approvers: []uuid.UUID{uuid.New(), uuid.Nil},
			wantMsg:   "approver ID cannot be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wf := newTestWorkflow(t, 1)
			a := newTestApproval(t, wf)

			err := a.Submit(tt.workflow(wf), tt.approvers)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Message, tt.wantMsg)
			assert.Equal(t, ApprovalStatusPending, a.Status)
			assert.Nil(t, a.CurrentStepID)
		})
	}
}

func TestApproval_Decisions_Validation(t *testing.T) {
	t.Parallel()

	decisions := map[string]func(a *Approval, step, approver uuid.UUID, comment string) error{
		OpApproveStep:    (*Approval).ApproveStep,
		OpReject:         (*Approval).Reject,
		OpRequestChanges: (*Approval).RequestChanges,
	}
	for name, decide := range decisions {
		decide := decide
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			wf := newTestWorkflow(t, 1, 2)
			a := approvalIn(t, wf, ApprovalStatusInProgress)
			current := *a.CurrentStepID

			err := decide(a, wf.StepByOrder(2).ID, uuid.New(), "ok")
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), "current step")

			err = decide(a, current, uuid.Nil, "ok")
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), "approver ID cannot be empty")

			err = decide(a, current, uuid.New(), "   ")
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), "comment cannot be empty")

			err = decide(a, current, uuid.New(), strings.Repeat("x", MaxCommentLength+1))
			require.ErrorIs(t, err, ErrValidation)

			assert.Equal(t, ApprovalStatusInProgress, a.Status)
			assert.Empty(t, a.TakeEvents())
		})
	}
}

func TestApproval_ApproveStep_DoesNotAdvance(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1, 2)
	a := approvalIn(t, wf, ApprovalStatusInProgress)
	current := *a.CurrentStepID
	approver := uuid.New()

	require.NoError(t, a.ApproveStep(current, approver, "  fine by me  "))

	assert.Equal(t, ApprovalStatusInProgress, a.Status)
	assert.Equal(t, current, *a.CurrentStepID)
	events := a.TakeEvents()
	require.Len(t, events, 1)
	approved, ok := events[0].(Approved)
	require.True(t, ok)
	assert.Equal(t, "fine by me", approved.Comment)
	assert.Equal(t, current, approved.StepID)
	assert.Equal(t, a.DocumentID, approved.DocumentID)
}

func TestApproval_ProgressThroughSteps(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1, 2)
	a := approvalIn(t, wf, ApprovalStatusInProgress)
	first := wf.StepByOrder(1).ID
	second := wf.StepByOrder(2).ID

	require.NoError(t, a.ProgressToNextStep(&second))
	assert.Equal(t, second, *a.CurrentStepID)
	events := a.TakeEvents()
	require.Len(t, events, 1)
	stepDone := events[0].(ApprovalStepCompleted)
	assert.Equal(t, first, stepDone.StepID)
	require.NotNil(t, stepDone.NextStepID)
	assert.Equal(t, second, *stepDone.NextStepID)

	require.NoError(t, a.ProgressToNextStep(nil))
	assert.Equal(t, ApprovalStatusApproved, a.Status)
	assert.Nil(t, a.CurrentStepID)
	assert.NotNil(t, a.CompletedAt)
	events = a.TakeEvents()
	require.Len(t, events, 2)
	last := events[0].(ApprovalStepCompleted)
	assert.Equal(t, second, last.StepID)
	assert.Nil(t, last.NextStepID)
	completed := events[1].(WorkflowCompleted)
	assert.Equal(t, ApprovalStatusApproved, completed.FinalStatus)
	assert.Equal(t, a.SubmittedBy, completed.CompletedBy)
	assert.Empty(t, a.ValidateInvariants())
}

func TestApproval_ProgressToNilStep(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1)
	a := approvalIn(t, wf, ApprovalStatusInProgress)
	empty := uuid.Nil

	require.ErrorIs(t, a.ProgressToNextStep(&empty), ErrValidation)
}

func TestApproval_RequestChanges_LeavesCompletedAtEmpty(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1)
	a := approvalIn(t, wf, ApprovalStatusInProgress)

	require.NoError(t, a.RequestChanges(*a.CurrentStepID, uuid.New(), "add cost center"))

	assert.Equal(t, ApprovalStatusRequiresChanges, a.Status)
	assert.Nil(t, a.CompletedAt)
	assert.Nil(t, a.CurrentStepID)
	assert.False(t, a.IsCompleted())
	assert.True(t, a.IsPendingChanges())
	assert.Empty(t, a.ValidateInvariants())

	events := a.TakeEvents()
	require.Len(t, events, 1, "requires_changes emits no WorkflowCompleted")
	_, ok := events[0].(ChangesRequested)
	assert.True(t, ok)
}

func TestApproval_RoundTrip_Resubmission(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1, 2)
	a := newTestApproval(t, wf)
	require.NoError(t, a.Submit(wf, []uuid.UUID{uuid.New()}))
	require.NoError(t, a.RequestChanges(*a.CurrentStepID, uuid.New(), "fix totals"))
	require.NoError(t, a.ResetForResubmission(nil))

	assert.Equal(t, ApprovalStatusPending, a.Status)
	assert.Nil(t, a.CurrentStepID)
	assert.Nil(t, a.CompletedAt)
	assert.Equal(t, wf.ID, a.WorkflowID)

	require.NoError(t, a.Submit(wf, []uuid.UUID{uuid.New()}))
	assert.Equal(t, ApprovalStatusInProgress, a.Status)
}

func TestApproval_ResetForResubmission_RebindsWorkflow(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1)
	stricter := newTestWorkflow(t, 1, 2)
	a := approvalIn(t, wf, ApprovalStatusRequiresChanges)

	require.NoError(t, a.ResetForResubmission(&stricter.ID))

	assert.Equal(t, stricter.ID, a.WorkflowID)
	events := a.TakeEvents()
	require.Len(t, events, 1)
	reset := events[0].(ApprovalResetForResubmission)
	assert.Equal(t, wf.ID, reset.PreviousWorkflowID)
	assert.Equal(t, stricter.ID, reset.WorkflowID)

	require.NoError(t, a.Submit(stricter, []uuid.UUID{uuid.New()}))
	assert.Equal(t, stricter.FirstStep().ID, *a.CurrentStepID)

	empty := uuid.Nil
	other := approvalIn(t, wf, ApprovalStatusRequiresChanges)
	require.ErrorIs(t, other.ResetForResubmission(&empty), ErrValidation)
}

func TestApproval_Cancel(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1)
	a := approvalIn(t, wf, ApprovalStatusInProgress)
	canceller := uuid.New()

	require.ErrorIs(t, a.Cancel(uuid.Nil, "x"), ErrValidation)
	require.NoError(t, a.Cancel(canceller, "  superseded  "))

	assert.Equal(t, ApprovalStatusCancelled, a.Status)
	assert.NotNil(t, a.CompletedAt)
	assert.Nil(t, a.CurrentStepID)
	events := a.TakeEvents()
	require.Len(t, events, 1)
	completed := events[0].(WorkflowCompleted)
	assert.Equal(t, ApprovalStatusCancelled, completed.FinalStatus)
	assert.Equal(t, canceller, completed.CompletedBy)
	assert.Equal(t, "superseded", completed.Reason)
}

func TestApproval_InvariantsHoldAfterEveryMutation(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1, 2, 3)
	a := newTestApproval(t, wf)
	check := func() {
		t.Helper()
		assert.Empty(t, a.ValidateInvariants())
		assert.Equal(t, a.Status == ApprovalStatusInProgress, a.CurrentStepID != nil)
		assert.Equal(t, a.Status.IsTerminal(), a.CompletedAt != nil)
	}

	approver := uuid.New()
	check()
	require.NoError(t, a.Submit(wf, []uuid.UUID{approver}))
	check()
	require.NoError(t, a.ApproveStep(*a.CurrentStepID, approver, "ok"))
	check()
	next := wf.NextStep(*a.CurrentStepID)
	require.NoError(t, a.ProgressToNextStep(&next.ID))
	check()
	require.NoError(t, a.RequestChanges(*a.CurrentStepID, approver, "more detail"))
	check()
	require.NoError(t, a.ResetForResubmission(nil))
	check()
	require.NoError(t, a.Submit(wf, []uuid.UUID{approver}))
	check()
	require.NoError(t, a.Reject(*a.CurrentStepID, approver, "no"))
	check()
}

func TestApproval_ValidateInvariants_ReportsViolations(t *testing.T) {
	t.Parallel()

	now := time.Now()
	step := uuid.New()
	a := &Approval{Status: ApprovalStatusInProgress}
	problems := a.ValidateInvariants()
	assert.Contains(t, problems, "approval ID cannot be empty")
	assert.Contains(t, problems, "document ID cannot be empty")
	assert.Contains(t, problems, "workflow ID cannot be empty")
	assert.Contains(t, problems, "submitter ID cannot be empty")
	assert.Contains(t, problems, "in-progress approval must have a current step")

	b := &Approval{
		ID: uuid.New(), DocumentID: uuid.New(), WorkflowID: uuid.New(), SubmittedBy: uuid.New(),
		Status: ApprovalStatusPending, CurrentStepID: &step, CompletedAt: &now, SubmittedAt: now,
	}
	problems = b.ValidateInvariants()
	assert.Contains(t, problems, "only in-progress approvals may have a current step")
	assert.Contains(t, problems, "only completed approvals may have a completion time")

	c := &Approval{
		ID: uuid.New(), DocumentID: uuid.New(), WorkflowID: uuid.New(), SubmittedBy: uuid.New(),
		Status: ApprovalStatusApproved, SubmittedAt: now,
	}
	assert.Contains(t, c.ValidateInvariants(), "completed approval must have a completion time")
}

func TestApproval_QueryHelpers(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t, 1)
	a := approvalIn(t, wf, ApprovalStatusInProgress)
	assert.True(t, a.IsInProgress())
	assert.False(t, a.IsCompleted())

	_, ok := a.Duration()
	assert.False(t, ok)
	elapsed, ok := a.CurrentStepDuration()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	assert.Equal(t, *a.StepStartedAt, a.TimeoutReference())

	submitted := time.Now().Add(-2 * time.Hour).UTC()
	a.SubmittedAt = submitted
	require.NoError(t, a.CompleteApproval(uuid.Nil))
	d, ok := a.Duration()
	require.True(t, ok)
	assert.InDelta(t, (2 * time.Hour).Seconds(), d.Seconds(), 5)
	assert.True(t, a.IsCompleted())
	_, ok = a.CurrentStepDuration()
	assert.False(t, ok)
	assert.Equal(t, submitted, a.TimeoutReference())
}

func TestStateError_Message(t *testing.T) {
	t.Parallel()

	err := &StateError{From: ApprovalStatusApproved, To: ApprovalStatusCancelled, Operation: OpCancel}
	assert.Equal(t, "cannot cancel from approved state: transition approved -> cancelled is not allowed", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrValidation))

	pre := &StateError{From: ApprovalStatusPending, Operation: OpApproveStep}
	assert.Equal(t, "cannot approve_step from pending state", pre.Error())
}
