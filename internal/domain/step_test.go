package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func validStepParams(t ApproverType, c Criteria) StepParams {
	return StepParams{
		WorkflowID:       uuid.New(),
		Name:             "Department head",
		Description:      "Department head approval",
		Order:            1,
		ApproverType:     t,
		ApproverCriteria: c,
	}
}

func TestNewStep_Validation(t *testing.T) {
	t.Parallel()

	userID := uuid.NewString()
	tests := []struct {
		name    string
		mutate  func(p *StepParams)
		wantMsg string
	}{
		{name: "individual ok", mutate: func(p *StepParams) {}},
		{
			name:    "scenario C empty user_ids",
			mutate:  func(p *StepParams) { p.ApproverCriteria = Criteria{CriteriaUserIDs: []any{}} },
			wantMsg: "user_ids must be a non-empty list",
		},
		{
			name:    "individual missing user_ids",
			mutate:  func(p *StepParams) { p.ApproverCriteria = Criteria{CriteriaRoles: []any{"cfo"}} },
			wantMsg: "individual approver type must include user_ids",
		},
		{
			name:    "individual user_ids not a list",
			mutate:  func(p *StepParams) { p.ApproverCriteria = Criteria{CriteriaUserIDs: userID} },
			wantMsg: "user_ids must be a non-empty list",
		},
		{
			name:    "individual malformed id",
			mutate:  func(p *StepParams) { p.ApproverCriteria = Criteria{CriteriaUserIDs: []any{"alice"}} },
			wantMsg: "invalid user ID format",
		},
		{
			name: "role ok",
			mutate: func(p *StepParams) {
				p.ApproverType = ApproverTypeRole
				p.ApproverCriteria = Criteria{CriteriaRoles: []any{"finance_manager"}}
			},
		},
		{
			name: "role missing roles",
			mutate: func(p *StepParams) {
				p.ApproverType = ApproverTypeRole
				p.ApproverCriteria = Criteria{CriteriaUserIDs: []any{userID}}
			},
			wantMsg: "role approver type must include roles",
		},
		{
			name: "department missing ids",
			mutate: func(p *StepParams) {
				p.ApproverType = ApproverTypeDepartment
				p.ApproverCriteria = Criteria{CriteriaMinApprovers: 1}
			},
			wantMsg: "department approver type must include department_ids",
		},
		{
			name: "creator manager tolerates empty criteria",
			mutate: func(p *StepParams) {
				p.ApproverType = ApproverTypeCreatorManager
				p.ApproverCriteria = nil
			},
		},
		{
			name:    "empty criteria",
			mutate:  func(p *StepParams) { p.ApproverCriteria = Criteria{} },
			wantMsg: "approver criteria cannot be empty",
		},
		{
			name:    "unknown approver type",
			mutate:  func(p *StepParams) { p.ApproverType = "committee" },
			wantMsg: "invalid approver type",
		},
		{
			name: "min_approvers zero",
			mutate: func(p *StepParams) {
				p.ApproverType = ApproverTypeRole
				p.ApproverCriteria = Criteria{CriteriaRoles: []any{"cfo"}, CriteriaMinApprovers: 0}
			},
			wantMsg: "min_approvers must be a positive integer",
		},
		{name: "blank name", mutate: func(p *StepParams) { p.Name = " " }, wantMsg: "name cannot be empty"},
		{name: "blank description", mutate: func(p *StepParams) { p.Description = "" }, wantMsg: "description cannot be empty"},
		{name: "order zero", mutate: func(p *StepParams) { p.Order = 0 }, wantMsg: "step order must be at least 1"},
		{name: "zero timeout", mutate: func(p *StepParams) { p.TimeoutHours = intPtr(0) }, wantMsg: "timeout_hours must be positive"},
		{name: "missing workflow", mutate: func(p *StepParams) { p.WorkflowID = uuid.Nil }, wantMsg: "workflow ID cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validStepParams(ApproverTypeIndividual, Criteria{CriteriaUserIDs: []any{userID}})
			tt.mutate(&p)

			step, err := NewStep(p)
			if tt.wantMsg != "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, EntityStep, verr.Entity)
				assert.Contains(t, verr.Message, tt.wantMsg)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, step.ID)
			events := step.TakeEvents()
			require.Len(t, events, 1)
			created := events[0].(StepCreated)
			assert.Equal(t, step.ID, created.StepID)
			assert.Equal(t, p.ApproverType, created.ApproverType)
			assert.Empty(t, step.ValidateConfiguration())
		})
	}
}

func TestStep_ScenarioD_Timeout(t *testing.T) {
	t.Parallel()

	p := validStepParams(ApproverTypeIndividual, Criteria{CriteriaUserIDs: []any{uuid.NewString()}})
	p.TimeoutHours = intPtr(2)
	step, err := NewStep(p)
	require.NoError(t, err)

	now := time.Now()
	assert.True(t, step.IsTimeoutExceeded(now.Add(-3*time.Hour)))
	assert.False(t, step.IsTimeoutExceeded(now.Add(-1*time.Hour)))

	created := now.Add(-2 * time.Hour)
	assert.False(t, step.IsTimeoutExceededAt(created, created.Add(2*time.Hour)), "exactly at the deadline is not exceeded")
	assert.True(t, step.IsTimeoutExceededAt(created, created.Add(2*time.Hour+time.Second)))

	deadline, ok := step.TimeoutDeadline(created)
	require.True(t, ok)
	assert.Equal(t, created.Add(2*time.Hour), deadline)
}

func TestStep_NoTimeout(t *testing.T) {
	t.Parallel()

	step, err := NewStep(validStepParams(ApproverTypeIndividual, Criteria{CriteriaUserIDs: []any{uuid.NewString()}}))
	require.NoError(t, err)

	assert.False(t, step.IsTimeoutExceeded(time.Now().Add(-1000*time.Hour)))
	_, ok := step.TimeoutDeadline(time.Now())
	assert.False(t, ok)
	require.ErrorIs(t, step.HandleTimeout(uuid.New()), ErrValidation)
}

func TestStep_HandleTimeout(t *testing.T) {
	t.Parallel()

	for _, autoApprove := range []bool{true, false} {
		p := validStepParams(ApproverTypeIndividual, Criteria{CriteriaUserIDs: []any{uuid.NewString()}})
		p.TimeoutHours = intPtr(24)
		p.AutoApproveOnTimeout = autoApprove
		step, err := NewStep(p)
		require.NoError(t, err)
		step.TakeEvents()
		approvalID := uuid.New()

		require.NoError(t, step.HandleTimeout(approvalID))

		events := step.TakeEvents()
		require.Len(t, events, 1)
		occurred := events[0].(ApprovalTimeoutOccurred)
		assert.Equal(t, approvalID, occurred.ApprovalID)
		assert.Equal(t, approvalID, occurred.AggregateID())
		assert.Equal(t, step.ID, occurred.StepID)
		assert.Equal(t, 24, occurred.TimeoutHours)
		assert.Equal(t, !autoApprove, occurred.EscalationRequired)
	}
}

func TestStep_RequiredApproverCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     ApproverType
		criteria Criteria
		want     int
	}{
		{"individual counts user ids", ApproverTypeIndividual, Criteria{CriteriaUserIDs: []any{uuid.NewString(), uuid.NewString()}}, 2},
		{"role default", ApproverTypeRole, Criteria{CriteriaRoles: []any{"legal"}}, 1},
		{"role min approvers", ApproverTypeRole, Criteria{CriteriaRoles: []any{"legal"}, CriteriaMinApprovers: float64(3)}, 3},
		{"creator manager default", ApproverTypeCreatorManager, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			step, err := NewStep(validStepParams(tt.kind, tt.criteria))
			require.NoError(t, err)
			assert.Equal(t, tt.want, step.RequiredApproverCount())
		})
	}
}

func TestStep_ResolveApprovers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	doc := DocumentView{ID: uuid.New(), CreatorID: uuid.New()}

	t.Run("individual parses ids and removes duplicates", func(t *testing.T) {
		t.Parallel()
		step, err := NewStep(validStepParams(ApproverTypeIndividual, Criteria{
			CriteriaUserIDs: []any{alice.String(), bob.String(), alice.String()},
		}))
		require.NoError(t, err)

		ids, err := step.ResolveApprovers(ctx, doc, nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{alice, bob}, ids)

		ok, err := step.CanApprove(ctx, bob, doc, nil)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = step.CanApprove(ctx, uuid.New(), doc, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("individual malformed stored criteria", func(t *testing.T) {
		t.Parallel()
		step := &Step{ID: uuid.New(), ApproverType: ApproverTypeIndividual, ApproverCriteria: Criteria{CriteriaUserIDs: []any{"bob"}}}
		_, err := step.ResolveApprovers(ctx, doc, nil)
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("role without resolver resolves to nobody", func(t *testing.T) {
		t.Parallel()
		step, err := NewStep(validStepParams(ApproverTypeRole, Criteria{CriteriaRoles: []any{"legal"}}))
		require.NoError(t, err)
		ids, err := step.ResolveApprovers(ctx, doc, Resolvers{})
		require.NoError(t, err)
		assert.Empty(t, ids)
		ok, err := step.CanApprove(ctx, alice, doc, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("injected resolver", func(t *testing.T) {
		t.Parallel()
		step, err := NewStep(validStepParams(ApproverTypeCreatorManager, nil))
		require.NoError(t, err)
		resolvers := Resolvers{
			ApproverTypeCreatorManager: ApproverResolverFunc(func(_ context.Context, _ Criteria, d DocumentView) ([]uuid.UUID, error) {
				assert.Equal(t, doc.CreatorID, d.CreatorID)
				return []uuid.UUID{bob}, nil
			}),
		}
		ok, err := step.CanApprove(ctx, bob, doc, resolvers)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("resolver error is wrapped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("directory unavailable")
		step, err := NewStep(validStepParams(ApproverTypeDepartment, Criteria{CriteriaDepartmentIDs: []any{uuid.NewString()}}))
		require.NoError(t, err)
		resolvers := Resolvers{
			ApproverTypeDepartment: ApproverResolverFunc(func(context.Context, Criteria, DocumentView) ([]uuid.UUID, error) {
				return nil, boom
			}),
		}
		_, err = step.ResolveApprovers(ctx, doc, resolvers)
		require.ErrorIs(t, err, boom)
	})
}

func TestStep_UpdateApproverCriteria(t *testing.T) {
	t.Parallel()

	old := Criteria{CriteriaUserIDs: []any{uuid.NewString()}}
	step, err := NewStep(validStepParams(ApproverTypeIndividual, old))
	require.NoError(t, err)
	step.TakeEvents()

	require.ErrorIs(t, step.UpdateApproverCriteria(Criteria{}), ErrValidation)
	require.ErrorIs(t, step.UpdateApproverCriteria(Criteria{CriteriaUserIDs: []any{"nope"}}), ErrValidation)
	assert.Equal(t, old, step.ApproverCriteria)

	updated := Criteria{CriteriaUserIDs: []any{uuid.NewString(), uuid.NewString()}}
	require.NoError(t, step.UpdateApproverCriteria(updated))
	assert.Equal(t, updated, step.ApproverCriteria)

	events := step.TakeEvents()
	require.Len(t, events, 1)
	change := events[0].(StepUpdated).Changes["approver_criteria"]
	assert.Equal(t, old, change.Before)
	assert.Equal(t, updated, change.After)

	require.NoError(t, step.UpdateApproverCriteria(updated.Clone()))
	assert.Empty(t, step.TakeEvents(), "unchanged criteria emit nothing")
}

func TestStep_UpdateTimeoutSettings(t *testing.T) {
	t.Parallel()

	step, err := NewStep(validStepParams(ApproverTypeIndividual, Criteria{CriteriaUserIDs: []any{uuid.NewString()}}))
	require.NoError(t, err)
	step.TakeEvents()

	require.ErrorIs(t, step.UpdateTimeoutSettings(intPtr(0), nil), ErrValidation)
	assert.Nil(t, step.TimeoutHours)

	require.NoError(t, step.UpdateTimeoutSettings(intPtr(48), boolPtr(true)))
	assert.Equal(t, 48, *step.TimeoutHours)
	assert.True(t, step.AutoApproveOnTimeout)
	events := step.TakeEvents()
	require.Len(t, events, 1)
	changes := events[0].(StepUpdated).Changes
	assert.Equal(t, FieldChange{Before: nil, After: 48}, changes["timeout_hours"])
	assert.Equal(t, FieldChange{Before: false, After: true}, changes["auto_approve_on_timeout"])

	require.NoError(t, step.UpdateTimeoutSettings(intPtr(48), nil))
	assert.Empty(t, step.TakeEvents())

	require.NoError(t, step.UpdateTimeoutSettings(nil, nil))
	assert.Nil(t, step.TimeoutHours)
	assert.Len(t, step.TakeEvents(), 1)
}

func TestStep_ValidateConfiguration(t *testing.T) {
	t.Parallel()

	step := &Step{
		ApproverType:         ApproverTypeRole,
		ApproverCriteria:     Criteria{CriteriaRoles: []any{}},
		AutoApproveOnTimeout: true,
	}
	problems := step.ValidateConfiguration()
	assert.Contains(t, problems, "step ID cannot be empty")
	assert.Contains(t, problems, "workflow ID cannot be empty")
	assert.Contains(t, problems, "name cannot be empty")
	assert.Contains(t, problems, "step order must be at least 1")
	assert.Contains(t, problems, "auto approve on timeout requires timeout_hours")
	assert.Contains(t, problems, "roles must be a non-empty list")
	assert.True(t, step.IsSequential())
}
