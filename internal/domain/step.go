package domain

import (
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Field length limits shared by workflows and steps.
const (
	MaxNameLength        = 200
	MaxDescriptionLength = 1000
)

// Step is one stage of a Workflow.
type Step struct {
	ID                   uuid.UUID
	WorkflowID           uuid.UUID
	Name                 string
	Description          string
	Order                int
	ApproverType         ApproverType
	ApproverCriteria     Criteria
	IsParallel           bool
	TimeoutHours         *int
	AutoApproveOnTimeout bool
	CreatedAt            time.Time

	events []Event
}

// StepParams holds the inputs of NewStep. A zero ID is generated.
type StepParams struct {
	ID                   uuid.UUID
	WorkflowID           uuid.UUID
	Name                 string
	Description          string
	Order                int
	ApproverType         ApproverType
	ApproverCriteria     Criteria
	IsParallel           bool
	TimeoutHours         *int
	AutoApproveOnTimeout bool
}

// NewStep validates p and returns a step with a pending StepCreated event.
func NewStep(p StepParams) (*Step, error) {
	if p.WorkflowID == uuid.Nil {
		return nil, newValidationError(EntityStep, "workflow ID cannot be empty")
	}
	name, err := requireText(EntityStep, "name", p.Name, MaxNameLength)
	if err != nil {
		return nil, err
	}
	description, err := requireText(EntityStep, "description", p.Description, MaxDescriptionLength)
	if err != nil {
		return nil, err
	}
	if p.Order < 1 {
		return nil, newValidationError(EntityStep, "step order must be at least 1")
	}
	if err := validateTimeoutHours(p.TimeoutHours); err != nil {
		return nil, err
	}
	if err := validateApproverCriteria(p.ApproverType, p.ApproverCriteria); err != nil {
		return nil, err
	}

	id := p.ID
	if id == uuid.Nil {
		id = newID()
	}
	now := time.Now().UTC()
	s := &Step{
		ID:                   id,
		WorkflowID:           p.WorkflowID,
		Name:                 name,
		Description:          description,
		Order:                p.Order,
		ApproverType:         p.ApproverType,
		ApproverCriteria:     p.ApproverCriteria.Clone(),
		IsParallel:           p.IsParallel,
		TimeoutHours:         copyInt(p.TimeoutHours),
		AutoApproveOnTimeout: p.AutoApproveOnTimeout,
		CreatedAt:            now,
	}
	s.record(StepCreated{
		StepID:       s.ID,
		WorkflowID:   s.WorkflowID,
		Name:         s.Name,
		Order:        s.Order,
		ApproverType: s.ApproverType,
		IsParallel:   s.IsParallel,
		Timestamp:    now,
	})
	return s, nil
}

// IsSequential reports whether the step takes a single decision.
func (s *Step) IsSequential() bool {
	return !s.IsParallel
}

// IsTimeoutExceeded reports whether more than TimeoutHours have elapsed since since.
func (s *Step) IsTimeoutExceeded(since time.Time) bool {
	return s.IsTimeoutExceededAt(since, time.Now())
}

// IsTimeoutExceededAt is IsTimeoutExceeded evaluated at now.
func (s *Step) IsTimeoutExceededAt(since, now time.Time) bool {
	if s.TimeoutHours == nil {
		return false
	}
	return now.Sub(since) > time.Duration(*s.TimeoutHours)*time.Hour
}

// TimeoutDeadline returns since + TimeoutHours, or false when no timeout is configured.
func (s *Step) TimeoutDeadline(since time.Time) (time.Time, bool) {
	if s.TimeoutHours == nil {
		return time.Time{}, false
	}
	return since.Add(time.Duration(*s.TimeoutHours) * time.Hour), true
}

// HandleTimeout records an ApprovalTimeoutOccurred event for approvalID.
// The approval itself is not touched.
func (s *Step) HandleTimeout(approvalID uuid.UUID) error {
	if approvalID == uuid.Nil {
		return newValidationError(EntityStep, "approval ID cannot be empty")
	}
	if s.TimeoutHours == nil {
		return newValidationError(EntityStep, "step %s has no timeout configured", s.ID)
	}
	s.record(ApprovalTimeoutOccurred{
		ApprovalID:         approvalID,
		StepID:             s.ID,
		TimeoutHours:       *s.TimeoutHours,
		EscalationRequired: !s.AutoApproveOnTimeout,
		Timestamp:          time.Now().UTC(),
	})
	return nil
}

// RequiredApproverCount is the number of approvals the step needs.
func (s *Step) RequiredApproverCount() int {
	if s.ApproverType == ApproverTypeIndividual {
		ids, _ := s.ApproverCriteria.StringList(CriteriaUserIDs)
		return len(ids)
	}
	if n, ok := s.ApproverCriteria.PositiveInt(CriteriaMinApprovers); ok {
		return n
	}
	return 1
}

// UpdateApproverCriteria replaces the approver criteria after validating them.
func (s *Step) UpdateApproverCriteria(criteria Criteria) error {
	if err := validateApproverCriteria(s.ApproverType, criteria); err != nil {
		return err
	}
	if reflect.DeepEqual(s.ApproverCriteria, criteria) {
		return nil
	}
	before := s.ApproverCriteria
	s.ApproverCriteria = criteria.Clone()
	s.record(StepUpdated{
		StepID:     s.ID,
		WorkflowID: s.WorkflowID,
		Changes: map[string]FieldChange{
			"approver_criteria": {Before: before, After: s.ApproverCriteria},
		},
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// UpdateTimeoutSettings sets the timeout. A nil hours removes the timeout;
// a nil autoApprove keeps the current flag.
func (s *Step) UpdateTimeoutSettings(hours *int, autoApprove *bool) error {
	if err := validateTimeoutHours(hours); err != nil {
		return err
	}
	changes := make(map[string]FieldChange)
	if !equalIntPtr(s.TimeoutHours, hours) {
		changes["timeout_hours"] = FieldChange{Before: intPtrValue(s.TimeoutHours), After: intPtrValue(hours)}
		s.TimeoutHours = copyInt(hours)
	}
	if autoApprove != nil && *autoApprove != s.AutoApproveOnTimeout {
		changes["auto_approve_on_timeout"] = FieldChange{Before: s.AutoApproveOnTimeout, After: *autoApprove}
		s.AutoApproveOnTimeout = *autoApprove
	}
	if len(changes) == 0 {
		return nil
	}
	s.record(StepUpdated{
		StepID:     s.ID,
		WorkflowID: s.WorkflowID,
		Changes:    changes,
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

// ValidateConfiguration lists configuration problems without failing.
func (s *Step) ValidateConfiguration() []string {
	var problems []string
	if s.ID == uuid.Nil {
		problems = append(problems, "step ID cannot be empty")
	}
	if s.WorkflowID == uuid.Nil {
		problems = append(problems, "workflow ID cannot be empty")
	}
	if _, err := requireText(EntityStep, "name", s.Name, MaxNameLength); err != nil {
		problems = append(problems, err.(*ValidationError).Message)
	}
	if _, err := requireText(EntityStep, "description", s.Description, MaxDescriptionLength); err != nil {
		problems = append(problems, err.(*ValidationError).Message)
	}
	if s.Order < 1 {
		problems = append(problems, "step order must be at least 1")
	}
	if err := validateTimeoutHours(s.TimeoutHours); err != nil {
		problems = append(problems, err.(*ValidationError).Message)
	}
	if s.AutoApproveOnTimeout && s.TimeoutHours == nil {
		problems = append(problems, "auto approve on timeout requires timeout_hours")
	}
	if err := validateApproverCriteria(s.ApproverType, s.ApproverCriteria); err != nil {
		problems = append(problems, err.(*ValidationError).Message)
	}
	return problems
}

// TakeEvents returns and clears the pending events.
func (s *Step) TakeEvents() []Event {
	events := s.events
	s.events = nil
	return events
}

func (s *Step) record(e Event) {
	s.events = append(s.events, e)
}

func validateApproverCriteria(t ApproverType, c Criteria) error {
	if !t.Valid() {
		return newValidationError(EntityStep, "invalid approver type %q", t)
	}
	if len(c) == 0 {
		if t == ApproverTypeCreatorManager {
			return nil
		}
		return newValidationError(EntityStep, "approver criteria cannot be empty")
	}

	switch t {
	case ApproverTypeIndividual:
		if err := requireList(c, t, CriteriaUserIDs); err != nil {
			return err
		}
		if _, err := c.UUIDList(CriteriaUserIDs); err != nil {
			return newValidationError(EntityStep, "invalid user ID format: %v", err)
		}
	case ApproverTypeRole:
		if err := requireList(c, t, CriteriaRoles); err != nil {
			return err
		}
	case ApproverTypeDepartment:
		if err := requireList(c, t, CriteriaDepartmentIDs); err != nil {
			return err
		}
		if _, err := c.UUIDList(CriteriaDepartmentIDs); err != nil {
			return newValidationError(EntityStep, "invalid department ID format: %v", err)
		}
	}

	if _, present := c[CriteriaMinApprovers]; present {
		if _, ok := c.PositiveInt(CriteriaMinApprovers); !ok {
			return newValidationError(EntityStep, "%s must be a positive integer", CriteriaMinApprovers)
		}
	}
	return nil
}

func requireList(c Criteria, t ApproverType, key string) error {
	raw, ok := c[key]
	if !ok {
		return newValidationError(EntityStep, "%s approver type must include %s", t, key)
	}
	values, ok := toStringList(raw)
	if !ok || len(values) == 0 {
		return newValidationError(EntityStep, "%s must be a non-empty list", key)
	}
	return nil
}

func validateTimeoutHours(hours *int) error {
	if hours != nil && *hours <= 0 {
		return newValidationError(EntityStep, "timeout_hours must be positive")
	}
	return nil
}

// requireText trims value and checks it is non-blank and within limit runes.
func requireText(entity Entity, field, value string, limit int) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", newValidationError(entity, "%s cannot be empty", field)
	}
	if utf8.RuneCountInString(trimmed) > limit {
		return "", newValidationError(entity, "%s cannot exceed %d characters", field, limit)
	}
	return trimmed, nil
}

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
