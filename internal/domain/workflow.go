package domain

import (
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Workflow is a reusable template of ordered steps plus applicability criteria.
type Workflow struct {
	ID               uuid.UUID
	Name             string
	Description      string
	CategoryCriteria Criteria
	TagCriteria      Criteria
	CreatorCriteria  Criteria
	IsActive         bool
	Steps            []*Step
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int64

	events []Event
}

// CriteriaUpdate selects which criteria UpdateCriteria replaces. A nil field
// is left unchanged; a pointer to a nil Criteria clears the matcher.
type CriteriaUpdate struct {
	Category *Criteria
	Tags     *Criteria
	Creator  *Criteria
}

// NewWorkflow returns an active workflow without steps.
func NewWorkflow(name, description string, category, tags, creator Criteria) (*Workflow, error) {
	name, err := requireText(EntityWorkflow, "name", name, MaxNameLength)
	if err != nil {
		return nil, err
	}
	description, err = requireText(EntityWorkflow, "description", description, MaxDescriptionLength)
	if err != nil {
		return nil, err
	}
	if err := validateCriteria(category, tags, creator); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &Workflow{
		ID:               newID(),
		Name:             name,
		Description:      description,
		CategoryCriteria: category.Clone(),
		TagCriteria:      tags.Clone(),
		CreatorCriteria:  creator.Clone(),
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	w.record(WorkflowCreated{
		WorkflowID:  w.ID,
		Name:        w.Name,
		Description: w.Description,
		Timestamp:   now,
	})
	return w, nil
}

// AddStep attaches step. Only active workflows accept new steps.
func (w *Workflow) AddStep(step *Step) error {
	if !w.IsActive {
		return newValidationError(EntityWorkflow, "cannot add steps to an inactive workflow")
	}
	if step == nil {
		return newValidationError(EntityWorkflow, "step cannot be nil")
	}
	if step.WorkflowID != w.ID {
		return newValidationError(EntityWorkflow, "step %s belongs to a different workflow", step.ID)
	}
	for _, existing := range w.Steps {
		if existing.ID == step.ID {
			return newValidationError(EntityWorkflow, "step %s already exists in workflow", step.ID)
		}
		if existing.Order == step.Order {
			return newValidationError(EntityWorkflow, "step order %d is already used", step.Order)
		}
	}
	w.Steps = append(w.Steps, step)
	w.sortSteps()
	w.touch("steps")
	return nil
}

// RemoveStep detaches the step with stepID. Only active workflows may change steps.
func (w *Workflow) RemoveStep(stepID uuid.UUID) error {
	if !w.IsActive {
		return newValidationError(EntityWorkflow, "cannot remove steps from an inactive workflow")
	}
	idx := slices.IndexFunc(w.Steps, func(s *Step) bool { return s.ID == stepID })
	if idx < 0 {
		return newValidationError(EntityWorkflow, "step %s not found in workflow", stepID)
	}
	w.Steps = slices.Delete(w.Steps, idx, idx+1)
	w.touch("steps")
	return nil
}

// Activate makes the workflow eligible for submissions. Steps must be
// numbered 1..N without gaps. Activating an active workflow is a no-op.
func (w *Workflow) Activate() error {
	if w.IsActive {
		return nil
	}
	if len(w.Steps) == 0 {
		return newValidationError(EntityWorkflow, "cannot activate a workflow without steps")
	}
	if msg := orderProblem(w.Steps); msg != "" {
		return newValidationError(EntityWorkflow, "%s", msg)
	}
	now := time.Now().UTC()
	w.IsActive = true
	w.UpdatedAt = now
	w.record(WorkflowActivated{WorkflowID: w.ID, Timestamp: now})
	return nil
}

// Deactivate takes the workflow out of selection. Deactivating an inactive workflow is a no-op.
func (w *Workflow) Deactivate() {
	if !w.IsActive {
		return
	}
	now := time.Now().UTC()
	w.IsActive = false
	w.UpdatedAt = now
	w.record(WorkflowDeactivated{WorkflowID: w.ID, Timestamp: now})
}

// IsApplicableTo reports whether the workflow governs doc.
func (w *Workflow) IsApplicableTo(doc DocumentView) bool {
	if !w.IsActive || len(w.Steps) == 0 {
		return false
	}
	return matchValue(w.CategoryCriteria, doc.CategoryID.String()) &&
		matchTags(w.TagCriteria, doc.Tags) &&
		matchValue(w.CreatorCriteria, doc.CreatorID.String())
}

// FirstStep returns the step with the lowest order, or nil.
func (w *Workflow) FirstStep() *Step {
	var first *Step
	for _, s := range w.Steps {
		if first == nil || s.Order < first.Order {
			first = s
		}
	}
	return first
}

// NextStep returns the step following currentStepID, or nil when it is the
// last step or unknown.
func (w *Workflow) NextStep(currentStepID uuid.UUID) *Step {
	current := w.StepByID(currentStepID)
	if current == nil {
		return nil
	}
	var next *Step
	for _, s := range w.Steps {
		if s.Order > current.Order && (next == nil || s.Order < next.Order) {
			next = s
		}
	}
	return next
}

// StepByID returns the step with id, or nil.
func (w *Workflow) StepByID(id uuid.UUID) *Step {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StepByOrder returns the step at order, or nil.
func (w *Workflow) StepByOrder(order int) *Step {
	for _, s := range w.Steps {
		if s.Order == order {
			return s
		}
	}
	return nil
}

// ParallelSteps returns the parallel steps at order.
func (w *Workflow) ParallelSteps(order int) []*Step {
	var out []*Step
	for _, s := range w.Steps {
		if s.Order == order && s.IsParallel {
			out = append(out, s)
		}
	}
	return out
}

// HasParallelSteps reports whether any step is parallel.
func (w *Workflow) HasParallelSteps() bool {
	return slices.ContainsFunc(w.Steps, func(s *Step) bool { return s.IsParallel })
}

// UpdateCriteria replaces the selected applicability criteria.
func (w *Workflow) UpdateCriteria(u CriteriaUpdate) error {
	category, tags, creator := w.CategoryCriteria, w.TagCriteria, w.CreatorCriteria
	var fields []string
	if u.Category != nil {
		category = *u.Category
		fields = append(fields, "category_criteria")
	}
	if u.Tags != nil {
		tags = *u.Tags
		fields = append(fields, "tag_criteria")
	}
	if u.Creator != nil {
		creator = *u.Creator
		fields = append(fields, "creator_criteria")
	}
	if len(fields) == 0 {
		return nil
	}
	if err := validateCriteria(category, tags, creator); err != nil {
		return err
	}
	w.CategoryCriteria = category.Clone()
	w.TagCriteria = tags.Clone()
	w.CreatorCriteria = creator.Clone()
	w.touch(fields...)
	return nil
}

// UpdateDetails replaces name and description.
func (w *Workflow) UpdateDetails(name, description string) error {
	name, err := requireText(EntityWorkflow, "name", name, MaxNameLength)
	if err != nil {
		return err
	}
	description, err = requireText(EntityWorkflow, "description", description, MaxDescriptionLength)
	if err != nil {
		return err
	}
	var fields []string
	if name != w.Name {
		w.Name = name
		fields = append(fields, "name")
	}
	if description != w.Description {
		w.Description = description
		fields = append(fields, "description")
	}
	if len(fields) > 0 {
		w.touch(fields...)
	}
	return nil
}

// Validate lists consistency problems without failing.
func (w *Workflow) Validate() []string {
	var problems []string
	if _, err := requireText(EntityWorkflow, "name", w.Name, MaxNameLength); err != nil {
		problems = append(problems, err.(*ValidationError).Message)
	}
	if _, err := requireText(EntityWorkflow, "description", w.Description, MaxDescriptionLength); err != nil {
		problems = append(problems, err.(*ValidationError).Message)
	}
	if len(w.Steps) == 0 {
		problems = append(problems, "workflow must contain at least one step")
	} else if msg := orderProblem(w.Steps); msg != "" {
		problems = append(problems, msg)
	}
	for _, s := range w.Steps {
		if s.WorkflowID != w.ID {
			problems = append(problems, "step "+s.ID.String()+" belongs to a different workflow")
		}
		for _, p := range s.ValidateConfiguration() {
			problems = append(problems, "step "+s.Name+": "+p)
		}
	}
	return problems
}

// TakeEvents returns and clears the pending events.
func (w *Workflow) TakeEvents() []Event {
	events := w.events
	w.events = nil
	return events
}

func (w *Workflow) record(e Event) {
	w.events = append(w.events, e)
}

func (w *Workflow) touch(fields ...string) {
	now := time.Now().UTC()
	w.UpdatedAt = now
	w.record(WorkflowUpdated{WorkflowID: w.ID, Fields: fields, Timestamp: now})
}

func (w *Workflow) sortSteps() {
	sort.SliceStable(w.Steps, func(i, j int) bool { return w.Steps[i].Order < w.Steps[j].Order })
}

// orderProblem returns a description of the first duplicate or gap in the
// step orders, or "" when they are exactly 1..N.
func orderProblem(steps []*Step) string {
	orders := make([]int, len(steps))
	for i, s := range steps {
		orders[i] = s.Order
	}
	sort.Ints(orders)
	for i, order := range orders {
		if i > 0 && order == orders[i-1] {
			return "duplicate step order " + strconv.Itoa(order)
		}
	}
	expected := 1
	for _, order := range orders {
		if order != expected {
			return "step orders must be contiguous starting at 1: missing order " + strconv.Itoa(expected)
		}
		expected++
	}
	return ""
}

func validateCriteria(category, tags, creator Criteria) error {
	if err := validateValueMatcher("category_criteria", category); err != nil {
		return err
	}
	if err := validateTagMatcher(tags); err != nil {
		return err
	}
	return validateValueMatcher("creator_criteria", creator)
}
