package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation names reported in StateError.
const (
	OpSubmit               = "submit"
	OpApproveStep          = "approve_step"
	OpReject               = "reject"
	OpRequestChanges       = "request_changes"
	OpProgressToNextStep   = "progress_to_next_step"
	OpCompleteApproval     = "complete_approval"
	OpCancel               = "cancel"
	OpResetForResubmission = "reset_for_resubmission"
)

// MaxCommentLength bounds decision comments.
const MaxCommentLength = 2000

// Approval is one document moving through one workflow.
//
// CurrentStepID is set exactly while the status is in_progress and
// CompletedAt exactly while the status is terminal.
type Approval struct {
	ID            uuid.UUID
	DocumentID    uuid.UUID
	WorkflowID    uuid.UUID
	CurrentStepID *uuid.UUID
	Status        ApprovalStatus
	SubmittedAt   time.Time
	StepStartedAt *time.Time
	CompletedAt   *time.Time
	SubmittedBy   uuid.UUID

	// Version is the optimistic concurrency token; 0 means never stored.
	Version int64

	events []Event
}

// NewApproval returns a pending approval.
func NewApproval(documentID, workflowID, submittedBy uuid.UUID) (*Approval, error) {
	switch {
	case documentID == uuid.Nil:
		return nil, newValidationError(EntityApproval, "document ID cannot be empty")
	case workflowID == uuid.Nil:
		return nil, newValidationError(EntityApproval, "workflow ID cannot be empty")
	case submittedBy == uuid.Nil:
		return nil, newValidationError(EntityApproval, "submitter ID cannot be empty")
	}
	return &Approval{
		ID:          newID(),
		DocumentID:  documentID,
		WorkflowID:  workflowID,
		Status:      ApprovalStatusPending,
		SubmittedAt: time.Now().UTC(),
		SubmittedBy: submittedBy,
	}, nil
}

// Submit moves a pending approval into the first step of wf.
func (a *Approval) Submit(wf *Workflow, approvers []uuid.UUID) error {
	if err := a.checkTransition(ApprovalStatusInProgress, OpSubmit); err != nil {
		return err
	}
	if wf == nil {
		return newValidationError(EntityApproval, "workflow cannot be empty")
	}
	if wf.ID != a.WorkflowID {
		return newValidationError(EntityApproval, "workflow %s does not match approval workflow %s", wf.ID, a.WorkflowID)
	}
	if !wf.IsActive {
		return newValidationError(EntityApproval, "workflow %s is not active", wf.ID)
	}
	first := wf.FirstStep()
	if first == nil {
		return newValidationError(EntityApproval, "workflow has no steps")
	}
	if len(approvers) == 0 {
		return newValidationError(EntityApproval, "approver list cannot be empty")
	}
	for _, id := range approvers {
		if id == uuid.Nil {
			return newValidationError(EntityApproval, "approver ID cannot be empty")
		}
	}

	now := time.Now().UTC()
	a.Status = ApprovalStatusInProgress
	a.enterStep(first.ID, now)
	a.CompletedAt = nil
	a.record(SubmittedForApproval{
		ApprovalID:  a.ID,
		DocumentID:  a.DocumentID,
		WorkflowID:  a.WorkflowID,
		StepID:      first.ID,
		SubmittedBy: a.SubmittedBy,
		Approvers:   append([]uuid.UUID(nil), approvers...),
		Timestamp:   now,
	})
	return nil
}

// ApproveStep records a positive decision on the current step. It does not
// advance; call ProgressToNextStep once the step is satisfied.
func (a *Approval) ApproveStep(stepID, approverID uuid.UUID, comment string) error {
	d, err := a.decide(OpApproveStep, "", stepID, approverID, comment)
	if err != nil {
		return err
	}
	a.record(Approved{Decision: d})
	return nil
}

// Reject ends the approval as rejected.
func (a *Approval) Reject(stepID, approverID uuid.UUID, comment string) error {
	d, err := a.decide(OpReject, ApprovalStatusRejected, stepID, approverID, comment)
	if err != nil {
		return err
	}
	a.finish(ApprovalStatusRejected, d.Timestamp)
	a.record(Rejected{Decision: d})
	a.record(WorkflowCompleted{
		ApprovalID:  a.ID,
		DocumentID:  a.DocumentID,
		FinalStatus: ApprovalStatusRejected,
		CompletedBy: approverID,
		Timestamp:   d.Timestamp,
	})
	return nil
}

// RequestChanges sends the approval back to the submitter. The approval is
// not terminal, so CompletedAt stays empty and no WorkflowCompleted is emitted.
func (a *Approval) RequestChanges(stepID, approverID uuid.UUID, comment string) error {
	d, err := a.decide(OpRequestChanges, ApprovalStatusRequiresChanges, stepID, approverID, comment)
	if err != nil {
		return err
	}
	a.Status = ApprovalStatusRequiresChanges
	a.leaveStep()
	a.CompletedAt = nil
	a.record(ChangesRequested{Decision: d})
	return nil
}

// ProgressToNextStep moves to next, or completes the approval when next is nil.
func (a *Approval) ProgressToNextStep(next *uuid.UUID) error {
	if a.Status != ApprovalStatusInProgress {
		return &StateError{From: a.Status, Operation: OpProgressToNextStep}
	}
	current := a.currentStep()
	now := time.Now().UTC()

	if next == nil {
		if err := a.checkTransition(ApprovalStatusApproved, OpProgressToNextStep); err != nil {
			return err
		}
		a.record(ApprovalStepCompleted{ApprovalID: a.ID, StepID: current, Timestamp: now})
		return a.CompleteApproval(uuid.Nil)
	}

	if *next == uuid.Nil {
		return newValidationError(EntityApproval, "next step ID cannot be empty")
	}
	if *next == current {
		return newValidationError(EntityApproval, "next step cannot be the current step")
	}
	nextID := *next
	a.enterStep(nextID, now)
	a.record(ApprovalStepCompleted{
		ApprovalID: a.ID,
		StepID:     current,
		NextStepID: &nextID,
		Timestamp:  now,
	})
	return nil
}

// CompleteApproval ends the approval as approved. A zero completedBy is
// reported as the submitter.
func (a *Approval) CompleteApproval(completedBy uuid.UUID) error {
	if err := a.checkTransition(ApprovalStatusApproved, OpCompleteApproval); err != nil {
		return err
	}
	if completedBy == uuid.Nil {
		completedBy = a.SubmittedBy
	}
	now := time.Now().UTC()
	a.finish(ApprovalStatusApproved, now)
	a.record(WorkflowCompleted{
		ApprovalID:  a.ID,
		DocumentID:  a.DocumentID,
		FinalStatus: ApprovalStatusApproved,
		CompletedBy: completedBy,
		Timestamp:   now,
	})
	return nil
}

// Cancel ends the approval as cancelled.
func (a *Approval) Cancel(cancelledBy uuid.UUID, reason string) error {
	if err := a.checkTransition(ApprovalStatusCancelled, OpCancel); err != nil {
		return err
	}
	if cancelledBy == uuid.Nil {
		return newValidationError(EntityApproval, "canceller ID cannot be empty")
	}
	now := time.Now().UTC()
	a.finish(ApprovalStatusCancelled, now)
	a.record(WorkflowCompleted{
		ApprovalID:  a.ID,
		DocumentID:  a.DocumentID,
		FinalStatus: ApprovalStatusCancelled,
		CompletedBy: cancelledBy,
		Reason:      strings.TrimSpace(reason),
		Timestamp:   now,
	})
	return nil
}

// ResetForResubmission returns a requires_changes approval to pending,
// optionally bound to a different workflow.
func (a *Approval) ResetForResubmission(newWorkflowID *uuid.UUID) error {
	if err := a.checkTransition(ApprovalStatusPending, OpResetForResubmission); err != nil {
		return err
	}
	if newWorkflowID != nil && *newWorkflowID == uuid.Nil {
		return newValidationError(EntityApproval, "workflow ID cannot be empty")
	}
	previous := a.WorkflowID
	if newWorkflowID != nil {
		a.WorkflowID = *newWorkflowID
	}
	a.Status = ApprovalStatusPending
	a.leaveStep()
	a.CompletedAt = nil
	a.record(ApprovalResetForResubmission{
		ApprovalID:         a.ID,
		DocumentID:         a.DocumentID,
		PreviousWorkflowID: previous,
		WorkflowID:         a.WorkflowID,
		Timestamp:          time.Now().UTC(),
	})
	return nil
}

// IsInProgress reports whether a step is awaiting a decision.
func (a *Approval) IsInProgress() bool {
	return a.Status == ApprovalStatusInProgress
}

// IsCompleted reports whether the approval reached approved, rejected or cancelled.
func (a *Approval) IsCompleted() bool {
	return a.Status.IsTerminal()
}

// IsPendingChanges reports whether the submitter has to revise the document.
func (a *Approval) IsPendingChanges() bool {
	return a.Status == ApprovalStatusRequiresChanges
}

// Duration is the time from submission to completion.
func (a *Approval) Duration() (time.Duration, bool) {
	if a.CompletedAt == nil {
		return 0, false
	}
	return a.CompletedAt.Sub(a.SubmittedAt), true
}

// CurrentStepDuration is the time spent in the current step so far.
func (a *Approval) CurrentStepDuration() (time.Duration, bool) {
	if !a.IsInProgress() || a.StepStartedAt == nil {
		return 0, false
	}
	return time.Since(*a.StepStartedAt), true
}

// TimeoutReference is the instant step timeouts are measured from.
func (a *Approval) TimeoutReference() time.Time {
	if a.StepStartedAt != nil {
		return *a.StepStartedAt
	}
	return a.SubmittedAt
}

// ValidateInvariants lists violated invariants without failing.
func (a *Approval) ValidateInvariants() []string {
	var problems []string
	if a.ID == uuid.Nil {
		problems = append(problems, "approval ID cannot be empty")
	}
	if a.DocumentID == uuid.Nil {
		problems = append(problems, "document ID cannot be empty")
	}
	if a.WorkflowID == uuid.Nil {
		problems = append(problems, "workflow ID cannot be empty")
	}
	if a.SubmittedBy == uuid.Nil {
		problems = append(problems, "submitter ID cannot be empty")
	}
	if !a.Status.Valid() {
		problems = append(problems, "unknown status "+string(a.Status))
	}
	if a.IsInProgress() && a.CurrentStepID == nil {
		problems = append(problems, "in-progress approval must have a current step")
	}
	if !a.IsInProgress() && a.CurrentStepID != nil {
		problems = append(problems, "only in-progress approvals may have a current step")
	}
	if a.Status.IsTerminal() && a.CompletedAt == nil {
		problems = append(problems, "completed approval must have a completion time")
	}
	if !a.Status.IsTerminal() && a.CompletedAt != nil {
		problems = append(problems, "only completed approvals may have a completion time")
	}
	if a.CompletedAt != nil && a.CompletedAt.Before(a.SubmittedAt) {
		problems = append(problems, "completion time precedes submission time")
	}
	return problems
}

// TakeEvents returns and clears the pending events.
func (a *Approval) TakeEvents() []Event {
	events := a.events
	a.events = nil
	return events
}

// checkTransition reports a StateError when the table forbids Status -> to.
func (a *Approval) checkTransition(to ApprovalStatus, op string) error {
	if !a.Status.CanTransitionTo(to) {
		return &StateError{From: a.Status, To: to, Operation: op}
	}
	return nil
}

// decide validates a decision on the current step. to is the status the
// decision leads to, or "" when the status does not change.
func (a *Approval) decide(op string, to ApprovalStatus, stepID, approverID uuid.UUID, comment string) (Decision, error) {
	if a.Status != ApprovalStatusInProgress {
		return Decision{}, &StateError{From: a.Status, To: to, Operation: op}
	}
	if to != "" {
		if err := a.checkTransition(to, op); err != nil {
			return Decision{}, err
		}
	}
	if stepID != a.currentStep() {
		return Decision{}, newValidationError(EntityApproval, "can only act on the current step %s", a.currentStep())
	}
	if approverID == uuid.Nil {
		return Decision{}, newValidationError(EntityApproval, "approver ID cannot be empty")
	}
	text, err := requireText(EntityApproval, "comment", comment, MaxCommentLength)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		ApprovalID: a.ID,
		DocumentID: a.DocumentID,
		StepID:     stepID,
		ApproverID: approverID,
		Comment:    text,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (a *Approval) currentStep() uuid.UUID {
	if a.CurrentStepID == nil {
		return uuid.Nil
	}
	return *a.CurrentStepID
}

func (a *Approval) enterStep(stepID uuid.UUID, at time.Time) {
	id := stepID
	started := at
	a.CurrentStepID = &id
	a.StepStartedAt = &started
}

func (a *Approval) leaveStep() {
	a.CurrentStepID = nil
	a.StepStartedAt = nil
}

func (a *Approval) finish(status ApprovalStatus, at time.Time) {
	completed := at
	a.Status = status
	a.leaveStep()
	a.CompletedAt = &completed
}

func (a *Approval) record(e Event) {
	a.events = append(a.events, e)
}
