package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of domain event.
type EventType string

const (
	// Approval lifecycle
	EventSubmittedForApproval         EventType = "SUBMITTED_FOR_APPROVAL"
	EventApproved                     EventType = "APPROVAL_APPROVED"
	EventRejected                     EventType = "APPROVAL_REJECTED"
	EventChangesRequested             EventType = "APPROVAL_CHANGES_REQUESTED"
	EventApprovalStepCompleted        EventType = "APPROVAL_STEP_COMPLETED"
	EventApprovalTimeoutOccurred      EventType = "APPROVAL_TIMEOUT_OCCURRED"
	EventWorkflowCompleted            EventType = "APPROVAL_WORKFLOW_COMPLETED"
	EventApprovalResetForResubmission EventType = "APPROVAL_RESET_FOR_RESUBMISSION"

	// Workflow template lifecycle
	EventWorkflowCreated     EventType = "WORKFLOW_CREATED"
	EventWorkflowUpdated     EventType = "WORKFLOW_UPDATED"
	EventWorkflowActivated   EventType = "WORKFLOW_ACTIVATED"
	EventWorkflowDeactivated EventType = "WORKFLOW_DEACTIVATED"
	EventStepCreated         EventType = "STEP_CREATED"
	EventStepUpdated         EventType = "STEP_UPDATED"

	// Audit trail
	EventApprovalActionCreated EventType = "APPROVAL_ACTION_CREATED"
)

// Aggregate type names carried on event records.
const (
	AggregateApproval = "approval"
	AggregateWorkflow = "approval_workflow"
	AggregateStep     = "approval_step"
	AggregateAction   = "approval_action"
)

// EventStatus defines the delivery status of a stored domain event.
type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusCompleted  EventStatus = "COMPLETED"
	EventStatusFailed     EventStatus = "FAILED"
	EventStatusCancelled  EventStatus = "CANCELLED"
)

// Event is an immutable fact emitted by an aggregate.
type Event interface {
	EventType() EventType
	AggregateType() string
	AggregateID() uuid.UUID
	OccurredAt() time.Time
}

// DomainEvent is the stored (claim-check) form of an Event.
type DomainEvent struct {
	EventID       string      `json:"event_id"`
	EventType     EventType   `json:"event_type"`
	AggregateType string      `json:"aggregate_type"`
	AggregateID   string      `json:"aggregate_id"`
	Payload       []byte      `json:"payload"`
	Status        EventStatus `json:"status"`
	CreatedBy     string      `json:"created_by"`
	CreatedAt     time.Time   `json:"created_at"`
	ArchivedAt    *time.Time  `json:"archived_at,omitempty"`
}

// NewEventRecord serialises e into a pending DomainEvent.
func NewEventRecord(e Event, createdBy string) (*DomainEvent, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.EventType(), err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	return &DomainEvent{
		EventID:       id.String(),
		EventType:     e.EventType(),
		AggregateType: e.AggregateType(),
		AggregateID:   e.AggregateID().String(),
		Payload:       payload,
		Status:        EventStatusPending,
		CreatedBy:     createdBy,
		CreatedAt:     e.OccurredAt(),
	}, nil
}

// DecodePayload unmarshals the record payload into v.
func (r *DomainEvent) DecodePayload(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", r.EventType, err)
	}
	return nil
}

// SubmittedForApproval is emitted when an approval enters its first step.
type SubmittedForApproval struct {
	ApprovalID  uuid.UUID   `json:"approval_id"`
	DocumentID  uuid.UUID   `json:"document_id"`
	WorkflowID  uuid.UUID   `json:"workflow_id"`
	StepID      uuid.UUID   `json:"step_id"`
	SubmittedBy uuid.UUID   `json:"submitted_by"`
	Approvers   []uuid.UUID `json:"approvers"`
	Timestamp   time.Time   `json:"occurred_at"`
}

func (SubmittedForApproval) EventType() EventType { return EventSubmittedForApproval }
func (SubmittedForApproval) AggregateType() string { return AggregateApproval }
func (e SubmittedForApproval) AggregateID() uuid.UUID { return e.ApprovalID }
func (e SubmittedForApproval) OccurredAt() time.Time { return e.Timestamp }

// Decision carries the fields shared by Approved, Rejected and ChangesRequested.
type Decision struct {
	ApprovalID uuid.UUID `json:"approval_id"`
	DocumentID uuid.UUID `json:"document_id"`
	StepID     uuid.UUID `json:"step_id"`
	ApproverID uuid.UUID `json:"approver_id"`
	Comment    string    `json:"comment"`
	Timestamp  time.Time `json:"occurred_at"`
}

func (Decision) AggregateType() string { return AggregateApproval }
func (d Decision) AggregateID() uuid.UUID { return d.ApprovalID }
func (d Decision) OccurredAt() time.Time { return d.Timestamp }

// Approved records a positive decision on the current step.
type Approved struct{ Decision }

func (Approved) EventType() EventType { return EventApproved }

// Rejected records a rejection; it is always followed by WorkflowCompleted.
type Rejected struct{ Decision }

func (Rejected) EventType() EventType { return EventRejected }

// ChangesRequested records that the submitter must revise the document.
type ChangesRequested struct{ Decision }

func (ChangesRequested) EventType() EventType { return EventChangesRequested }

// ApprovalStepCompleted is emitted when the approval leaves a step.
// NextStepID is nil when the step was the last one.
type ApprovalStepCompleted struct {
	ApprovalID uuid.UUID  `json:"approval_id"`
	StepID     uuid.UUID  `json:"step_id"`
	NextStepID *uuid.UUID `json:"next_step_id"`
	Timestamp  time.Time  `json:"occurred_at"`
}

func (ApprovalStepCompleted) EventType() EventType { return EventApprovalStepCompleted }
func (ApprovalStepCompleted) AggregateType() string { return AggregateApproval }
func (e ApprovalStepCompleted) AggregateID() uuid.UUID { return e.ApprovalID }
func (e ApprovalStepCompleted) OccurredAt() time.Time { return e.Timestamp }

// ApprovalTimeoutOccurred is emitted by Step.HandleTimeout.
type ApprovalTimeoutOccurred struct {
	ApprovalID         uuid.UUID `json:"approval_id"`
	StepID             uuid.UUID `json:"step_id"`
	TimeoutHours       int       `json:"timeout_hours"`
	EscalationRequired bool      `json:"escalation_required"`
	Timestamp          time.Time `json:"occurred_at"`
}

func (ApprovalTimeoutOccurred) EventType() EventType { return EventApprovalTimeoutOccurred }
func (ApprovalTimeoutOccurred) AggregateType() string { return AggregateApproval }
func (e ApprovalTimeoutOccurred) AggregateID() uuid.UUID { return e.ApprovalID }
func (e ApprovalTimeoutOccurred) OccurredAt() time.Time { return e.Timestamp }

// WorkflowCompleted is emitted when an approval reaches a terminal status.
type WorkflowCompleted struct {
	ApprovalID  uuid.UUID      `json:"approval_id"`
	DocumentID  uuid.UUID      `json:"document_id"`
	FinalStatus ApprovalStatus `json:"final_status"`
	CompletedBy uuid.UUID      `json:"completed_by"`
	Reason      string         `json:"reason,omitempty"`
	Timestamp   time.Time      `json:"occurred_at"`
}

func (WorkflowCompleted) EventType() EventType { return EventWorkflowCompleted }
func (WorkflowCompleted) AggregateType() string { return AggregateApproval }
func (e WorkflowCompleted) AggregateID() uuid.UUID { return e.ApprovalID }
func (e WorkflowCompleted) OccurredAt() time.Time { return e.Timestamp }

// ApprovalResetForResubmission is emitted when a RequiresChanges approval returns to Pending.
type ApprovalResetForResubmission struct {
	ApprovalID         uuid.UUID `json:"approval_id"`
	DocumentID         uuid.UUID `json:"document_id"`
	PreviousWorkflowID uuid.UUID `json:"previous_workflow_id"`
	WorkflowID         uuid.UUID `json:"workflow_id"`
	Timestamp          time.Time `json:"occurred_at"`
}

func (ApprovalResetForResubmission) EventType() EventType { return EventApprovalResetForResubmission }
func (ApprovalResetForResubmission) AggregateType() string { return AggregateApproval }
func (e ApprovalResetForResubmission) AggregateID() uuid.UUID { return e.ApprovalID }
func (e ApprovalResetForResubmission) OccurredAt() time.Time { return e.Timestamp }

// WorkflowCreated is emitted by NewWorkflow.
type WorkflowCreated struct {
	WorkflowID  uuid.UUID `json:"workflow_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"occurred_at"`
}

func (WorkflowCreated) EventType() EventType { return EventWorkflowCreated }
func (WorkflowCreated) AggregateType() string { return AggregateWorkflow }
func (e WorkflowCreated) AggregateID() uuid.UUID { return e.WorkflowID }
func (e WorkflowCreated) OccurredAt() time.Time { return e.Timestamp }

// WorkflowUpdated lists the workflow fields that changed.
type WorkflowUpdated struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Fields     []string  `json:"fields"`
	Timestamp  time.Time `json:"occurred_at"`
}

func (WorkflowUpdated) EventType() EventType { return EventWorkflowUpdated }
func (WorkflowUpdated) AggregateType() string { return AggregateWorkflow }
func (e WorkflowUpdated) AggregateID() uuid.UUID { return e.WorkflowID }
func (e WorkflowUpdated) OccurredAt() time.Time { return e.Timestamp }

// WorkflowActivated is emitted when an inactive workflow becomes active.
type WorkflowActivated struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Timestamp  time.Time `json:"occurred_at"`
}

func (WorkflowActivated) EventType() EventType { return EventWorkflowActivated }
func (WorkflowActivated) AggregateType() string { return AggregateWorkflow }
func (e WorkflowActivated) AggregateID() uuid.UUID { return e.WorkflowID }
func (e WorkflowActivated) OccurredAt() time.Time { return e.Timestamp }

// WorkflowDeactivated is emitted when an active workflow becomes inactive.
type WorkflowDeactivated struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Timestamp  time.Time `json:"occurred_at"`
}

func (WorkflowDeactivated) EventType() EventType { return EventWorkflowDeactivated }
func (WorkflowDeactivated) AggregateType() string { return AggregateWorkflow }
func (e WorkflowDeactivated) AggregateID() uuid.UUID { return e.WorkflowID }
func (e WorkflowDeactivated) OccurredAt() time.Time { return e.Timestamp }

// StepCreated is emitted by NewStep.
type StepCreated struct {
	StepID       uuid.UUID    `json:"step_id"`
	WorkflowID   uuid.UUID    `json:"workflow_id"`
	Name         string       `json:"name"`
	Order        int          `json:"order"`
	ApproverType ApproverType `json:"approver_type"`
	IsParallel   bool         `json:"is_parallel"`
	Timestamp    time.Time    `json:"occurred_at"`
}

func (StepCreated) EventType() EventType { return EventStepCreated }
func (StepCreated) AggregateType() string { return AggregateStep }
func (e StepCreated) AggregateID() uuid.UUID { return e.StepID }
func (e StepCreated) OccurredAt() time.Time { return e.Timestamp }

// FieldChange is a before/after pair in StepUpdated.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// StepUpdated carries the diff of a step configuration change.
type StepUpdated struct {
	StepID     uuid.UUID              `json:"step_id"`
	WorkflowID uuid.UUID              `json:"workflow_id"`
	Changes    map[string]FieldChange `json:"changes"`
	Timestamp  time.Time              `json:"occurred_at"`
}

func (StepUpdated) EventType() EventType { return EventStepUpdated }
func (StepUpdated) AggregateType() string { return AggregateStep }
func (e StepUpdated) AggregateID() uuid.UUID { return e.StepID }
func (e StepUpdated) OccurredAt() time.Time { return e.Timestamp }

// ApprovalActionCreated is emitted when an audit action is recorded.
type ApprovalActionCreated struct {
	ActionID   uuid.UUID  `json:"action_id"`
	ApprovalID uuid.UUID  `json:"approval_id"`
	StepID     uuid.UUID  `json:"step_id"`
	ApproverID uuid.UUID  `json:"approver_id"`
	ActionType ActionType `json:"action_type"`
	Timestamp  time.Time  `json:"occurred_at"`
}

func (ApprovalActionCreated) EventType() EventType { return EventApprovalActionCreated }
func (ApprovalActionCreated) AggregateType() string { return AggregateAction }
func (e ApprovalActionCreated) AggregateID() uuid.UUID { return e.ActionID }
func (e ApprovalActionCreated) OccurredAt() time.Time { return e.Timestamp }
