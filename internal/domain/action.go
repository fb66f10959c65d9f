package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata keys used in the stored form of ActionMetadata.
const (
	MetaEscalatedTo    = "escalated_to"
	MetaTimeoutHours   = "timeout_hours"
	MetaIsSystemAction = "is_system_action"
)

// ActionMetadata is the typed metadata of an Action. Extra holds
// forward-compatible fields and never carries the typed keys.
type ActionMetadata struct {
	EscalatedTo    *uuid.UUID
	TimeoutHours   *int
	IsSystemAction bool
	Extra          map[string]any
}

// Action is an immutable audit record of one decision.
type Action struct {
	ID         uuid.UUID
	ApprovalID uuid.UUID
	StepID     uuid.UUID
	ApproverID uuid.UUID
	Type       ActionType
	Comment    string
	CreatedAt  time.Time
	Metadata   ActionMetadata

	events []Event
}

// NewApproveAction records an approval decision.
func NewApproveAction(approvalID, stepID, approverID uuid.UUID, comment string, extra map[string]any) (*Action, error) {
	return newAction(ActionTypeApprove, approvalID, stepID, approverID, comment, ActionMetadata{Extra: extra})
}

// NewRejectAction records a rejection.
func NewRejectAction(approvalID, stepID, approverID uuid.UUID, comment string, extra map[string]any) (*Action, error) {
	return newAction(ActionTypeReject, approvalID, stepID, approverID, comment, ActionMetadata{Extra: extra})
}

// NewRequestChangesAction records a request for changes.
func NewRequestChangesAction(approvalID, stepID, approverID uuid.UUID, comment string, extra map[string]any) (*Action, error) {
	return newAction(ActionTypeRequestChanges, approvalID, stepID, approverID, comment, ActionMetadata{Extra: extra})
}

// NewEscalateAction records that the step was handed to escalatedTo.
func NewEscalateAction(approvalID, stepID, approverID, escalatedTo uuid.UUID, comment string, extra map[string]any) (*Action, error) {
	if escalatedTo == uuid.Nil {
		return nil, newValidationError(EntityAction, "escalation must specify a target")
	}
	target := escalatedTo
	return newAction(ActionTypeEscalate, approvalID, stepID, approverID, comment, ActionMetadata{
		EscalatedTo: &target,
		Extra:       extra,
	})
}

// NewAutoApproveAction records a system approval. timeoutHours is set when
// the approval was caused by a step timeout.
func NewAutoApproveAction(approvalID, stepID, systemUserID uuid.UUID, timeoutHours *int, comment string, extra map[string]any) (*Action, error) {
	if timeoutHours != nil && *timeoutHours <= 0 {
		return nil, newValidationError(EntityAction, "timeout_hours must be positive")
	}
	return newAction(ActionTypeAutoApprove, approvalID, stepID, systemUserID, comment, ActionMetadata{
		TimeoutHours:   copyInt(timeoutHours),
		IsSystemAction: true,
		Extra:          extra,
	})
}

func newAction(t ActionType, approvalID, stepID, approverID uuid.UUID, comment string, md ActionMetadata) (*Action, error) {
	switch {
	case approvalID == uuid.Nil:
		return nil, newValidationError(EntityAction, "approval ID cannot be empty")
	case stepID == uuid.Nil:
		return nil, newValidationError(EntityAction, "step ID cannot be empty")
	case approverID == uuid.Nil:
		return nil, newValidationError(EntityAction, "approver ID cannot be empty")
	}
	text, err := requireText(EntityAction, "comment", comment, MaxCommentLength)
	if err != nil {
		return nil, err
	}
	md.Extra = withoutTypedKeys(md.Extra)

	now := time.Now().UTC()
	a := &Action{
		ID:         newID(),
		ApprovalID: approvalID,
		StepID:     stepID,
		ApproverID: approverID,
		Type:       t,
		Comment:    text,
		CreatedAt:  now,
		Metadata:   md,
	}
	a.events = append(a.events, ApprovalActionCreated{
		ActionID:   a.ID,
		ApprovalID: a.ApprovalID,
		StepID:     a.StepID,
		ApproverID: a.ApproverID,
		ActionType: a.Type,
		Timestamp:  now,
	})
	return a, nil
}

// IsSystemAction reports whether the action was taken by the system.
func (a *Action) IsSystemAction() bool {
	return a.Metadata.IsSystemAction
}

// IsEscalation reports whether the action is an escalation.
func (a *Action) IsEscalation() bool {
	return a.Type == ActionTypeEscalate
}

// IsTimeoutAction reports whether the action is an auto-approval caused by a timeout.
func (a *Action) IsTimeoutAction() bool {
	return a.Type == ActionTypeAutoApprove && a.Metadata.TimeoutHours != nil
}

// EscalatedTo returns the escalation target.
func (a *Action) EscalatedTo() (uuid.UUID, bool) {
	if a.Metadata.EscalatedTo == nil {
		return uuid.Nil, false
	}
	return *a.Metadata.EscalatedTo, true
}

// TimeoutHours returns the timeout that triggered an auto-approval.
func (a *Action) TimeoutHours() (int, bool) {
	if a.Metadata.TimeoutHours == nil {
		return 0, false
	}
	return *a.Metadata.TimeoutHours, true
}

// Summary is a short human-readable description.
func (a *Action) Summary() string {
	switch a.Type {
	case ActionTypeApprove:
		return "approved"
	case ActionTypeReject:
		return "rejected"
	case ActionTypeRequestChanges:
		return "requested changes"
	case ActionTypeEscalate:
		if target, ok := a.EscalatedTo(); ok {
			return "escalated to " + target.String()
		}
		return "escalated"
	case ActionTypeAutoApprove:
		if hours, ok := a.TimeoutHours(); ok {
			return fmt.Sprintf("timeout auto-approve (%d hours)", hours)
		}
		return "system auto-approve"
	default:
		return string(a.Type)
	}
}

// Validate lists problems with the action without failing.
func (a *Action) Validate() []string {
	var problems []string
	if a.ID == uuid.Nil {
		problems = append(problems, "action ID cannot be empty")
	}
	if a.ApprovalID == uuid.Nil {
		problems = append(problems, "approval ID cannot be empty")
	}
	if a.StepID == uuid.Nil {
		problems = append(problems, "step ID cannot be empty")
	}
	if a.ApproverID == uuid.Nil {
		problems = append(problems, "approver ID cannot be empty")
	}
	if !a.Type.Valid() {
		problems = append(problems, "unknown action type "+string(a.Type))
	}
	if _, err := requireText(EntityAction, "comment", a.Comment, MaxCommentLength); err != nil {
		problems = append(problems, err.(*ValidationError).Message)
	}
	if a.Type == ActionTypeEscalate && a.Metadata.EscalatedTo == nil {
		problems = append(problems, "escalation must specify a target")
	}
	if a.Type == ActionTypeAutoApprove && !a.Metadata.IsSystemAction {
		problems = append(problems, "auto-approve action must be a system action")
	}
	return problems
}

// TakeEvents returns and clears the pending events.
func (a *Action) TakeEvents() []Event {
	events := a.events
	a.events = nil
	return events
}

// MetadataMap flattens the metadata for storage.
func (a *Action) MetadataMap() map[string]any {
	out := make(map[string]any, len(a.Metadata.Extra)+3)
	for k, v := range a.Metadata.Extra {
		out[k] = v
	}
	if a.Metadata.EscalatedTo != nil {
		out[MetaEscalatedTo] = a.Metadata.EscalatedTo.String()
	}
	if a.Metadata.TimeoutHours != nil {
		out[MetaTimeoutHours] = *a.Metadata.TimeoutHours
	}
	if a.Metadata.IsSystemAction {
		out[MetaIsSystemAction] = true
	}
	return out
}

// ActionMetadataFromMap decodes stored metadata. Malformed typed values are
// treated as absent.
func ActionMetadataFromMap(m map[string]any) ActionMetadata {
	var md ActionMetadata
	if raw, ok := m[MetaEscalatedTo]; ok {
		if s, ok := raw.(string); ok {
			if id, err := uuid.Parse(s); err == nil && id != uuid.Nil {
				md.EscalatedTo = &id
			}
		}
	}
	if raw, ok := m[MetaTimeoutHours]; ok {
		if n, ok := toPositiveInt(raw); ok {
			md.TimeoutHours = &n
		}
	}
	if raw, ok := m[MetaIsSystemAction]; ok {
		if b, ok := raw.(bool); ok {
			md.IsSystemAction = b
		}
	}
	md.Extra = withoutTypedKeys(m)
	return md
}

func withoutTypedKeys(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch k {
		case MetaEscalatedTo, MetaTimeoutHours, MetaIsSystemAction:
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
