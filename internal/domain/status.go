package domain

// ApprovalStatus is the lifecycle state of an Approval.
type ApprovalStatus string

const (
	ApprovalStatusPending         ApprovalStatus = "pending"
	ApprovalStatusInProgress      ApprovalStatus = "in_progress"
	ApprovalStatusApproved        ApprovalStatus = "approved"
	ApprovalStatusRejected        ApprovalStatus = "rejected"
	ApprovalStatusRequiresChanges ApprovalStatus = "requires_changes"
	ApprovalStatusCancelled       ApprovalStatus = "cancelled"
)

// approvalTransitions is the only place allowed status changes are defined.
var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalStatusPending: {
		ApprovalStatusInProgress,
		ApprovalStatusCancelled,
	},
	ApprovalStatusInProgress: {
		ApprovalStatusApproved,
		ApprovalStatusRejected,
		ApprovalStatusRequiresChanges,
		ApprovalStatusCancelled,
	},
	ApprovalStatusRequiresChanges: {
		ApprovalStatusPending,
		ApprovalStatusCancelled,
	},
	ApprovalStatusApproved:  nil,
	ApprovalStatusRejected:  nil,
	ApprovalStatusCancelled: nil,
}

// ApprovalStatuses returns every known status.
func ApprovalStatuses() []ApprovalStatus {
	return []ApprovalStatus{
		ApprovalStatusPending,
		ApprovalStatusInProgress,
		ApprovalStatusApproved,
		ApprovalStatusRejected,
		ApprovalStatusRequiresChanges,
		ApprovalStatusCancelled,
	}
}

// Valid reports whether s is a known status.
func (s ApprovalStatus) Valid() bool {
	_, ok := approvalTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s ApprovalStatus) IsTerminal() bool {
	switch s {
	case ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the transition table allows s -> to.
func (s ApprovalStatus) CanTransitionTo(to ApprovalStatus) bool {
	for _, allowed := range approvalTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ApproverType determines how a Step resolves approver identities.
type ApproverType string

const (
	ApproverTypeIndividual     ApproverType = "individual"
	ApproverTypeRole           ApproverType = "role"
	ApproverTypeDepartment     ApproverType = "department"
	ApproverTypeCreatorManager ApproverType = "creator_manager"
)

// Valid reports whether t is a known approver type.
func (t ApproverType) Valid() bool {
	switch t {
	case ApproverTypeIndividual, ApproverTypeRole, ApproverTypeDepartment, ApproverTypeCreatorManager:
		return true
	default:
		return false
	}
}

// ActionType is the kind of decision recorded by an Action.
type ActionType string

const (
	ActionTypeApprove        ActionType = "approve"
	ActionTypeReject         ActionType = "reject"
	ActionTypeRequestChanges ActionType = "request_changes"
	ActionTypeEscalate       ActionType = "escalate"
	ActionTypeAutoApprove    ActionType = "auto_approve"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeApprove, ActionTypeReject, ActionTypeRequestChanges, ActionTypeEscalate, ActionTypeAutoApprove:
		return true
	default:
		return false
	}
}
