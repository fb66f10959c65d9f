package errors

import "net/http"

// Error codes. Messages are English; clients key off the code.

// Approval error codes.
const (
	CodeApprovalNotFound           = "APPROVAL_NOT_FOUND"
	CodeApprovalInvalidState       = "APPROVAL_INVALID_STATE"
	CodeApprovalValidation         = "APPROVAL_VALIDATION_FAILED"
	CodeApprovalConcurrentModified = "APPROVAL_CONCURRENT_MODIFICATION"
	CodeApprovalAlreadyOpen        = "APPROVAL_ALREADY_OPEN"
	CodeApproverNotAuthorized      = "APPROVER_NOT_AUTHORIZED"
	CodeNoApplicableWorkflow       = "NO_APPLICABLE_WORKFLOW"
	CodeNoApproversResolved        = "NO_APPROVERS_RESOLVED"
	CodeWorkflowValidation         = "WORKFLOW_VALIDATION_FAILED"
	CodeStepValidation             = "STEP_VALIDATION_FAILED"
	CodeActionValidation           = "ACTION_VALIDATION_FAILED"
	CodeWorkflowNotFound           = "WORKFLOW_NOT_FOUND"
	CodeDocumentNotFound           = "DOCUMENT_NOT_FOUND"
	CodeEventRelayFailed           = "EVENT_RELAY_FAILED"
)

// Generic error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
)

// ErrApproverNotAuthorized reports a decision by someone who is not an
// approver of the current step.
func ErrApproverNotAuthorized(approverID string) *AppError {
	return &AppError{
		Code:       CodeApproverNotAuthorized,
		Message:    "user is not an approver of the current step",
		HTTPStatus: http.StatusForbidden,
		Params:     map[string]interface{}{"approver_id": approverID},
	}
}

// ErrNoApplicableWorkflow reports that no active workflow governs a document.
func ErrNoApplicableWorkflow(documentID string) *AppError {
	return &AppError{
		Code:       CodeNoApplicableWorkflow,
		Message:    "no active workflow applies to the document",
		HTTPStatus: http.StatusUnprocessableEntity,
		Params:     map[string]interface{}{"document_id": documentID},
	}
}

// ErrNoApproversResolved reports a step whose approver rule matched nobody.
func ErrNoApproversResolved(stepID string) *AppError {
	return &AppError{
		Code:       CodeNoApproversResolved,
		Message:    "approver rule of the step resolved to no users",
		HTTPStatus: http.StatusUnprocessableEntity,
		Params:     map[string]interface{}{"step_id": stepID},
	}
}

// ErrApprovalAlreadyOpen reports a second submission for a document that
// already has an open approval.
func ErrApprovalAlreadyOpen(documentID string) *AppError {
	return &AppError{
		Code:       CodeApprovalAlreadyOpen,
		Message:    "document already has an open approval",
		HTTPStatus: http.StatusConflict,
		Params:     map[string]interface{}{"document_id": documentID},
	}
}
