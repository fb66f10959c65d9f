package errors

import (
	"errors"
	"net/http"

	"github.com/s35241607/ticket-system/internal/domain"
)

var validationCodes = map[domain.Entity]string{
	domain.EntityApproval: CodeApprovalValidation,
	domain.EntityWorkflow: CodeWorkflowValidation,
	domain.EntityStep:     CodeStepValidation,
	domain.EntityAction:   CodeActionValidation,
}

// FromDomain maps an engine error to an AppError. Errors that already are
// AppErrors are returned unchanged; unknown errors become 500s.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := IsAppError(err); ok {
		return appErr
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		code, ok := validationCodes[verr.Entity]
		if !ok {
			code = CodeValidationFailed
		}
		return Wrap(err, code, verr.Message, http.StatusBadRequest).
			WithParams(map[string]interface{}{"entity": string(verr.Entity)})
	}

	var serr *domain.StateError
	if errors.As(err, &serr) {
		params := map[string]interface{}{
			"from":      string(serr.From),
			"operation": serr.Operation,
		}
		if serr.To != "" {
			params["to"] = string(serr.To)
		}
		return Wrap(err, CodeApprovalInvalidState, serr.Error(), http.StatusConflict).WithParams(params)
	}

	switch {
	case errors.Is(err, domain.ErrConcurrentModification):
		return Wrap(err, CodeApprovalConcurrentModified, "approval was modified concurrently, reload and retry", http.StatusConflict)
	case errors.Is(err, domain.ErrDuplicate):
		return Wrap(err, CodeConflict, "resource already exists", http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		return Wrap(err, CodeNotFound, "resource not found", http.StatusNotFound)
	}
	return Wrap(err, CodeInternal, "internal server error", http.StatusInternalServerError)
}
