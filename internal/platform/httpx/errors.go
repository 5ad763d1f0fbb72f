// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/clubledger/clubledger/internal/shared"
)

// RespondError maps engine errors to HTTP responses using RFC7807.
// Cross-tenant lookups already surface as NOT_FOUND in the service layer,
// so nothing here can leak existence across tenants.
func RespondError(w http.ResponseWriter, err error) {
	var engineErr *shared.Error
	if !errors.As(err, &engineErr) {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	status := http.StatusInternalServerError
	title := "Internal Error"
	switch engineErr.Code {
	case shared.CodeValidationFailed:
		status, title = http.StatusBadRequest, "Validation Failed"
	case shared.CodeNotFound:
		status, title = http.StatusNotFound, "Not Found"
	case shared.CodeForbidden:
		status, title = http.StatusForbidden, "Forbidden"
	case shared.CodeConflict:
		status, title = http.StatusConflict, "Conflict"
	case shared.CodeBusinessRuleViolation:
		status, title = http.StatusUnprocessableEntity, "Business Rule Violation"
	}

	JSON(w, status, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: engineErr.Message,
		Code:   string(engineErr.Code),
		Fields: engineErr.Fields,
	})
}
