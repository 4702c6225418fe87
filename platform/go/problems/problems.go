// Package problems implements RFC 7807 problem-details responses used by
// every HTTP handler as the single error shape crossing the API boundary.
package problems

import (
	"encoding/json"
	"net/http"
)

const contentType = "application/problem+json"

// Problem type URIs, one per error family the services surface.
const (
	TypeValidation        = "https://trazar.dehesalabs.com/problems/validation-error"
	TypeInvalidTransition = "https://trazar.dehesalabs.com/problems/invalid-transition"
	TypeConflict          = "https://trazar.dehesalabs.com/problems/conflict"
	TypeNotFound          = "https://trazar.dehesalabs.com/problems/not-found"
	TypeExpired           = "https://trazar.dehesalabs.com/problems/expired"
	TypeInternal          = "https://trazar.dehesalabs.com/problems/internal-error"
)

// ProblemDetails is the wire shape for API errors. Detail doubles as the
// `message` field legacy consumers read.
type ProblemDetails struct {
	Type    string              `json:"type"`
	Title   string              `json:"title"`
	Status  int                 `json:"status"`
	Detail  string              `json:"detail,omitempty"`
	Message string              `json:"message,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// WithFieldErrors attaches per-field validation messages.
func (p ProblemDetails) WithFieldErrors(fields map[string][]string) ProblemDetails {
	if len(fields) == 0 {
		return p
	}
	copied := make(map[string][]string, len(fields))
	for field, messages := range fields {
		copied[field] = append([]string(nil), messages...)
	}
	p.Errors = copied
	return p
}

// New builds a problem with Detail mirrored into Message.
func New(problemType, title string, status int, detail string) ProblemDetails {
	return ProblemDetails{
		Type:    problemType,
		Title:   title,
		Status:  status,
		Detail:  detail,
		Message: detail,
	}
}

// Validation builds a 400 validation problem.
func Validation(detail string) ProblemDetails {
	return New(TypeValidation, "Validation error", http.StatusBadRequest, detail)
}

// InvalidTransition builds a 422 stage-order problem.
func InvalidTransition(detail string) ProblemDetails {
	return New(TypeInvalidTransition, "Invalid stage transition", http.StatusUnprocessableEntity, detail)
}

// Conflict builds a 409 problem.
func Conflict(detail string) ProblemDetails {
	return New(TypeConflict, "Conflict", http.StatusConflict, detail)
}

// NotFound builds a 404 problem.
func NotFound(detail string) ProblemDetails {
	return New(TypeNotFound, "Not found", http.StatusNotFound, detail)
}

// Expired builds a 410 problem for revoked or rotated-out tokens.
func Expired(detail string) ProblemDetails {
	return New(TypeExpired, "Gone", http.StatusGone, detail)
}

// Internal builds a 500 problem with a generic detail so internals never leak.
func Internal() ProblemDetails {
	return New(TypeInternal, "Internal error", http.StatusInternalServerError, "unexpected error")
}

// Write renders the problem on the response writer.
func Write(w http.ResponseWriter, p ProblemDetails) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
