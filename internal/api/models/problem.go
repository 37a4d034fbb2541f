package models

import (
	"encoding/json"
	"net/http"

	"github.com/zonewatch/zonewatch/internal/permission"
)

// Problem is an RFC 7807 error body, sent as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`

	// Guidance is set when the request failed on a missing location permission.
	Guidance *permission.Guidance `json:"guidance,omitempty"`
}

// FieldError is a validation error on one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem types.
const (
	ProblemTypeValidation      = "https://zonewatch.dev/problems/validation-error"
	ProblemTypeUnauthorized    = "https://zonewatch.dev/problems/unauthorized"
	ProblemTypePermission      = "https://zonewatch.dev/problems/location-permission"
	ProblemTypeNotFound        = "https://zonewatch.dev/problems/not-found"
	ProblemTypeConflict        = "https://zonewatch.dev/problems/conflict"
	ProblemTypeTooManyRequests = "https://zonewatch.dev/problems/too-many-requests"
	ProblemTypeInternal        = "https://zonewatch.dev/problems/internal-error"
	ProblemTypeBackend         = "https://zonewatch.dev/problems/backend-unreachable"
	ProblemTypeUnavailable     = "https://zonewatch.dev/problems/service-unavailable"
)

// NewProblem creates a Problem.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail sets the detail message.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// Write sends the Problem.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-Id", p.TraceID)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID)
	p.Detail = detail
	p.Errors = errors
	return p
}

func NewUnauthorized(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized, traceID).WithDetail(detail)
}

// NewPermissionRequired is a 403 for a missing location permission, with recovery guidance.
func NewPermissionRequired(traceID, detail string, guidance *permission.Guidance) *Problem {
	p := NewProblem(ProblemTypePermission, "Location permission required", http.StatusForbidden, traceID)
	p.Detail = detail
	p.Guidance = guidance
	return p
}

func NewNotFound(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID).WithDetail(detail)
}

func NewConflict(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeConflict, "Conflict", http.StatusConflict, traceID).WithDetail(detail)
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID).WithDetail(detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID).WithDetail(detail)
}

// NewBadGateway reports that the zonewatch backend could not be reached or failed.
func NewBadGateway(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeBackend, "Backend unavailable", http.StatusBadGateway, traceID).WithDetail(detail)
}

func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID).WithDetail(detail)
}
