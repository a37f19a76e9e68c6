// Package errors provides RFC 7807 problem-details responses for the HTTP
// API. Engine-level absence conditions are values, not errors; only hard
// failures and caller mistakes surface here.
package errors

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ProblemDetails is an RFC 7807 compliant error response.
type ProblemDetails struct {
	// Type is a URI reference that identifies the problem type
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Status is the HTTP status code
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence
	Detail string `json:"detail"`
	// Instance identifies the specific occurrence of the problem
	Instance string `json:"instance,omitempty"`
	// Timestamp when the error occurred
	Timestamp time.Time `json:"timestamp"`
}

// Problem type URIs.
const (
	TypeValidationError     = "https://api.variantly.io/errors/validation-error"
	TypeNotFound            = "https://api.variantly.io/errors/not-found"
	TypeDuplicateExperiment = "https://api.variantly.io/errors/duplicate-experiment"
	TypeInternalError       = "https://api.variantly.io/errors/internal-error"
)

// NewProblem creates a problem with the current timestamp.
func NewProblem(problemType, title string, status int, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

// BadRequest builds a 400 validation problem.
func BadRequest(detail string) *ProblemDetails {
	return NewProblem(TypeValidationError, "Validation Error", http.StatusBadRequest, detail)
}

// NotFound builds a 404 problem.
func NotFound(detail string) *ProblemDetails {
	return NewProblem(TypeNotFound, "Not Found", http.StatusNotFound, detail)
}

// Conflict builds a 409 duplicate-experiment problem.
func Conflict(detail string) *ProblemDetails {
	return NewProblem(TypeDuplicateExperiment, "Duplicate Experiment", http.StatusConflict, detail)
}

// Internal builds a 500 problem.
func Internal(detail string) *ProblemDetails {
	return NewProblem(TypeInternalError, "Internal Server Error", http.StatusInternalServerError, detail)
}

// Write sends the problem as the response body with the RFC 7807 media
// type and aborts the request.
func Write(c *gin.Context, p *ProblemDetails) {
	p.Instance = c.Request.URL.Path
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(p.Status, p)
}
