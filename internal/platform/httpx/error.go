// Package httpx holds the JSON envelope shared by every handler.
package httpx

import (
	"context"
	"maps"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pawmart/api/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
)

// Error is an API failure as clients see it.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

type errorEnvelope struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewError builds an Error; a zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, codeLimit), Message: oneLine(message, messageLimit), Status: status}
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = oneLine(id, idLimit)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = oneLine(id, idLimit)
	return e
}

// WithDetails copies details into the envelope's "details" object.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

// WriteError renders err, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	env := errorEnvelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: err.RequestID,
		TraceID:   err.TraceID,
		Details:   err.Details,
	}
	if env.Status == 0 {
		env.Status = http.StatusInternalServerError
	}
	if env.RequestID == "" {
		env.RequestID = oneLine(middleware.GetReqID(ctx), idLimit)
	}
	if env.TraceID == "" {
		env.TraceID = oneLine(requestctx.TraceID(ctx), idLimit)
	}
	WriteJSON(w, env.Status, env)
}

// oneLine collapses control characters to spaces and truncates to limit bytes.
func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
