// Package api provides the HTTP client for the filebox storage API: bearer
// authentication, transparent token refresh on 401, retry of transient
// failures, error classification, and typed wrappers for every endpoint.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrTooLarge     = errors.New("api: payload too large")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")
)

// ErrSessionExpired means the session could not be renewed and has been
// logged out. The user must log in again.
var ErrSessionExpired = errors.New("api: session expired")

// maxDetailLen bounds how much of a non-JSON error body is kept.
const maxDetailLen = 512

// APIError wraps a sentinel error with the HTTP status code, the request ID
// sent with the request, and the server's detail message.
type APIError struct {
	StatusCode int
	RequestID  string
	Detail     string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s)", e.StatusCode, e.RequestID)
	}

	return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code is transient.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// errorBody is the error envelope: {"detail": "..."}. Validation failures
// carry a list of {"loc": [...], "msg": "..."} objects instead of a string.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationIssue struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseDetail extracts a human-readable message from an error body.
func parseDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 {
		return truncateDetail(strings.TrimSpace(string(body)))
	}

	var s string
	if err := json.Unmarshal(eb.Detail, &s); err == nil {
		return s
	}

	var issues []validationIssue
	if err := json.Unmarshal(eb.Detail, &issues); err == nil && len(issues) > 0 {
		parts := make([]string, 0, len(issues))

		for _, is := range issues {
			if field := issueField(is.Loc); field != "" {
				parts = append(parts, field+": "+is.Msg)
				continue
			}

			parts = append(parts, is.Msg)
		}

		return strings.Join(parts, "; ")
	}

	return truncateDetail(string(eb.Detail))
}

// issueField returns the last path element of a validation location.
func issueField(loc []any) string {
	if len(loc) == 0 {
		return ""
	}

	return fmt.Sprint(loc[len(loc)-1])
}

func truncateDetail(s string) string {
	if len(s) > maxDetailLen {
		return s[:maxDetailLen] + "..."
	}

	return s
}
