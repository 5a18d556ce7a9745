package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies Graph failures so callers never inspect message text.
type ErrorKind string

const (
	KindUpstream          ErrorKind = "upstream"
	KindNotFound          ErrorKind = "not_found"
	KindValidationTimeout ErrorKind = "validation_timeout"
)

// APIError is a non-2xx response from Graph.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Kind      ErrorKind
	Method    string
	Path      string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("graph %s %s: %d %s", e.Method, e.Path, e.Status, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request-id " + e.RequestID + ")"
	}
	return msg
}

// AuthError wraps a failed client-credentials exchange.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("acquire graph token: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsValidationTimeout reports whether Graph gave up waiting for the handshake.
func IsValidationTimeout(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindValidationTimeout
}

// IsNotFound reports a 404 from Graph.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}

// IsAuthError reports a token acquisition failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

type errorEnvelope struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError struct {
			RequestID       string `json:"request-id"`
			ClientRequestID string `json:"client-request-id"`
		} `json:"innerError"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response, body []byte, method, path string) *APIError {
	apiErr := &APIError{
		Status:    resp.StatusCode,
		Code:      "Unknown",
		Message:   strings.TrimSpace(string(body)),
		RequestID: resp.Header.Get("request-id"),
		Kind:      KindUpstream,
		Method:    method,
		Path:      path,
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		if env.Error.InnerError.RequestID != "" {
			apiErr.RequestID = env.Error.InnerError.RequestID
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		apiErr.Kind = KindNotFound
	case isValidationTimeout(apiErr.Code, apiErr.Message):
		apiErr.Kind = KindValidationTimeout
	}
	return apiErr
}

func isValidationTimeout(code, message string) bool {
	lower := strings.ToLower(message)
	if code == "ValidationError" && strings.Contains(lower, "timeout") {
		return true
	}
	return strings.Contains(lower, "subscription validation request timed out") ||
		(code == "ValidationError" && strings.Contains(lower, "timed out"))
}
