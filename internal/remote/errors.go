// Package remote provides an HTTP client for the remote file store: a
// folder/file tree whose resources carry any number of parent links. It
// handles request construction, automatic retry with backoff, and error
// classification.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: conflict")
	ErrThrottled    = errors.New("remote: throttled")
	ErrServerError  = errors.New("remote: server error")
	ErrNotLoggedIn  = errors.New("remote: not logged in")
)

// Error wraps a sentinel error with the HTTP status code, the reason and
// message from the service's error envelope, and the request ID.
type Error struct {
	StatusCode int
	Reason     string
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	status := strconv.Itoa(e.StatusCode)
	if e.Reason != "" {
		status += " " + e.Reason
	}

	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %s (request-id: %s): %s", status, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %s: %s", status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Error reasons the service reports for rate limiting. They arrive with
// status 403, not 429.
const (
	reasonRateLimit     = "rateLimitExceeded"
	reasonUserRateLimit = "userRateLimitExceeded"
	reasonBackendError  = "backendError"
)

// errorEnvelope is the JSON body of a failed request:
//
//	{"error": {"code": 403, "message": "...", "errors": [{"reason": "..."}]}}
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Domain  string `json:"domain"`
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// parseErrorBody returns the first reason and the top-level message of an
// error envelope. A body that is not an envelope is returned verbatim as
// the message.
func parseErrorBody(body []byte) (reason, message string) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || (env.Error.Code == 0 && env.Error.Message == "") {
		return "", string(body)
	}

	message = env.Error.Message

	for _, e := range env.Error.Errors {
		if e.Reason == "" {
			continue
		}

		reason = e.Reason
		if message == "" {
			message = e.Message
		}

		break
	}

	return reason, message
}

func isRateLimitReason(reason string) bool {
	return reason == reasonRateLimit || reason == reasonUserRateLimit
}

// classify maps a failed response to a sentinel error. A rate-limit reason
// wins over the status code. Returns nil for codes without a sentinel.
func classify(code int, reason string) error {
	if isRateLimitReason(reason) {
		return ErrThrottled
	}

	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a failed response should be retried.
func isRetryable(code int, reason string) bool {
	if isRateLimitReason(reason) || reason == reasonBackendError {
		return true
	}

	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
