package show

import (
	"encoding/json"
	"errors"

	"github.com/openmic/showrunner/go/clients"
)

// ErrorKind buckets command failures for the UI: transport problems get a
// generic message, auth failures prompt re-authentication, validation
// failures pass the backend's message through unmodified.
type ErrorKind int

const (
	ErrorTransport ErrorKind = iota
	ErrorAuth
	ErrorValidation
)

// CommandError is the failure result of a dispatched command. Message is
// user-presentable; Err retains the cause for logging.
type CommandError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CommandError) Error() string { return e.Message }

func (e *CommandError) Unwrap() error { return e.Err }

const (
	transportMessage = "Could not reach the server. Please try again."
	authMessage      = "Your session has expired. Please sign in again."
	genericMessage   = "An error occurred while processing your request. Please try again."
)

func classifyCommandError(err error) *CommandError {
	var statusErr *clients.StatusError
	if !errors.As(err, &statusErr) {
		// Timeouts, refused connections, cancelled contexts.
		return &CommandError{Kind: ErrorTransport, Message: transportMessage, Err: err}
	}

	switch {
	case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
		return &CommandError{Kind: ErrorAuth, Message: authMessage, Err: err}
	case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
		msg := backendMessage(statusErr.Body)
		if msg == "" {
			msg = genericMessage
		}
		return &CommandError{Kind: ErrorValidation, Message: msg, Err: err}
	default:
		return &CommandError{Kind: ErrorTransport, Message: transportMessage, Err: err}
	}
}

// backendMessage extracts the human-readable message the backend embeds in
// error bodies, trying the shapes it is known to use.
func backendMessage(body []byte) string {
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Errors) > 0 && payload.Errors[0].Message != "" {
		return payload.Errors[0].Message
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
