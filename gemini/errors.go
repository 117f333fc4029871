package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ErrSessionClosed is returned once a session has been closed, by either side
var ErrSessionClosed = errors.New("gemini session closed")

// ConnectErrorKind classifies why a Live session could not be opened
type ConnectErrorKind int

const (
	ConnectUnavailable ConnectErrorKind = iota
	ConnectAuthFailure
	ConnectInvalidConfig
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectAuthFailure:
		return "auth_failure"
	case ConnectInvalidConfig:
		return "invalid_config"
	default:
		return "unavailable"
	}
}

// ConnectError is returned by Open. It is always fatal for the session.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("gemini connect (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendErrorKind classifies a failed send
type SendErrorKind int

const (
	SendQueueFull SendErrorKind = iota
	SendSessionClosed
)

func (k SendErrorKind) String() string {
	if k == SendSessionClosed {
		return "session_closed"
	}
	return "queue_full"
}

// SendError is returned by the Send* methods. A full queue only costs one frame;
// a closed session is fatal and unwraps to ErrSessionClosed.
type SendError struct {
	Kind SendErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("gemini send (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func errSendClosed() error {
	return &SendError{Kind: SendSessionClosed, Err: ErrSessionClosed}
}

// classifyConnectError maps a Live.Connect failure to a ConnectError
func classifyConnectError(err error) *ConnectError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ConnectError{Kind: ConnectUnavailable, Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ConnectError{Kind: kindForStatus(apiErr.Code), Err: err}
	}

	// The websocket handshake failure only surfaces as text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "api key"), strings.Contains(msg, "permission denied"):
		return &ConnectError{Kind: ConnectAuthFailure, Err: err}
	case strings.Contains(msg, "400"), strings.Contains(msg, "404"),
		strings.Contains(msg, "invalid argument"):
		return &ConnectError{Kind: ConnectInvalidConfig, Err: err}
	}
	return &ConnectError{Kind: ConnectUnavailable, Err: err}
}

func kindForStatus(code int) ConnectErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ConnectAuthFailure
	case http.StatusBadRequest, http.StatusNotFound:
		return ConnectInvalidConfig
	default:
		return ConnectUnavailable
	}
}
