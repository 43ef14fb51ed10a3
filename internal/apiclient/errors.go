package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failed call. Only Timeout and NetworkUnreachable are retryable.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindNetworkUnreachable
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindServerError
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Retryable reports whether a call failing with k may be attempted again
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindNetworkUnreachable
}

// Title is a short heading for the failure, used by notices
func (k Kind) Title() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindNetworkUnreachable:
		return "Network Error"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "Not Found"
	case KindServerError:
		return "Server Error"
	case KindValidation:
		return "Invalid Request"
	default:
		return "Error"
	}
}

const (
	msgTimeout      = "The request timed out. Please check your internet connection and try again."
	msgNetwork      = "Unable to connect to the server. Please check your internet connection and API URL."
	msgUnauthorized = "Authentication failed. Please check your credentials."
	msgNoToken      = "Not logged in. Please log in again."
	msgForbidden    = "You do not have permission to perform this action."
	msgNotFound     = "The requested resource was not found. Please check your API URL."
	msgServer       = "Internal server error. Please try again later."
)

// Error is a classified failure
type Error struct {
	Kind       Kind
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind != KindValidation {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be retried
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf extracts the Kind from err, KindUnknown if err is not classified
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a classified retryable failure
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// Validation builds a client-side validation error
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// classifyTransport classifies an error from http.Client.Do
func classifyTransport(err error, parent context.Context) *Error {
	if parent.Err() != nil && errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnknown, Message: "request cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: msgTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: msgTimeout, Err: err}
	}
	return &Error{Kind: KindNetworkUnreachable, Message: msgNetwork, Err: err}
}

// errorBody is the server's failure envelope
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classifyStatus classifies a non-2xx response
func classifyStatus(code int, body []byte, fallback string) *Error {
	e := &Error{StatusCode: code}
	switch {
	case code == http.StatusUnauthorized:
		e.Kind, e.Message = KindUnauthorized, msgUnauthorized
	case code == http.StatusForbidden:
		e.Kind, e.Message = KindForbidden, msgForbidden
	case code == http.StatusNotFound:
		e.Kind, e.Message = KindNotFound, msgNotFound
	case code >= 500:
		e.Kind, e.Message = KindServerError, msgServer
	default:
		e.Kind, e.Message = KindUnknown, fallback
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			if eb.Error != "" {
				e.Message = eb.Error
			} else if eb.Message != "" {
				e.Message = eb.Message
			}
		}
	}
	return e
}
