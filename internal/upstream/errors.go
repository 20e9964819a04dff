package upstream

import (
	"errors"
	"fmt"

	"github.com/livinlefevreloca/collector/internal/record"
)

// Outcome classes for a failed fetch
var (
	ErrTransportFailure = errors.New("upstream: transport failure")
	ErrUpstreamRejected = errors.New("upstream: rejected")
)

// TransportError means the request/response cycle could not be completed:
// connection failure, timeout, non-2xx status or an unreadable body.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no HTTP response was received
	Reason     string
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("upstream transport failure calling %s: %s", e.URL, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransportFailure}
	}
	return []error{ErrTransportFailure, e.Err}
}

// RejectedError means upstream answered but with a non-success res_code
type RejectedError struct {
	Code    record.ResponseCode
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected request: res_code=%s res_msg=%q", e.Code, e.Message)
}

func (e *RejectedError) Unwrap() error {
	return ErrUpstreamRejected
}
