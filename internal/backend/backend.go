// Package backend abstracts agent execution behind a small port. The rest of
// the system never learns how a prompt is executed: a backend accepts a prompt,
// streams output lines as they appear and returns a Response describing the
// outcome. Invocation failures are reported inside the Response rather than as
// Go errors so that callers always receive a usable result; only chat creation
// can fail outright.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors classifying backend failures. CreateChat errors wrap
// ErrUnavailable; Response.Err wraps the sentinel matching the failure.
var (
	ErrUnavailable = errors.New("backend unavailable")
	ErrTimeout     = errors.New("backend timed out")
	ErrExecution   = errors.New("backend execution failed")
)

type failureKind int

const (
	failExecution failureKind = iota
	failTimeout
	failUnavailable
)

// Response is the outcome of a single backend invocation.
//
// Error may be non-empty even when Success is true: agents are free to write
// warnings to stderr while exiting zero.
type Response struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	kind failureKind
}

// Err converts a failed Response into an error wrapping the matching sentinel.
// It returns nil when the invocation succeeded. Responses built outside this
// package classify as ErrExecution.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	base := ErrExecution
	switch r.kind {
	case failTimeout:
		base = ErrTimeout
	case failUnavailable:
		base = ErrUnavailable
	}
	if r.Error == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, r.Error)
}

// Backend executes prompts against an agent.
//
// Invoke is total: it never returns a Go error. Transport problems, timeouts
// and non-zero exits all surface as a Response with Success=false. onLine, when
// non-nil, receives each output line (without the trailing newline) as it is
// produced.
type Backend interface {
	// CreateChat establishes a new conversation and returns its id. Backends
	// without a conversation concept fabricate one.
	CreateChat(ctx context.Context) (string, error)

	Invoke(ctx context.Context, prompt string, onLine func(string)) *Response
}

func timeoutResponse(msg string, md map[string]any) *Response {
	return &Response{Success: false, Error: msg, Metadata: md, kind: failTimeout}
}

func unavailableResponse(msg string, md map[string]any) *Response {
	return &Response{Success: false, Error: msg, Metadata: md, kind: failUnavailable}
}

func executionResponse(msg string, md map[string]any) *Response {
	return &Response{Success: false, Error: msg, Metadata: md, kind: failExecution}
}
