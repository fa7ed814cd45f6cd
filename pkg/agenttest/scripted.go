// Package agenttest provides deterministic backends and fixtures for testing
// code that drives agent execution without spawning real agents.
package agenttest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/veictry/aiaim/internal/backend"
)

// Scripted is a backend that replays canned responses in order and records
// every prompt it receives. When the script runs out it returns a failed
// response so the test fails loudly instead of looping forever.
type Scripted struct {
	// ChatID is returned by CreateChat. Defaults to "chat-test".
	ChatID string

	// CreateErr, when set, makes CreateChat fail.
	CreateErr error

	mu        sync.Mutex
	responses []*backend.Response
	prompts   []string
	creates   int
}

// NewScripted builds a Scripted backend that replays the given responses.
func NewScripted(responses ...*backend.Response) *Scripted {
	return &Scripted{ChatID: "chat-test", responses: responses}
}

// Enqueue appends further responses to the script.
func (s *Scripted) Enqueue(responses ...*backend.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

func (s *Scripted) CreateChat(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.CreateErr != nil {
		return "", s.CreateErr
	}
	if s.ChatID == "" {
		s.ChatID = "chat-test"
	}
	return s.ChatID, nil
}

func (s *Scripted) Invoke(ctx context.Context, prompt string, onLine func(string)) *backend.Response {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	var resp *backend.Response
	if len(s.responses) > 0 {
		resp = s.responses[0]
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()

	if resp == nil {
		return &backend.Response{Success: false, Error: "scripted backend exhausted"}
	}
	if onLine != nil && resp.Output != "" {
		for _, line := range strings.Split(resp.Output, "\n") {
			onLine(line)
		}
	}
	return resp
}

// Prompts returns a copy of every prompt received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// CreateCalls reports how many times CreateChat was invoked.
func (s *Scripted) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Remaining reports how many scripted responses are left unconsumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}

// OutputResponse wraps plain agent output as a successful response.
func OutputResponse(output string) *backend.Response {
	return &backend.Response{Success: true, Output: output}
}

// FailedResponse builds a failed response with the given error text.
func FailedResponse(errText string) *backend.Response {
	return &backend.Response{Success: false, Error: errText}
}

// CompleteVerdict builds a successful response whose output is a verdict
// declaring the task complete.
func CompleteVerdict(summary string, newlyCompleted ...string) *backend.Response {
	return verdictResponse(true, "completed", summary, nil, newlyCompleted)
}

// IncompleteVerdict builds a successful response whose output is a verdict
// listing the still pending items.
func IncompleteVerdict(summary string, pending ...string) *backend.Response {
	return verdictResponse(false, "in_progress", summary, pending, nil)
}

func verdictResponse(complete bool, status, summary string, pending, newlyCompleted []string) *backend.Response {
	if pending == nil {
		pending = []string{}
	}
	if newlyCompleted == nil {
		newlyCompleted = []string{}
	}
	payload, _ := json.Marshal(map[string]any{
		"is_complete":     complete,
		"status":          status,
		"pending_items":   pending,
		"newly_completed": newlyCompleted,
		"summary":         summary,
	})
	return &backend.Response{Success: true, Output: string(payload)}
}
