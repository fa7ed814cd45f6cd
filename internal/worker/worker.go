// Package worker drives the execution half of an iteration: it turns the task
// and the currently open items into a prompt, dispatches it to the backend and
// passes the outcome through untouched. All interpretation of what the agent
// produced is the supervisor's job.
package worker

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/veictry/aiaim/internal/backend"
)

// Outcome is the pass-through result of one worker dispatch.
type Outcome struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Worker dispatches execution prompts to a backend.
type Worker struct {
	backend backend.Backend
	logger  *zap.Logger
}

// New builds a Worker. logger may be nil.
func New(b backend.Backend, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{backend: b, logger: logger}
}

// Execute runs one worker pass. pending carries the items still open after
// the previous review; when empty the prompt holds only the task itself.
func (w *Worker) Execute(ctx context.Context, task string, pending []string, onLine func(string)) Outcome {
	prompt := buildPrompt(task, pending)

	w.logger.Debug("dispatching worker",
		zap.Int("pending_items", len(pending)),
		zap.Int("prompt_bytes", len(prompt)))

	resp := w.backend.Invoke(ctx, prompt, onLine)
	if !resp.Success {
		w.logger.Warn("worker invocation failed", zap.String("error", resp.Error))
	}
	return Outcome{Success: resp.Success, Output: resp.Output, Error: resp.Error}
}

// ExecuteWithContext runs one worker pass with a free-form context document,
// typically a status report from an earlier run, instead of an item list.
func (w *Worker) ExecuteWithContext(ctx context.Context, task, doc string, onLine func(string)) Outcome {
	var b strings.Builder
	b.WriteString("Please complete the following task.\n\n## Task Description\n")
	b.WriteString(task)
	b.WriteString("\n\n## Context\n")
	b.WriteString(doc)
	b.WriteString("\n\nContinue from the context above and make sure every requirement is met.\n")
	prompt := b.String()

	w.logger.Debug("dispatching worker with context", zap.Int("prompt_bytes", len(prompt)))

	resp := w.backend.Invoke(ctx, prompt, onLine)
	if !resp.Success {
		w.logger.Warn("worker invocation failed", zap.String("error", resp.Error))
	}
	return Outcome{Success: resp.Success, Output: resp.Output, Error: resp.Error}
}

func buildPrompt(task string, pending []string) string {
	var b strings.Builder
	b.WriteString("Please complete the following task.\n\n## Task Description\n")
	b.WriteString(task)
	b.WriteString("\n")

	if len(pending) > 0 {
		b.WriteString("\n## Pending Items\nThe following items were still open after the last review; address them first:\n\n")
		for _, item := range pending {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
		b.WriteString("\nMake sure every pending item above gets finished.\n")
	}

	b.WriteString("\nBegin working now and make sure every requirement is met.\n")
	return b.String()
}
