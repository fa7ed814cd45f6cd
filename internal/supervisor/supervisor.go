// Package supervisor drives the judgment half of an iteration: it asks the
// backend whether the task is done, parses the reply into a verdict and folds
// the verdict into the todo ledger. The ledger's completed items are injected
// back into later prompts so settled work is not re-litigated and prompt size
// stays bounded as a run progresses.
package supervisor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/veictry/aiaim/internal/backend"
	"github.com/veictry/aiaim/internal/todo"
	"github.com/veictry/aiaim/internal/verdict"
)

// Supervisor checks task completion via a backend and maintains the ledger.
type Supervisor struct {
	backend backend.Backend
	ledger  *todo.Ledger
	store   todo.Store
	logger  *zap.Logger
}

// New builds a Supervisor. store may be nil for an in-memory ledger; logger
// may be nil. With a store, the existing ledger is loaded so resumed runs
// keep their history.
func New(b backend.Backend, store todo.Store, logger *zap.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ledger := &todo.Ledger{}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			return nil, err
		}
		ledger = loaded
	}

	return &Supervisor{backend: b, ledger: ledger, store: store, logger: logger}, nil
}

// Ledger exposes the supervisor's ledger for rendering and inspection.
func (s *Supervisor) Ledger() *todo.Ledger { return s.ledger }

// CheckCompletion asks the backend whether the task is complete. It never
// fails: an unusable reply degrades to a pending verdict and a failed
// invocation becomes a verdict carrying the failure as a pending item. Every
// verdict, degraded or not, is reconciled into the ledger and persisted.
func (s *Supervisor) CheckCompletion(ctx context.Context, task, contextNote string, onLine func(string)) verdict.Verdict {
	if s.ledger.Task == "" {
		s.ledger.Task = task
	}

	prompt := s.buildPrompt(task, contextNote)
	s.logger.Debug("dispatching supervisor", zap.Int("prompt_bytes", len(prompt)))

	resp := s.backend.Invoke(ctx, prompt, onLine)

	var v verdict.Verdict
	if !resp.Success {
		s.logger.Warn("supervisor invocation failed", zap.String("error", resp.Error))
		v = verdict.FromFailure(resp.Error, resp.Output)
	} else {
		v = verdict.Parse(resp.Output)
	}

	completed, added := s.ledger.Reconcile(v)
	pending, done := s.ledger.Counts()
	s.logger.Debug("ledger reconciled",
		zap.Int("newly_completed", completed),
		zap.Int("added", added),
		zap.Int("pending", pending),
		zap.Int("completed", done))

	if s.store != nil {
		if err := s.store.Save(s.ledger); err != nil {
			s.logger.Warn("failed to persist todo ledger", zap.Error(err))
		}
	}

	return v
}

func (s *Supervisor) buildPrompt(task, contextNote string) string {
	var b strings.Builder
	b.WriteString("Please check whether the following task has been fully completed.\n\n")
	b.WriteString("## Original Task\n")
	b.WriteString(task)
	b.WriteString("\n")

	if done := s.ledger.Completed(); len(done) > 0 {
		b.WriteString("\n## Already Completed\nThese items were finished in earlier iterations; do not re-examine them:\n\n")
		for _, item := range done {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n## Current Context\n")
	if contextNote == "" {
		b.WriteString("This is the first check; no history yet.\n")
	} else {
		b.WriteString(contextNote)
		b.WriteString("\n")
	}

	b.WriteString(`
Reply with the following JSON format (return only JSON, nothing else):
{
    "is_complete": true/false,
    "status": "completed" | "in_progress" | "pending",
    "pending_items": ["unfinished item 1", "unfinished item 2", ...],
    "newly_completed": ["item finished this round", ...],
    "summary": "a brief summary of the current state"
}

Notes:
- If the task is fully complete, set is_complete to true and pending_items to an empty array.
- If the task is not complete, set is_complete to false and list every concrete unfinished item.
- List previously pending items that are now done in newly_completed, using their exact original wording.
- Keep the summary short and concrete.
`)

	return b.String()
}
