// Package runner orchestrates the bounded worker/supervisor loop. Each
// iteration dispatches the worker with the task and the currently open items,
// asks the supervisor for a completion verdict, records both outcomes and
// either finishes or carries the verdict's pending items into the next pass.
// The loop is single-threaded and cooperative: cancellation is observed
// between phases, never by tearing down a phase midway.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/veictry/aiaim/internal/backend"
	"github.com/veictry/aiaim/internal/supervisor"
	"github.com/veictry/aiaim/internal/todo"
	"github.com/veictry/aiaim/internal/verdict"
	"github.com/veictry/aiaim/internal/worker"
)

// Outcome names the terminal state of a run.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeMaxIterations Outcome = "max_iterations"
	OutcomeInitFailed    Outcome = "init_failed"
	OutcomeInterrupted   Outcome = "interrupted"
)

// Record is one immutable entry per loop pass. Either half may be missing
// when the run was interrupted between phases.
type Record struct {
	Iteration  int              `json:"iteration"`
	Timestamp  time.Time        `json:"timestamp"`
	Worker     *worker.Outcome  `json:"worker_result,omitempty"`
	Supervisor *verdict.Verdict `json:"supervisor_result,omitempty"`
}

// Result is the terminal artifact of one run.
type Result struct {
	Success      bool     `json:"success"`
	Completed    bool     `json:"completed"`
	Outcome      Outcome  `json:"outcome"`
	Iterations   int      `json:"iterations"`
	TotalTimeS   float64  `json:"total_time"`
	ChatID       string   `json:"chat_id,omitempty"`
	Records      []Record `json:"logs"`
	FinalSummary string   `json:"final_summary"`
	Error        string   `json:"error,omitempty"`
}

// Config wires a TaskRunner.
type Config struct {
	// WorkerBackend executes work prompts. Required. The worker's chat
	// session carries context between iterations.
	WorkerBackend backend.Backend

	// SupervisorBackend executes judgment prompts. Defaults to
	// WorkerBackend. Judgments are intentionally session-less so each check
	// is a fresh look at the state.
	SupervisorBackend backend.Backend

	// TodoStore persists the ledger. Nil keeps it in memory.
	TodoStore todo.Store

	// MaxIterations bounds the loop. Defaults to 10.
	MaxIterations int

	// Delay is the pause between iterations. Skipped after the final one.
	Delay time.Duration

	// ChatID resumes an existing backend conversation instead of creating
	// a new one.
	ChatID string

	// StartIteration numbers the first pass (for resumed sessions whose
	// records continue an earlier run). Defaults to 1. The run still gets
	// its full MaxIterations budget.
	StartIteration int

	// InitialPending seeds the first worker pass of a resumed run. It is
	// deliberately not folded into the first supervisor context: the
	// supervisor's view is built only from what this run observes.
	InitialPending []string

	// OnStatus receives human-readable progress lines.
	OnStatus func(string)

	// OnIterationStart fires with the iteration number before the worker
	// phase begins, so callers can open per-iteration sinks.
	OnIterationStart func(int)

	// OnIteration receives each record as it is appended.
	OnIteration func(Record)

	// OnAgentLine receives raw agent output lines as they stream.
	OnAgentLine func(string)

	Logger *zap.Logger
}

// TaskRunner drives a task to completion or to the iteration bound.
type TaskRunner struct {
	cfg        Config
	logger     *zap.Logger
	worker     *worker.Worker
	supervisor *supervisor.Supervisor
}

// New builds a TaskRunner, loading any persisted ledger from the store.
func New(cfg Config) (*TaskRunner, error) {
	if cfg.WorkerBackend == nil {
		return nil, errors.New("runner: worker backend is required")
	}
	if cfg.SupervisorBackend == nil {
		cfg.SupervisorBackend = cfg.WorkerBackend
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.StartIteration <= 0 {
		cfg.StartIteration = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	sup, err := supervisor.New(cfg.SupervisorBackend, cfg.TodoStore, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	return &TaskRunner{
		cfg:        cfg,
		logger:     cfg.Logger,
		worker:     worker.New(cfg.WorkerBackend, cfg.Logger),
		supervisor: sup,
	}, nil
}

// Ledger exposes the run's todo ledger for rendering and inspection.
func (r *TaskRunner) Ledger() *todo.Ledger { return r.supervisor.Ledger() }

// Run executes the loop until the task completes, the iteration bound is
// reached, or ctx is canceled. It always returns a Result; only the
// initialization phase can make the run fail before the first iteration.
func (r *TaskRunner) Run(ctx context.Context, task string) *Result {
	start := time.Now()

	r.logger.Info("run started",
		zap.Int("max_iterations", r.cfg.MaxIterations),
		zap.Int("start_iteration", r.cfg.StartIteration),
		zap.Bool("resuming", r.cfg.ChatID != ""))
	r.status("Starting task: " + firstRunes(task, 100))

	chatID := r.cfg.ChatID
	if chatID == "" {
		r.status("Creating chat session...")
		id, err := r.cfg.WorkerBackend.CreateChat(ctx)
		if err != nil {
			r.logger.Error("chat creation failed", zap.Error(err))
			r.status("Failed to create chat session: " + err.Error())
			return &Result{
				Outcome:    OutcomeInitFailed,
				TotalTimeS: time.Since(start).Seconds(),
				Records:    []Record{},
				Error:      fmt.Sprintf("failed to create chat session: %v", err),
			}
		}
		chatID = id
		r.status("Chat session created: " + chatID)
	} else {
		r.status("Resuming chat session: " + chatID)
	}

	var (
		records []Record
		current []string
		summary string
	)

	interrupted := func() *Result {
		r.status("Run interrupted")
		r.logger.Warn("run interrupted", zap.Int("iterations", len(records)))
		if summary == "" {
			summary = "run interrupted before any verdict"
		}
		return &Result{
			Outcome:      OutcomeInterrupted,
			Iterations:   len(records),
			TotalTimeS:   time.Since(start).Seconds(),
			ChatID:       chatID,
			Records:      records,
			FinalSummary: summary,
			Error:        "run interrupted",
		}
	}

	for n := 0; n < r.cfg.MaxIterations; n++ {
		if ctx.Err() != nil {
			return interrupted()
		}

		iteration := r.cfg.StartIteration + n
		rec := Record{Iteration: iteration, Timestamp: time.Now()}
		r.status(fmt.Sprintf("=== Iteration %d ===", iteration))
		if r.cfg.OnIterationStart != nil {
			r.cfg.OnIterationStart(iteration)
		}

		// Worker phase. The first pass receives any caller-supplied pending
		// items; later passes receive the previous verdict's list.
		pending := current
		if n == 0 {
			pending = r.cfg.InitialPending
		}

		r.status("Worker executing...")
		wout := r.worker.Execute(ctx, task, pending, r.cfg.OnAgentLine)
		rec.Worker = &wout
		if wout.Success {
			r.status("Worker finished")
		} else {
			// The supervisor still judges the state; a failed pass may have
			// made partial progress.
			r.status("Worker failed: " + wout.Error)
		}

		if ctx.Err() != nil {
			records = append(records, rec)
			r.emit(rec)
			return interrupted()
		}

		// Supervisor phase. The context is built from the loop's own list,
		// which starts empty regardless of InitialPending.
		r.status("Supervisor checking completion...")
		contextNote := ""
		if len(current) > 0 {
			contextNote = pendingContext(current)
		}
		v := r.supervisor.CheckCompletion(ctx, task, contextNote, r.cfg.OnAgentLine)
		rec.Supervisor = &v

		records = append(records, rec)
		r.emit(rec)

		summary = v.Summary
		r.status("Check result: " + v.Summary)

		if v.IsComplete {
			r.status("Task complete.")
			r.logger.Info("run completed",
				zap.Int("iterations", n+1),
				zap.Duration("elapsed", time.Since(start)))
			return &Result{
				Success:      true,
				Completed:    true,
				Outcome:      OutcomeCompleted,
				Iterations:   n + 1,
				TotalTimeS:   time.Since(start).Seconds(),
				ChatID:       chatID,
				Records:      records,
				FinalSummary: v.Summary,
			}
		}

		// The verdict's list fully supersedes the previous one; history
		// accumulates in the ledger, not here.
		current = v.PendingItems
		r.status(fmt.Sprintf("Pending items: %d", len(current)))
		for i, item := range current {
			r.status(fmt.Sprintf("  %d. %s", i+1, item))
		}

		if n < r.cfg.MaxIterations-1 && r.cfg.Delay > 0 {
			r.status(fmt.Sprintf("Waiting %s before the next iteration...", r.cfg.Delay))
			select {
			case <-time.After(r.cfg.Delay):
			case <-ctx.Done():
				return interrupted()
			}
		}
	}

	bound := fmt.Sprintf("reached the maximum of %d iterations without completing the task", r.cfg.MaxIterations)
	r.status("Maximum iterations reached; task incomplete")
	r.logger.Warn("run hit iteration bound", zap.Int("max_iterations", r.cfg.MaxIterations))

	return &Result{
		Outcome:      OutcomeMaxIterations,
		Iterations:   r.cfg.MaxIterations,
		TotalTimeS:   time.Since(start).Seconds(),
		ChatID:       chatID,
		Records:      records,
		FinalSummary: bound,
		Error:        "max iterations reached without task completion",
	}
}

// CheckOnly runs a single supervisor check without dispatching the worker or
// creating a chat session.
func (r *TaskRunner) CheckOnly(ctx context.Context, task string) verdict.Verdict {
	return r.supervisor.CheckCompletion(ctx, task, "", r.cfg.OnAgentLine)
}

// StepOnce runs one worker pass followed by one supervisor check, outside the
// bounded loop. The pending list feeds both the worker prompt and the
// supervisor context.
func (r *TaskRunner) StepOnce(ctx context.Context, task string, pending []string) (worker.Outcome, verdict.Verdict) {
	wout := r.worker.Execute(ctx, task, pending, r.cfg.OnAgentLine)

	contextNote := ""
	if len(pending) > 0 {
		contextNote = pendingContext(pending)
	}
	v := r.supervisor.CheckCompletion(ctx, task, contextNote, r.cfg.OnAgentLine)

	return wout, v
}

func (r *TaskRunner) status(msg string) {
	if r.cfg.OnStatus != nil {
		r.cfg.OnStatus(msg)
	}
}

func (r *TaskRunner) emit(rec Record) {
	if r.cfg.OnIteration != nil {
		r.cfg.OnIteration(rec)
	}
}

func pendingContext(items []string) string {
	var b strings.Builder
	b.WriteString("Items still open after the previous round:")
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item)
	}
	return b.String()
}

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
