package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veictry/aiaim/internal/runner"
	"github.com/veictry/aiaim/internal/session"
	"github.com/veictry/aiaim/internal/todo"
	"github.com/veictry/aiaim/internal/verdict"
	"github.com/veictry/aiaim/internal/worker"
)

// placeholderPrompt marks sessions created before any task was given.
const placeholderPrompt = "(session created, awaiting task)"

// runOptions parameterizes one task run.
type runOptions struct {
	// task is the text the worker iterates on.
	task string
	// sessionID names a pre-resolved session. Empty means resolve one from
	// explicitSession, the shell lock, or create a fresh session.
	sessionID string
	// explicitSession is the --session flag value in run mode. Naming a
	// session releases any shell lock so the explicit choice wins.
	explicitSession string
	// chatID overrides the session's stored chat id.
	chatID string
	// maxIterations overrides the configured bound when positive.
	maxIterations int
	// startIteration numbers the first pass when positive. Zero means
	// continue the session's own numbering.
	startIteration int
	// initialPending seeds the first worker pass of a continued run.
	initialPending []string
	// outputPath receives the result as JSON when non-empty.
	outputPath string
}

// runTask resolves the session, wires the sinks and drives the loop.
func runTask(ctx context.Context, a *app, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, created, err := a.sessionForRun(opts)
	if err != nil {
		return err
	}
	if err := a.store.SetLastSession(a.shellID, info.ID); err != nil {
		return err
	}

	chatID := opts.chatID
	if chatID == "" {
		chatID = info.ChatID
	}

	maxIterations := opts.maxIterations
	if maxIterations <= 0 {
		maxIterations = a.cfg.Loop.MaxIterations
	}

	startIteration := opts.startIteration
	if startIteration <= 0 && !created {
		// Reusing a session keeps its iteration numbering monotonic.
		next, _, err := session.ContinueState(a.store.RecordsPath(info.ID), a.logger)
		if err != nil {
			return err
		}
		startIteration = next
	}

	a.println(taskPanel(opts.task, info.ID))
	a.println(settingsLine(a.cfg.Backend.Kind, a.cfg.Backend.Model, maxIterations, a.cfg.Loop.DelayS))

	workerBE, supervisorBE, err := a.backends(chatID)
	if err != nil {
		return err
	}

	recordLog, err := session.OpenRecordLog(a.store.RecordsPath(info.ID), a.logger)
	if err != nil {
		return err
	}
	defer recordLog.Close()

	var tw *session.TranscriptWriter
	closeTranscript := func() {
		if tw != nil {
			if err := tw.Close(); err != nil {
				a.logger.Warn("failed to close transcript", zap.Error(err))
			}
			tw = nil
		}
	}
	defer closeTranscript()

	r, err := runner.New(runner.Config{
		WorkerBackend:     workerBE,
		SupervisorBackend: supervisorBE,
		TodoStore:         todo.NewFileStore(a.store.TodoPath(info.ID)),
		MaxIterations:     maxIterations,
		Delay:             a.cfg.Loop.Delay(),
		ChatID:            chatID,
		StartIteration:    startIteration,
		InitialPending:    opts.initialPending,
		Logger:            a.logger,
		OnStatus: func(line string) {
			a.println(statusLine(line))
		},
		OnIterationStart: func(n int) {
			closeTranscript()
			w, err := a.store.NewTranscript(info.ID, n)
			if err != nil {
				a.logger.Warn("failed to open transcript", zap.Int("iteration", n), zap.Error(err))
				return
			}
			tw = w
		},
		OnAgentLine: func(line string) {
			if tw != nil {
				_ = tw.Write(line + "\n")
			}
		},
		OnIteration: func(rec runner.Record) {
			if tw != nil {
				if rec.Worker != nil {
					_ = tw.WriteSection("Worker Result", workerSection(rec.Worker))
				}
				if rec.Supervisor != nil {
					_ = tw.WriteSection("Check Result", verdictSection(rec.Supervisor))
				}
				closeTranscript()
			}
			if err := recordLog.Append(rec); err != nil {
				a.logger.Warn("failed to append record", zap.Int("iteration", rec.Iteration), zap.Error(err))
			}
		},
	})
	if err != nil {
		return err
	}

	res := r.Run(ctx, opts.task)
	closeTranscript()

	if res.ChatID != "" && info.ChatID == "" {
		if err := a.store.BindChatID(info.ID, res.ChatID); err != nil {
			a.logger.Warn("failed to bind chat id", zap.Error(err))
		}
	}

	a.println(resultPanel(res))

	if opts.outputPath != "" {
		if err := writeResultFile(opts.outputPath, res); err != nil {
			return err
		}
	}

	switch res.Outcome {
	case runner.OutcomeCompleted:
		return nil
	case runner.OutcomeInterrupted:
		return errInterrupted
	case runner.OutcomeInitFailed:
		return &exitCodeError{code: 1, msg: res.Error}
	default:
		return errTaskIncomplete
	}
}

// sessionForRun picks the session a task runs in. An explicitly named session
// wins and releases the shell lock; otherwise a locked session is reused;
// otherwise a fresh session is created for the task.
func (a *app) sessionForRun(opts runOptions) (info *session.Info, created bool, err error) {
	if opts.sessionID != "" {
		info, err = a.store.Get(opts.sessionID)
		return info, false, err
	}

	if opts.explicitSession != "" {
		info, err = a.store.Get(opts.explicitSession)
		if err != nil {
			return nil, false, err
		}
		if _, err := a.store.Unlock(a.shellID); err != nil {
			return nil, false, err
		}
		return info, false, nil
	}

	locked, err := a.store.LockedSessionID(a.shellID)
	if err != nil {
		return nil, false, err
	}
	if locked != "" {
		info, err = a.store.Get(locked)
		return info, false, err
	}

	info, err = a.store.Create(opts.task, opts.chatID)
	return info, true, err
}

// runContinue resumes a previous session for a bounded number of further
// iterations, seeding the first pass with the items its last verdict left
// open.
func runContinue(cmd *cobra.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	n, _ := flags.GetInt("continue")
	explicit, _ := flags.GetString("resume")
	if explicit == "" {
		explicit, _ = flags.GetString("session")
	}

	sessionID, err := a.resolveSession(explicit)
	if err != nil {
		return err
	}
	if sessionID == "" {
		// No history for this shell: fall back to the workspace's newest
		// session.
		infos, err := a.store.List(1, 0)
		if err != nil {
			return err
		}
		if len(infos) > 0 {
			sessionID = infos[0].ID
		}
	}
	if sessionID == "" {
		return errors.New("no session to continue; start a task first")
	}

	task, err := a.taskFromSession(sessionID)
	if err != nil {
		return err
	}
	if task == "" || task == placeholderPrompt {
		return fmt.Errorf("session %s has no task to continue", sessionID)
	}

	// The run below uses whatever task.md holds now, so a hand edit is
	// worth flagging but not fatal.
	drift, err := a.store.TaskDrift(sessionID)
	if err != nil {
		a.logger.Warn("failed to check task drift", zap.String("session", sessionID), zap.Error(err))
	} else if drift {
		a.println(warnStyle.Render("Warning: task.md changed since this session was created; continuing with the edited task."))
	}

	next, pending, err := session.ContinueState(a.store.RecordsPath(sessionID), a.logger)
	if err != nil {
		return err
	}

	chatID, _ := flags.GetString("chat-id")
	outputPath, _ := flags.GetString("output")

	return runTask(cmd.Context(), a, runOptions{
		task:           task,
		sessionID:      sessionID,
		chatID:         chatID,
		maxIterations:  n,
		startIteration: next,
		initialPending: pending,
		outputPath:     outputPath,
	})
}

// runSwitchSession points the shell at an existing session and locks it, so
// later tasks in this shell land there until the lock is released.
func runSwitchSession(cmd *cobra.Command, sessionID string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	info, err := a.store.Get(sessionID)
	if err != nil {
		return err
	}
	if err := a.store.SetLastSession(a.shellID, info.ID); err != nil {
		return err
	}
	if err := a.store.Lock(a.shellID, info.ID); err != nil {
		return err
	}

	a.println(successStyle.Render("Switched to session "+info.ID) +
		"\n" + dimStyle.Render(truncate(strings.ReplaceAll(info.InitialPrompt, "\n", " "), 100)) +
		"\n" + dimStyle.Render("This shell is locked to the session; run 'aiaim unlock' to release it."))
	return nil
}

// runBindChat attaches an agent chat id to the shell's current session,
// creating a placeholder session when the shell has none.
func runBindChat(cmd *cobra.Command, chatID string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	sessionID, err := a.resolveSession("")
	if err != nil {
		return err
	}

	if sessionID == "" {
		info, err := a.store.Create(placeholderPrompt, chatID)
		if err != nil {
			return err
		}
		if err := a.store.SetLastSession(a.shellID, info.ID); err != nil {
			return err
		}
		a.println(successStyle.Render("Created session " + info.ID + " with chat " + chatID))
		return nil
	}

	if err := a.store.BindChatID(sessionID, chatID); err != nil {
		return err
	}
	a.println(successStyle.Render("Bound chat " + chatID + " to session " + sessionID))
	return nil
}

// workerSection formats a worker outcome for the iteration transcript.
func workerSection(o *worker.Outcome) string {
	if o.Success {
		return strings.TrimRight(o.Output, "\n")
	}
	s := "FAILED: " + o.Error
	if o.Output != "" {
		s += "\n\n" + strings.TrimRight(o.Output, "\n")
	}
	return s
}

// verdictSection formats a supervisor verdict for the iteration transcript.
func verdictSection(v *verdict.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\ncomplete: %t\n", v.Status, v.IsComplete)
	if len(v.NewlyCompleted) > 0 {
		b.WriteString("\nCompleted this pass:\n")
		for _, item := range v.NewlyCompleted {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	if len(v.PendingItems) > 0 {
		b.WriteString("\nPending:\n")
		for _, item := range v.PendingItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	if v.Summary != "" {
		fmt.Fprintf(&b, "\n%s", v.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// writeResultFile persists the run result as indented JSON.
func writeResultFile(path string, res *runner.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return nil
}
