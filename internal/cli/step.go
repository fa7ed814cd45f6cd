package cli

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veictry/aiaim/internal/runner"
	"github.com/veictry/aiaim/internal/session"
	"github.com/veictry/aiaim/internal/todo"
)

var stepCmd = &cobra.Command{
	Use:   "step [task]",
	Short: "Run a single worker and supervisor pass",
	Long: `step advances a session by exactly one iteration: one worker pass on the
items the last verdict left open, then one supervisor check. A task argument
overrides the session's stored task for this pass, and starts a fresh session
when the shell has none. The iteration is recorded like a full run, so a
later continue picks up where the step left off.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStep,
}

func init() {
	stepCmd.Flags().StringP("session", "s", "", "Session to step (default: the shell's current session)")
	stepCmd.Flags().StringArrayP("pending", "p", nil, "Seed the worker pass with this pending item (repeatable)")
}

func runStep(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	task := ""
	if len(args) == 1 {
		task = args[0]
	}

	explicit, _ := cmd.Flags().GetString("session")
	sessionID, err := a.resolveSession(explicit)
	if err != nil {
		return err
	}

	var info *session.Info
	switch {
	case sessionID != "":
		info, err = a.store.Get(sessionID)
		if err != nil {
			return err
		}
	case task != "":
		info, err = a.store.Create(task, "")
		if err != nil {
			return err
		}
		sessionID = info.ID
		if err := a.store.SetLastSession(a.shellID, sessionID); err != nil {
			return err
		}
	default:
		return errors.New("no session to step; pass a task or start one first")
	}

	if task == "" {
		task, err = a.taskFromSession(sessionID)
		if err != nil {
			return err
		}
		if task == "" || task == placeholderPrompt {
			return errors.New("session " + sessionID + " has no task to step")
		}
	}

	iteration, pending, err := session.ContinueState(a.store.RecordsPath(sessionID), a.logger)
	if err != nil {
		return err
	}
	if seeded, _ := cmd.Flags().GetStringArray("pending"); len(seeded) > 0 {
		pending = seeded
	}

	workerBE, supervisorBE, err := a.backends(info.ChatID)
	if err != nil {
		return err
	}

	tw, err := a.store.NewTranscript(sessionID, iteration)
	if err != nil {
		a.logger.Warn("failed to open transcript", zap.Int("iteration", iteration), zap.Error(err))
	}

	r, err := runner.New(runner.Config{
		WorkerBackend:     workerBE,
		SupervisorBackend: supervisorBE,
		TodoStore:         todo.NewFileStore(a.store.TodoPath(sessionID)),
		ChatID:            info.ChatID,
		Logger:            a.logger,
		OnAgentLine: func(line string) {
			if tw != nil {
				_ = tw.Write(line + "\n")
			}
		},
	})
	if err != nil {
		return err
	}

	a.println(headingStyle.Render("=== Iteration " + strconv.Itoa(iteration) + " ==="))
	wout, v := r.StepOnce(cmd.Context(), task, pending)

	rec := runner.Record{Iteration: iteration, Timestamp: time.Now(), Worker: &wout, Supervisor: &v}
	if tw != nil {
		_ = tw.WriteSection("Worker Result", workerSection(&wout))
		_ = tw.WriteSection("Check Result", verdictSection(&v))
		if err := tw.Close(); err != nil {
			a.logger.Warn("failed to close transcript", zap.Error(err))
		}
	}

	recordLog, err := session.OpenRecordLog(a.store.RecordsPath(sessionID), a.logger)
	if err != nil {
		return err
	}
	if err := recordLog.Append(rec); err != nil {
		a.logger.Warn("failed to append record", zap.Error(err))
	}
	if err := recordLog.Close(); err != nil {
		a.logger.Warn("failed to close record log", zap.Error(err))
	}

	if wout.Success {
		a.println(dimStyle.Render("Worker finished"))
	} else {
		a.println(errorStyle.Render("Worker failed: " + wout.Error))
	}
	a.println(verdictView(v))

	if !v.IsComplete {
		return errTaskIncomplete
	}
	return nil
}
