package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/veictry/aiaim/internal/runner"
	"github.com/veictry/aiaim/internal/todo"
)

var checkCmd = &cobra.Command{
	Use:   "check [task]",
	Short: "Ask the supervisor whether a task is complete, without working on it",
	Long: `check runs a single supervisor pass and reports its verdict. With a task
argument the check stands alone; without one it judges the shell's current
session against its stored task and ledger. No worker pass runs and no agent
chat is created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringP("session", "s", "", "Session to check (default: the shell's current session)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	explicit, _ := cmd.Flags().GetString("session")

	var (
		task      string
		todoStore todo.Store
	)
	if len(args) == 1 {
		task = args[0]
	}

	// A bare check targets the shell's session; an inline task stands alone
	// unless a session is named explicitly.
	if task == "" || explicit != "" {
		sessionID, err := a.resolveSession(explicit)
		if err != nil {
			return err
		}
		if sessionID == "" {
			return errors.New("no session to check; pass a task or start one first")
		}
		if task == "" {
			task, err = a.taskFromSession(sessionID)
			if err != nil {
				return err
			}
			if task == "" || task == placeholderPrompt {
				return errors.New("session " + sessionID + " has no task to check")
			}
		}
		todoStore = todo.NewFileStore(a.store.TodoPath(sessionID))
	}

	workerBE, supervisorBE, err := a.backends("")
	if err != nil {
		return err
	}

	r, err := runner.New(runner.Config{
		WorkerBackend:     workerBE,
		SupervisorBackend: supervisorBE,
		TodoStore:         todoStore,
		Logger:            a.logger,
	})
	if err != nil {
		return err
	}

	v := r.CheckOnly(cmd.Context(), task)
	a.println(verdictView(v))

	if !v.IsComplete {
		return errTaskIncomplete
	}
	return nil
}
