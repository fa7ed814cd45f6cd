package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veictry/aiaim/internal/session"
	"github.com/veictry/aiaim/internal/todo"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [query]",
	Short: "List the workspace's sessions",
	Long: `sessions lists the workspace's sessions newest first. A query argument
filters by task text or session id. The shell's last session is marked with
'>' and a locked session with '*'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "Maximum number of sessions to show")
	sessionsCmd.Flags().Bool("stats", false, "Show aggregate statistics instead of the list")
	sessionsCmd.Flags().Bool("prune", false, "Drop shell bindings whose shells are gone")

	sessionsCmd.AddCommand(sessionsShowCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if prune, _ := flags.GetBool("prune"); prune {
		n, err := a.store.PruneShells(session.AliveShell)
		if err != nil {
			return err
		}
		a.printAlways(dimStyle.Render(fmt.Sprintf("pruned %d stale shell bindings", n)))
		return nil
	}

	if stats, _ := flags.GetBool("stats"); stats {
		st, err := a.store.Stats()
		if err != nil {
			return err
		}
		a.printAlways(statsView(st))
		return nil
	}

	limit, _ := flags.GetInt("limit")

	var infos []session.Info
	if len(args) == 1 {
		infos, err = a.store.Search(args[0], limit)
	} else {
		infos, err = a.store.List(limit, 0)
	}
	if err != nil {
		return err
	}

	lastID, err := a.store.LastSessionID(a.shellID)
	if err != nil {
		return err
	}
	lockedID, err := a.store.LockedSessionID(a.shellID)
	if err != nil {
		return err
	}

	a.printAlways(sessionTable(infos, lastID, lockedID))
	return nil
}

// runSessionsShow renders one session's full state: index entry, task text,
// todo ledger and whether the task file was edited since creation.
func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	info, err := a.store.Get(args[0])
	if err != nil {
		return err
	}

	task, err := a.taskFromSession(info.ID)
	if err != nil {
		a.logger.Warn("failed to read task file", zap.String("session", info.ID), zap.Error(err))
	}

	ledger, err := todo.NewFileStore(a.store.TodoPath(info.ID)).Load()
	if err != nil {
		return err
	}

	drifted, err := a.store.TaskDrift(info.ID)
	if err != nil {
		a.logger.Warn("failed to check task drift", zap.String("session", info.ID), zap.Error(err))
	}

	a.printAlways(sessionDetail(info, task, ledger, drifted))
	return nil
}
