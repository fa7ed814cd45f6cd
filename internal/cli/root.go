// Package cli implements the aiaim command line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitCodeError carries a process exit code for outcomes that were already
// rendered to the console, so Execute does not print them a second time.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

var (
	errTaskIncomplete = &exitCodeError{code: 1, msg: "task incomplete"}
	errInterrupted    = &exitCodeError{code: 130, msg: "run interrupted"}
)

var rootCmd = &cobra.Command{
	Use:   "aiaim [task]",
	Short: "Drive an AI agent through a propose, judge and revise loop",
	Long: `aiaim hands a task to an AI agent and keeps iterating on it: after each
working pass a supervisor pass judges whether the task is complete, and the
open items it reports feed the next working pass. The loop ends when the
supervisor judges the task complete or the iteration bound is reached.

Running 'aiaim "<task>"' starts a fresh session in the current workspace.
Sessions persist under .aiaim/ and can be continued, resumed and inspected.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to aiaim.yaml (default: search up the directory tree)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress console output and log only errors")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log debug detail to stderr")

	flags := rootCmd.Flags()
	flags.StringP("file", "f", "", "Read the task from a file instead of the argument")
	flags.Int("continue", 0, "Continue the shell's session for N more iterations (use --continue=N, bare --continue means 10)")
	flags.Lookup("continue").NoOptDefVal = "10"
	flags.StringP("resume", "r", "", "Session id to act on in continue mode")
	flags.StringP("session", "s", "", "Run in an existing session, or switch the shell to it when no task is given")
	flags.String("chat-id", "", "Agent chat id to resume, or bind to the current session when no task is given")
	flags.StringP("backend", "b", "", "Backend override: cursor-cli, model-api or mock")
	flags.StringP("model", "m", "", "Model override for the backend")
	flags.IntP("max-iterations", "n", 0, "Iteration bound override")
	flags.Float64P("delay", "d", 0, "Seconds to wait between iterations")
	flags.StringP("output", "o", "", "Write the run result as JSON to this file")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(createChatCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(releaseCmd)
}

// runRoot dispatches the top-level invocation modes: switching the shell's
// session, binding a chat id, continuing a previous run, or starting a task.
func runRoot(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	task := ""
	if len(args) == 1 {
		task = args[0]
	}
	filePath, _ := flags.GetString("file")
	sessionID, _ := flags.GetString("session")
	chatID, _ := flags.GetString("chat-id")
	continuing := flags.Changed("continue")

	noTask := task == "" && filePath == ""

	switch {
	case noTask && !continuing && sessionID != "":
		return runSwitchSession(cmd, sessionID)

	case noTask && !continuing && chatID != "":
		return runBindChat(cmd, chatID)

	case continuing:
		return runContinue(cmd)

	case !noTask:
		if task != "" && filePath != "" {
			return errors.New("provide a task argument or --file, not both")
		}
		if filePath != "" {
			content, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("failed to read task file: %w", err)
			}
			task = string(content)
		}

		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		outputPath, _ := flags.GetString("output")
		return runTask(cmd.Context(), app, runOptions{
			task:            task,
			explicitSession: sessionID,
			chatID:          chatID,
			outputPath:      outputPath,
		})

	default:
		return cmd.Help()
	}
}

// Execute runs the CLI and returns the process exit code: 0 when the task
// completed, 1 when it did not, 130 when the run was interrupted.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}

	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
	return 1
}
