package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veictry/aiaim/internal/backend"
	"github.com/veictry/aiaim/internal/config"
	"github.com/veictry/aiaim/internal/logging"
	"github.com/veictry/aiaim/internal/session"
)

// app carries the state every command needs: the effective configuration,
// the session store rooted at the workspace, and the identity of the shell
// the command runs in.
type app struct {
	cfg       *config.Config
	cfgPath   string
	workspace string
	logger    *zap.Logger
	store     *session.Store
	shellID   string
	stdout    io.Writer
	quiet     bool
}

// newApp resolves configuration and opens the session store. The workspace
// root is the directory holding the config file when one exists, otherwise
// the current directory.
func newApp(cmd *cobra.Command) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath, err = config.FindInTree(cwd)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, cfg)

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	workspace := cwd
	if cfgPath != "" {
		workspace = filepath.Dir(cfgPath)
	}

	store, err := session.Open(workspace)
	if err != nil {
		return nil, err
	}

	quiet, _ := cmd.Flags().GetBool("quiet")

	return &app{
		cfg:       cfg,
		cfgPath:   cfgPath,
		workspace: workspace,
		logger:    logger,
		store:     store,
		shellID:   session.ShellID(),
		stdout:    cmd.OutOrStdout(),
		quiet:     quiet,
	}, nil
}

// applyFlagOverrides folds explicitly set command-line flags over the loaded
// configuration. Only flags the user actually passed win over the file.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Lookup("backend") != nil && flags.Changed("backend") {
		cfg.Backend.Kind, _ = flags.GetString("backend")
	}
	if flags.Lookup("model") != nil && flags.Changed("model") {
		cfg.Backend.Model, _ = flags.GetString("model")
	}
	if flags.Lookup("max-iterations") != nil && flags.Changed("max-iterations") {
		cfg.Loop.MaxIterations, _ = flags.GetInt("max-iterations")
	}
	if flags.Lookup("delay") != nil && flags.Changed("delay") {
		cfg.Loop.DelayS, _ = flags.GetFloat64("delay")
	}

	// Quiet wins when both are given.
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	if quiet, _ := flags.GetBool("quiet"); quiet {
		cfg.Log.Level = "error"
	}
}

// println writes a console line unless quiet mode is on.
func (a *app) println(s string) {
	if a.quiet {
		return
	}
	fmt.Fprintln(a.stdout, s)
}

// printAlways writes a console line regardless of quiet mode.
func (a *app) printAlways(s string) {
	fmt.Fprintln(a.stdout, s)
}

// backends builds the worker and supervisor execution backends from the
// configuration. The worker resumes chatID when it is non-empty; the
// supervisor always runs session-less so its judgment is not colored by the
// worker's conversation history.
func (a *app) backends(chatID string) (worker, supervisor backend.Backend, err error) {
	switch a.cfg.Backend.Kind {
	case config.BackendCursorCLI, config.BackendMock:
		command := a.cfg.Backend.Command
		if a.cfg.Backend.Kind == config.BackendMock {
			// The bundled stand-in agent, resolved via PATH.
			command = []string{"mockagent"}
		}
		worker = backend.NewCLI(backend.CLIConfig{
			Command:       command,
			Model:         a.cfg.Backend.Model,
			ChatID:        chatID,
			WorkDir:       a.workspace,
			Timeout:       a.cfg.Backend.Timeout(),
			CreateTimeout: a.cfg.Backend.CreateTimeout(),
		}, a.logger.Named("worker"))
		supervisor = backend.NewCLI(backend.CLIConfig{
			Command:       command,
			Model:         a.cfg.Backend.Model,
			WorkDir:       a.workspace,
			Timeout:       a.cfg.Backend.Timeout(),
			CreateTimeout: a.cfg.Backend.CreateTimeout(),
		}, a.logger.Named("supervisor"))
		return worker, supervisor, nil

	case config.BackendModelAPI:
		mc := backend.ModelConfig{
			BaseURL: a.cfg.Backend.BaseURL,
			Model:   a.cfg.Backend.Model,
			Token:   os.Getenv(a.cfg.Backend.APIKeyEnv),
			Timeout: a.cfg.Backend.Timeout(),
		}
		worker, err = backend.NewModel(mc, a.logger.Named("worker"))
		if err != nil {
			return nil, nil, err
		}
		supervisor, err = backend.NewModel(mc, a.logger.Named("supervisor"))
		if err != nil {
			return nil, nil, err
		}
		return worker, supervisor, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend kind %q", a.cfg.Backend.Kind)
	}
}

// taskFromSession reads the stored task of a session, without the markdown
// header task files carry.
func (a *app) taskFromSession(sessionID string) (string, error) {
	raw, err := a.store.ReadTask(sessionID)
	if err != nil {
		return "", err
	}
	task := strings.TrimPrefix(raw, "# Task\n\n")
	return strings.TrimRight(task, "\n"), nil
}

// resolveSession picks the session a command should act on: an explicitly
// named one, else the session locked to this shell, else the shell's last
// used session. Returns the empty string when nothing matches.
func (a *app) resolveSession(explicit string) (string, error) {
	if explicit != "" {
		if _, err := a.store.Get(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	locked, err := a.store.LockedSessionID(a.shellID)
	if err != nil {
		return "", err
	}
	if locked != "" {
		return locked, nil
	}

	return a.store.LastSessionID(a.shellID)
}
