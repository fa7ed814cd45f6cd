package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultCreateTimeout = 30 * time.Second

// CLIConfig configures a CLIBackend.
type CLIConfig struct {
	// Command is the argv prefix of the agent CLI, e.g. ["cursor-cli"].
	Command []string

	// Model is recorded in response metadata. The CLI itself is expected to
	// carry its own model configuration.
	Model string

	// ChatID resumes an existing conversation. Leave empty and call
	// CreateChat to start a fresh one.
	ChatID string

	// WorkDir is the working directory for the spawned process. Empty means
	// inherit the current directory.
	WorkDir string

	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration

	// CreateTimeout bounds chat creation. Zero means 30 seconds.
	CreateTimeout time.Duration
}

// CLIBackend executes prompts by spawning an agent CLI process per invocation.
// The prompt is passed as the final argument; when a chat id is known the
// conversation is resumed with "--resume <id>". Stdout is streamed line by
// line, stderr is collected into the response error.
type CLIBackend struct {
	cfg    CLIConfig
	chatID string
	logger *zap.Logger
}

// NewCLI builds a CLIBackend. logger may be nil.
func NewCLI(cfg CLIConfig, logger *zap.Logger) *CLIBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = defaultCreateTimeout
	}
	return &CLIBackend{cfg: cfg, chatID: cfg.ChatID, logger: logger}
}

// ChatID returns the conversation id the backend resumes, if any.
func (b *CLIBackend) ChatID() string { return b.chatID }

// CreateChat runs "<command> create-chat" and returns the trimmed stdout as
// the new conversation id. Subsequent Invoke calls resume that conversation.
func (b *CLIBackend) CreateChat(ctx context.Context) (string, error) {
	if len(b.cfg.Command) == 0 {
		return "", fmt.Errorf("%w: no command configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.CreateTimeout)
	defer cancel()

	argv := append(append([]string{}, b.cfg.Command...), "create-chat")
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = b.cfg.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger.Debug("creating chat", zap.Strings("argv", argv))

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: create-chat timed out after %s", ErrUnavailable, b.cfg.CreateTimeout)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: command not found: %s (ensure it is installed and in PATH)", ErrUnavailable, argv[0])
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("%w: create-chat failed: %s", ErrUnavailable, detail)
	}

	id := strings.TrimSpace(stdout.String())
	if id == "" {
		return "", fmt.Errorf("%w: create-chat returned no chat id", ErrUnavailable)
	}

	b.chatID = id
	b.logger.Info("chat created", zap.String("chat_id", id))
	return id, nil
}

// Invoke spawns the agent CLI with the prompt and waits for it to exit.
// Failures of any kind come back inside the Response.
func (b *CLIBackend) Invoke(ctx context.Context, prompt string, onLine func(string)) *Response {
	if len(b.cfg.Command) == 0 {
		return unavailableResponse("no command configured", nil)
	}

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	argv := append([]string{}, b.cfg.Command...)
	if b.chatID != "" {
		argv = append(argv, "--resume", b.chatID)
	}
	argv = append(argv, prompt)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = b.cfg.WorkDir
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return executionResponse(fmt.Sprintf("failed to create stdout pipe: %v", err), b.metadata(-1))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return executionResponse(fmt.Sprintf("failed to create stderr pipe: %v", err), b.metadata(-1))
	}

	b.logger.Debug("invoking agent",
		zap.String("command", b.cfg.Command[0]),
		zap.String("chat_id", b.chatID),
		zap.Int("prompt_bytes", len(prompt)))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return unavailableResponse(
				fmt.Sprintf("command not found: %s (ensure it is installed and in PATH)", b.cfg.Command[0]),
				map[string]any{"command": b.cfg.Command[0]})
		}
		return executionResponse(err.Error(), b.metadata(-1))
	}

	var out, errOut strings.Builder
	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 4096), 1024*1024) // 1MB max line length
		for scanner.Scan() {
			line := scanner.Text()
			out.WriteString(line)
			out.WriteByte('\n')
			if onLine != nil {
				onLine(line)
			}
		}
		return scanner.Err()
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 4096), 1024*1024)
		for scanner.Scan() {
			errOut.WriteString(scanner.Text())
			errOut.WriteByte('\n')
		}
		return scanner.Err()
	})

	readErr := g.Wait()
	if readErr != nil {
		// Drain so Wait cannot block on a full pipe.
		io.Copy(io.Discard, stdout)
		io.Copy(io.Discard, stderr)
	}
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if waitErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			b.logger.Warn("agent timed out", zap.Duration("timeout", b.cfg.Timeout), zap.String("chat_id", b.chatID))
			return timeoutResponse(
				fmt.Sprintf("command timed out after %s", b.cfg.Timeout),
				map[string]any{"timeout_s": b.cfg.Timeout.Seconds(), "chat_id": b.chatID})
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return executionResponse("command canceled", b.metadata(cmd.ProcessState.ExitCode()))
		}
	}

	exitCode := cmd.ProcessState.ExitCode()
	success := waitErr == nil
	errText := strings.TrimSpace(errOut.String())
	if !success && errText == "" {
		errText = waitErr.Error()
	}
	if success && readErr != nil {
		success = false
		errText = fmt.Sprintf("failed to read agent output: %v", readErr)
	}

	b.logger.Debug("agent finished",
		zap.Int("return_code", exitCode),
		zap.Bool("success", success),
		zap.Duration("elapsed", elapsed))

	return &Response{
		Success:  success,
		Output:   strings.TrimSpace(out.String()),
		Error:    errText,
		Metadata: b.metadata(exitCode),
	}
}

func (b *CLIBackend) metadata(exitCode int) map[string]any {
	return map[string]any{
		"return_code": exitCode,
		"model":       b.cfg.Model,
		"command":     b.cfg.Command[0],
		"chat_id":     b.chatID,
	}
}
