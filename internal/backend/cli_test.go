package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// shCLI builds a CLIBackend whose "agent" is an inline shell script. The
// script sees the extra argv (create-chat, --resume, the prompt) as $0, $1...
func shCLI(script string, cfg CLIConfig) *CLIBackend {
	cfg.Command = []string{"sh", "-c", script}
	return NewCLI(cfg, nil)
}

func TestCLIInvokeStreamsStdout(t *testing.T) {
	b := shCLI(`printf 'alpha\nbeta\n'`, CLIConfig{Model: "test-model"})

	var lines []string
	resp := b.Invoke(context.Background(), "do the task", func(line string) {
		lines = append(lines, line)
	})

	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
	if resp.Err() != nil {
		t.Errorf("Err() = %v, want nil", resp.Err())
	}
	if resp.Output != "alpha\nbeta" {
		t.Errorf("output = %q, want %q", resp.Output, "alpha\nbeta")
	}
	if len(lines) != 2 || lines[0] != "alpha" || lines[1] != "beta" {
		t.Errorf("streamed lines = %v, want [alpha beta]", lines)
	}
	if resp.Metadata["return_code"] != 0 {
		t.Errorf("return_code = %v, want 0", resp.Metadata["return_code"])
	}
	if resp.Metadata["model"] != "test-model" {
		t.Errorf("model = %v, want test-model", resp.Metadata["model"])
	}
}

func TestCLIInvokeNonZeroExit(t *testing.T) {
	b := shCLI(`echo oops >&2; exit 3`, CLIConfig{})

	resp := b.Invoke(context.Background(), "task", nil)

	if resp.Success {
		t.Fatal("expected failure for exit 3")
	}
	if resp.Error != "oops" {
		t.Errorf("error = %q, want %q", resp.Error, "oops")
	}
	if resp.Metadata["return_code"] != 3 {
		t.Errorf("return_code = %v, want 3", resp.Metadata["return_code"])
	}
	if !errors.Is(resp.Err(), ErrExecution) {
		t.Errorf("Err() = %v, want ErrExecution", resp.Err())
	}
}

func TestCLIInvokeStderrWithZeroExit(t *testing.T) {
	// Agents may write warnings to stderr and still exit cleanly.
	b := shCLI(`echo fine; echo warning >&2`, CLIConfig{})

	resp := b.Invoke(context.Background(), "task", nil)

	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
	if resp.Output != "fine" {
		t.Errorf("output = %q, want %q", resp.Output, "fine")
	}
	if resp.Error != "warning" {
		t.Errorf("error = %q, want %q", resp.Error, "warning")
	}
	if resp.Err() != nil {
		t.Errorf("Err() = %v, want nil for a successful response", resp.Err())
	}
}

func TestCLIInvokeCommandNotFound(t *testing.T) {
	b := NewCLI(CLIConfig{Command: []string{"aiaim-no-such-binary"}}, nil)

	resp := b.Invoke(context.Background(), "task", nil)

	if resp.Success {
		t.Fatal("expected failure for a missing command")
	}
	if !strings.Contains(resp.Error, "not found") {
		t.Errorf("error = %q, want it to mention the missing command", resp.Error)
	}
	if !errors.Is(resp.Err(), ErrUnavailable) {
		t.Errorf("Err() = %v, want ErrUnavailable", resp.Err())
	}
}

func TestCLIInvokeNoCommand(t *testing.T) {
	b := NewCLI(CLIConfig{}, nil)

	resp := b.Invoke(context.Background(), "task", nil)
	if resp.Success || !errors.Is(resp.Err(), ErrUnavailable) {
		t.Fatalf("expected unavailable response, got %+v", resp)
	}
}

func TestCLIInvokeTimeout(t *testing.T) {
	b := shCLI(`echo started; exec sleep 5`, CLIConfig{Timeout: 200 * time.Millisecond})

	var lines []string
	resp := b.Invoke(context.Background(), "task", func(line string) {
		lines = append(lines, line)
	})

	if resp.Success {
		t.Fatal("expected failure on timeout")
	}
	if !errors.Is(resp.Err(), ErrTimeout) {
		t.Errorf("Err() = %v, want ErrTimeout", resp.Err())
	}
	// Partial output is discarded on timeout even though it was streamed.
	if resp.Output != "" {
		t.Errorf("output = %q, want empty", resp.Output)
	}
	if len(lines) != 1 || lines[0] != "started" {
		t.Errorf("streamed lines = %v, want [started]", lines)
	}
}

func TestCLIInvokeContextCanceled(t *testing.T) {
	b := shCLI(`exec sleep 5`, CLIConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	resp := b.Invoke(ctx, "task", nil)
	if resp.Success {
		t.Fatal("expected failure on cancellation")
	}
	if !strings.Contains(resp.Error, "canceled") {
		t.Errorf("error = %q, want it to mention cancellation", resp.Error)
	}
}

func TestCLIInvokeResumeArgs(t *testing.T) {
	b := NewCLI(CLIConfig{
		Command: []string{"sh", "-c", `echo "$0 $1 $2"`},
		ChatID:  "chat-7",
	}, nil)

	resp := b.Invoke(context.Background(), "build it", nil)
	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
	if resp.Output != "--resume chat-7 build it" {
		t.Errorf("argv seen by agent = %q, want %q", resp.Output, "--resume chat-7 build it")
	}
}

func TestCLICreateChat(t *testing.T) {
	b := shCLI(`test "$0" = create-chat && echo chat-42`, CLIConfig{})

	id, err := b.CreateChat(context.Background())
	if err != nil {
		t.Fatalf("CreateChat() error: %v", err)
	}
	if id != "chat-42" {
		t.Errorf("chat id = %q, want chat-42", id)
	}
	if b.ChatID() != "chat-42" {
		t.Errorf("ChatID() = %q, want chat-42", b.ChatID())
	}
}

func TestCLICreateChatFailure(t *testing.T) {
	b := shCLI(`echo broken >&2; exit 1`, CLIConfig{})

	_, err := b.CreateChat(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error = %q, want it to carry the agent's stderr", err)
	}
}

func TestCLICreateChatEmptyOutput(t *testing.T) {
	b := shCLI(`true`, CLIConfig{})

	_, err := b.CreateChat(context.Background())
	if !errors.Is(err, ErrUnavailable) || !strings.Contains(err.Error(), "no chat id") {
		t.Fatalf("error = %v, want a no-chat-id unavailable error", err)
	}
}

func TestCLICreateChatCommandNotFound(t *testing.T) {
	b := NewCLI(CLIConfig{Command: []string{"aiaim-no-such-binary"}}, nil)

	_, err := b.CreateChat(context.Background())
	if !errors.Is(err, ErrUnavailable) || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("error = %v, want a not-found unavailable error", err)
	}
}

func TestCLICreateChatTimeout(t *testing.T) {
	b := shCLI(`exec sleep 5`, CLIConfig{CreateTimeout: 200 * time.Millisecond})

	_, err := b.CreateChat(context.Background())
	if !errors.Is(err, ErrUnavailable) || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("error = %v, want a timeout unavailable error", err)
	}
}
