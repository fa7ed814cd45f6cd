package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// ModelConfig configures a ModelBackend.
type ModelConfig struct {
	// BaseURL of an OpenAI-compatible completions endpoint.
	BaseURL string

	// Model names the model to invoke.
	Model string

	// Token authenticates against the endpoint. Local servers that skip auth
	// still need a non-empty value because the client refuses to start
	// without one.
	Token string

	// Timeout bounds a single call. Zero means no limit.
	Timeout time.Duration
}

// ModelBackend executes prompts as single-shot completions against an
// OpenAI-compatible API. There is no server-side conversation state, so each
// invocation stands alone and CreateChat fabricates a local id.
type ModelBackend struct {
	llm    *openai.LLM
	cfg    ModelConfig
	logger *zap.Logger
}

// NewModel builds a ModelBackend. logger may be nil.
func NewModel(cfg ModelConfig, logger *zap.Logger) (*ModelBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: model backend requires a base URL", ErrUnavailable)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model backend requires a model name", ErrUnavailable)
	}

	token := cfg.Token
	if token == "" {
		token = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &ModelBackend{llm: llm, cfg: cfg, logger: logger}, nil
}

// CreateChat returns a fabricated conversation id.
func (m *ModelBackend) CreateChat(ctx context.Context) (string, error) {
	id := "api-" + uuid.NewString()[:8]
	m.logger.Info("chat created", zap.String("chat_id", id), zap.String("model", m.cfg.Model))
	return id, nil
}

// Invoke sends the prompt as a single completion request. Streamed chunks are
// re-assembled into lines for the onLine callback.
func (m *ModelBackend) Invoke(ctx context.Context, prompt string, onLine func(string)) *Response {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	md := map[string]any{"model": m.cfg.Model, "backend": "model-api"}

	lines := newLineBuffer(onLine)
	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt,
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			lines.Write(chunk)
			return nil
		}))
	lines.Flush()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.Warn("model call timed out", zap.Duration("timeout", m.cfg.Timeout))
			return timeoutResponse(fmt.Sprintf("model call timed out after %s", m.cfg.Timeout), md)
		}
		if errors.Is(err, context.Canceled) {
			return executionResponse("model call canceled", md)
		}
		return executionResponse(err.Error(), md)
	}

	m.logger.Debug("model call finished",
		zap.String("model", m.cfg.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("output_bytes", len(out)))

	return &Response{Success: true, Output: strings.TrimSpace(out), Metadata: md}
}

// lineBuffer re-assembles a byte stream into newline-delimited lines and hands
// each complete line to emit without the trailing newline. Flush delivers any
// unterminated remainder.
type lineBuffer struct {
	emit func(string)
	buf  []byte
}

func newLineBuffer(emit func(string)) *lineBuffer {
	return &lineBuffer{emit: emit}
}

func (l *lineBuffer) Write(p []byte) {
	if l.emit == nil {
		return
	}
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			return
		}
		l.emit(string(l.buf[:i]))
		l.buf = l.buf[i+1:]
	}
}

func (l *lineBuffer) Flush() {
	if l.emit == nil || len(l.buf) == 0 {
		return
	}
	l.emit(string(l.buf))
	l.buf = nil
}
