// Package llm adapts a chat-completion model to a single prompt-in,
// text-out call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrNoChoices is returned when the model responds without any completion.
var ErrNoChoices = errors.New("llm: model returned no choices")

// Completer turns a rendered prompt into the model's raw response text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config describes an OpenAI-compatible chat endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	JSONMode    bool
}

// Model sends prompts to a langchaingo llms.Model.
type Model struct {
	client      llms.Model
	temperature float64
	jsonMode    bool
	logger      *slog.Logger
}

// ensure Model implements Completer
var _ Completer = (*Model)(nil)

// New builds a Completer backed by an OpenAI-compatible endpoint. Gemini,
// Groq and Ollama all expose one.
func New(cfg Config) (*Model, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model name is required")
	}

	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	// local OpenAI-compatible services accept any token
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts = append(opts, openai.WithToken(token))

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}

	return NewFromModel(client, cfg), nil
}

// NewFromModel wraps an existing llms.Model. Only Temperature and JSONMode
// are read from cfg.
func NewFromModel(client llms.Model, cfg Config) *Model {
	return &Model{
		client:      client,
		temperature: cfg.Temperature,
		jsonMode:    cfg.JSONMode,
		logger:      slog.Default().With("component", "llm"),
	}
}

// Complete sends prompt as a single human message and returns the first
// choice's content.
func (m *Model) Complete(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	callOpts := []llms.CallOption{llms.WithTemperature(m.temperature)}
	if m.jsonMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := m.client.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	m.logger.Debug("completion received", "chars", len(text), "stop_reason", resp.Choices[0].StopReason)
	return text, nil
}
