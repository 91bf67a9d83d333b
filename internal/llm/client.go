// Package llm implements the provider abstraction: a uniform capability for
// issuing completion requests with tool definitions to any of several
// heterogeneous chat providers, translating in both directions between the
// neutral message/tool-call model and each provider's wire format.
package llm

import (
	"context"
	"errors"

	"github.com/quillengine/quill/pkg/models"
)

// Provider is the shared contract every adapter implements.
//
// Complete performs a plain text completion. CompleteWithTools performs a
// tool-capable turn: content may be empty when only tool calls were
// produced, and an empty tool-call list is normalized to nil.
//
// The optional toolResults carry results accumulated from a previous turn
// for callers that do not record tool turns in the message sequence; each
// adapter injects them in its own wire representation after the converted
// messages. Injection is idempotent per (tool_call_id, output) pair.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, messages []models.Message, opts models.CompletionOptions) (string, error)
	CompleteWithTools(ctx context.Context, messages []models.Message, opts models.CompletionOptions, toolResults []models.ToolResult) (string, []models.ToolCall, error)
}

// Kind identifies a provider family.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
	KindOllama    Kind = "ollama"

	// KindCustom wraps an arbitrary Provider, used for test injection.
	KindCustom Kind = "custom"
)

// Client is a tagged variant over the concrete adapters. It is selected once
// at session initialization and then behaves as a single polymorphic
// collaborator for the executor. Both operations forward by match dispatch;
// no additional logic lives here.
type Client struct {
	kind      Kind
	anthropic *AnthropicClient
	openai    *OpenAIClient
	gemini    *GeminiClient
	ollama    *OllamaClient
	custom    Provider
}

// NewAnthropic wraps an Anthropic adapter.
func NewAnthropic(c *AnthropicClient) *Client {
	return &Client{kind: KindAnthropic, anthropic: c}
}

// NewOpenAI wraps an OpenAI adapter.
func NewOpenAI(c *OpenAIClient) *Client {
	return &Client{kind: KindOpenAI, openai: c}
}

// NewGemini wraps a Gemini adapter.
func NewGemini(c *GeminiClient) *Client {
	return &Client{kind: KindGemini, gemini: c}
}

// NewOllama wraps an Ollama adapter.
func NewOllama(c *OllamaClient) *Client {
	return &Client{kind: KindOllama, ollama: c}
}

// NewCustom wraps an arbitrary Provider for test injection.
func NewCustom(p Provider) *Client {
	return &Client{kind: KindCustom, custom: p}
}

// Kind returns the wrapped provider family.
func (c *Client) Kind() Kind {
	return c.kind
}

// Complete forwards to the wrapped adapter.
func (c *Client) Complete(ctx context.Context, messages []models.Message, opts models.CompletionOptions) (string, error) {
	switch c.kind {
	case KindAnthropic:
		return c.anthropic.Complete(ctx, messages, opts)
	case KindOpenAI:
		return c.openai.Complete(ctx, messages, opts)
	case KindGemini:
		return c.gemini.Complete(ctx, messages, opts)
	case KindOllama:
		return c.ollama.Complete(ctx, messages, opts)
	case KindCustom:
		return c.custom.Complete(ctx, messages, opts)
	}
	return "", errors.New("llm: client not initialized")
}

// CompleteWithTools forwards to the wrapped adapter.
func (c *Client) CompleteWithTools(ctx context.Context, messages []models.Message, opts models.CompletionOptions, toolResults []models.ToolResult) (string, []models.ToolCall, error) {
	switch c.kind {
	case KindAnthropic:
		return c.anthropic.CompleteWithTools(ctx, messages, opts, toolResults)
	case KindOpenAI:
		return c.openai.CompleteWithTools(ctx, messages, opts, toolResults)
	case KindGemini:
		return c.gemini.CompleteWithTools(ctx, messages, opts, toolResults)
	case KindOllama:
		return c.ollama.CompleteWithTools(ctx, messages, opts, toolResults)
	case KindCustom:
		return c.custom.CompleteWithTools(ctx, messages, opts, toolResults)
	}
	return "", nil, errors.New("llm: client not initialized")
}

// normalizeToolCalls converts an empty slice to nil so "no tool calls" has
// a single representation across adapters.
func normalizeToolCalls(calls []models.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	return calls
}
