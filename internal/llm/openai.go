package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillengine/quill/pkg/models"
)

// OpenAIClient implements the Provider contract for OpenAI's chat
// completions API. Assistant tool calls and tool-role result messages are
// serialized with tool_call_id correlation; tool choice is "auto" whenever
// tools are present unless tool use is required.
type OpenAIClient struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig holds configuration for creating an OpenAIClient.
type OpenAIConfig struct {
	// APIKey is the bearer token (required).
	APIKey string

	// BaseURL overrides the default API base URL (used by tests).
	BaseURL string

	// MaxRetries sets the retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default: 1 second.
	RetryDelay time.Duration

	// DefaultModel is used when no model is requested.
	DefaultModel string
}

// NewOpenAIClient creates an OpenAI adapter.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Complete performs a plain text completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []models.Message, opts models.CompletionOptions) (string, error) {
	opts.Tools = nil
	content, _, err := c.CompleteWithTools(ctx, messages, opts, nil)
	return content, err
}

// CompleteWithTools performs a tool-capable turn.
func (c *OpenAIClient) CompleteWithTools(ctx context.Context, messages []models.Message, opts models.CompletionOptions, toolResults []models.ToolResult) (string, []models.ToolCall, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.defaultModel,
		Messages: c.convertMessages(messages, toolResults),
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.TopP != nil {
		req.TopP = float32(*opts.TopP)
	}
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		req.MaxTokens = *opts.MaxTokens
	}

	if len(opts.Tools) > 0 {
		req.Tools = c.convertTools(opts.Tools)
		if opts.RequireToolUse {
			req.ToolChoice = "required"
		} else {
			req.ToolChoice = "auto"
		}
	}

	if opts.JSONSchema != "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: json.RawMessage(opts.JSONSchema),
			},
		}
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		wrapped := c.wrapError(err, req.Model)
		if attempt >= c.maxRetries || !IsRetryable(wrapped) {
			return "", nil, wrapped
		}

		backoff := c.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return "", nil, NewProviderError("openai", req.Model, ctx.Err())
		case <-time.After(backoff):
		}
	}

	if len(resp.Choices) == 0 {
		return "", nil, NewProviderError("openai", req.Model,
			errors.New("response contains no choices")).WithReason(ReasonProtocol)
	}

	choice := resp.Choices[0].Message
	var toolCalls []models.ToolCall
	for _, tc := range choice.ToolCalls {
		// Arguments arrive as a JSON-encoded string and must parse as a value.
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if !json.Valid(args) {
			return "", nil, NewProviderError("openai", req.Model,
				fmt.Errorf("tool call %s carries invalid arguments JSON", tc.Function.Name)).
				WithReason(ReasonProtocol)
		}
		toolCalls = append(toolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return choice.Content, normalizeToolCalls(toolCalls), nil
}

func (c *OpenAIClient) convertMessages(messages []models.Message, toolResults []models.ToolResult) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+len(toolResults)+1)

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, out)

		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	// Inject prior tool results: one assistant message carrying the tool
	// calls, then one tool-role message per result, correlated by id.
	if len(toolResults) > 0 {
		assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
		for _, tr := range toolResults {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
				ID:       tr.ToolCallID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "tool", Arguments: "{}"},
			})
		}
		result = append(result, assistant)
		for _, tr := range toolResults {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Output,
				ToolCallID: tr.ToolCallID,
			})
		}
	}

	return result
}

func (c *OpenAIClient) convertTools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return result
}

func (c *OpenAIClient) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError("openai", model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr.Message = apiErr.Message
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		return providerErr
	}

	return NewProviderError("openai", model, err)
}
