package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quillengine/quill/pkg/models"
)

// AnthropicClient implements the Provider contract for Anthropic's Messages
// API using the official SDK. The SDK pins the anthropic-version header and
// owns auth; this adapter handles message/tool conversion, ephemeral cache
// hints, retries, and error wrapping.
//
// Cache hints: an ephemeral cache_control marker is attached to (a) the
// system block, (b) the most recent user message, (c) the second-to-last
// user message if present, and (d) the last tool definition — nowhere else.
type AnthropicClient struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig holds configuration for creating an AnthropicClient.
// All fields except APIKey are optional.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default API base URL (used by tests).
	BaseURL string

	// MaxRetries sets the retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay is the base delay between retries; actual delay uses
	// exponential backoff. Default: 1 second.
	RetryDelay time.Duration

	// DefaultModel is used when no model is requested.
	DefaultModel string
}

// NewAnthropicClient creates an Anthropic adapter. It fails when APIKey is
// empty; the caller is expected to have read ANTHROPIC_API_KEY.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	// Disable the SDK's own retries so this adapter's policy is the only one.
	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(options...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// NewEphemeralCacheControl returns the ephemeral cache marker attached to
// cacheable request blocks. Its only observable field is "ephemeral".
func NewEphemeralCacheControl() anthropic.CacheControlEphemeralParam {
	return anthropic.NewCacheControlEphemeralParam()
}

// Complete performs a plain text completion.
func (c *AnthropicClient) Complete(ctx context.Context, messages []models.Message, opts models.CompletionOptions) (string, error) {
	opts.Tools = nil
	content, _, err := c.CompleteWithTools(ctx, messages, opts, nil)
	return content, err
}

// CompleteWithTools performs a tool-capable turn.
func (c *AnthropicClient) CompleteWithTools(ctx context.Context, messages []models.Message, opts models.CompletionOptions, toolResults []models.ToolResult) (string, []models.ToolCall, error) {
	params, err := c.buildParams(messages, opts, toolResults)
	if err != nil {
		return "", nil, err
	}

	var msg *anthropic.Message
	for attempt := 0; ; attempt++ {
		msg, err = c.client.Messages.New(ctx, params)
		if err == nil {
			break
		}

		wrapped := c.wrapError(err, string(params.Model))
		if attempt >= c.maxRetries || !IsRetryable(wrapped) {
			return "", nil, wrapped
		}

		// Exponential backoff: retryDelay * 2^attempt.
		backoff := c.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return "", nil, NewProviderError("anthropic", string(params.Model), ctx.Err())
		case <-time.After(backoff):
		}
	}

	var content strings.Builder
	var toolCalls []models.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args, err := json.Marshal(b.Input)
			if err != nil || len(args) == 0 || string(args) == "null" {
				args = json.RawMessage(`{}`)
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	return content.String(), normalizeToolCalls(toolCalls), nil
}

func (c *AnthropicClient) buildParams(messages []models.Message, opts models.CompletionOptions, toolResults []models.ToolResult) (anthropic.MessageNewParams, error) {
	maxTokens := 4096
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		maxTokens = *opts.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.defaultModel),
		MaxTokens: int64(maxTokens),
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = anthropic.Float(*opts.TopP)
	}

	// System messages leave the stream and travel in the dedicated field.
	var systemParts []string
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			systemParts = append(systemParts, msg.Content)
		}
	}
	if opts.JSONSchema != "" {
		// The Messages API has no response_format; the structured-output
		// hint becomes a trailing system instruction the model honors.
		systemParts = append(systemParts,
			"Respond ONLY with a single JSON object conforming to this JSON Schema, with no surrounding text:\n"+opts.JSONSchema)
	}
	if len(systemParts) > 0 {
		block := anthropic.TextBlockParam{Text: strings.Join(systemParts, "\n\n")}
		block.CacheControl = NewEphemeralCacheControl()
		params.System = []anthropic.TextBlockParam{block}
	}

	converted, userIdx, err := c.convertMessages(messages)
	if err != nil {
		return params, err
	}

	// Inject prior tool results for callers that do not record tool turns:
	// each becomes an assistant tool_use plus a user tool_result pair.
	for _, result := range toolResults {
		converted = append(converted,
			anthropic.NewAssistantMessage(anthropic.NewToolUseBlock(result.ToolCallID, map[string]any{}, "tool")),
			anthropic.NewUserMessage(anthropic.NewToolResultBlock(result.ToolCallID, result.Output, false)),
		)
	}

	// Ephemeral markers on the last two user messages.
	for i := len(userIdx) - 1; i >= 0 && i >= len(userIdx)-2; i-- {
		markMessageCacheable(&converted[userIdx[i]])
	}

	params.Messages = converted

	if len(opts.Tools) > 0 {
		tools, err := c.convertTools(opts.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools

		if opts.RequireToolUse {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	return params, nil
}

// convertMessages converts the neutral messages (system excluded) and
// returns the indexes of entries that originate from user messages, for
// cache-marker placement.
func (c *AnthropicClient) convertMessages(messages []models.Message) ([]anthropic.MessageParam, []int, error) {
	var result []anthropic.MessageParam
	var userIdx []int

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			continue

		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						return nil, nil, fmt.Errorf("anthropic: invalid tool call arguments: %w", err)
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextBlock(""))
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		case models.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))

		default:
			userIdx = append(userIdx, len(result))
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return result, userIdx, nil
}

// markMessageCacheable attaches the ephemeral marker to the last content
// block of a message.
func markMessageCacheable(msg *anthropic.MessageParam) {
	if len(msg.Content) == 0 {
		return
	}
	block := &msg.Content[len(msg.Content)-1]
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = NewEphemeralCacheControl()
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = NewEphemeralCacheControl()
	}
}

// convertTools converts tool definitions, marking the last one cacheable.
func (c *AnthropicClient) convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for i, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		if i == len(tools)-1 {
			toolParam.OfTool.CacheControl = NewEphemeralCacheControl()
		}

		result = append(result, toolParam)
	}

	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (c *AnthropicClient) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		if apiErr.RequestID != "" {
			providerErr = providerErr.WithRequestID(apiErr.RequestID)
		}
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr.Message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					providerErr = providerErr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					providerErr = providerErr.WithRequestID(payload.RequestID)
				}
			}
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}
