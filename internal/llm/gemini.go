package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillengine/quill/pkg/models"
)

// GeminiClient implements the Provider contract for Google's generateContent
// API over raw HTTP. The API key travels in the query string; tools are
// serialized as camelCase functionDeclarations.
//
// Roles are remapped for the wire: system and tool map to "user", assistant
// maps to "model", and consecutive same-role messages merge into a single
// content entry with multiple parts.
//
// Retry policy: up to 3 retries on 429/503 responses or transport errors,
// exponential backoff starting at 1s capped at 10s plus jitter <= 500ms,
// honoring Retry-After when present.
type GeminiClient struct {
	client       *http.Client
	apiKey       string
	baseURL      string
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	maxBackoff   time.Duration
}

// GeminiConfig holds configuration for creating a GeminiClient.
type GeminiConfig struct {
	// APIKey is the Google AI API key (required).
	APIKey string

	// BaseURL overrides the default API base URL (used by tests).
	BaseURL string

	// DefaultModel is used when no model is requested.
	DefaultModel string

	// Timeout bounds each HTTP request. Default: 2 minutes.
	Timeout time.Duration
}

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// NewGeminiClient creates a Gemini adapter.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.5-pro"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &GeminiClient{
		client:       &http.Client{Timeout: timeout},
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		defaultModel: cfg.DefaultModel,
		maxRetries:   3,
		retryDelay:   time.Second,
		maxBackoff:   10 * time.Second,
	}, nil
}

// Wire types for the generateContent endpoint.

type geminiPart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *geminiFuncCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResult `json:"functionResponse,omitempty"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFuncResult struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode string `json:"mode"`
	} `json:"functionCallingConfig"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	Tools            []geminiTool            `json:"tools,omitempty"`
	ToolConfig       *geminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete performs a plain text completion.
func (c *GeminiClient) Complete(ctx context.Context, messages []models.Message, opts models.CompletionOptions) (string, error) {
	opts.Tools = nil
	content, _, err := c.CompleteWithTools(ctx, messages, opts, nil)
	return content, err
}

// CompleteWithTools performs a tool-capable turn.
func (c *GeminiClient) CompleteWithTools(ctx context.Context, messages []models.Message, opts models.CompletionOptions, toolResults []models.ToolResult) (string, []models.ToolCall, error) {
	req := geminiRequest{
		Contents: c.convertMessages(messages, toolResults, opts.JSONSchema),
	}

	if opts.Temperature != nil || opts.TopP != nil || opts.MaxTokens != nil || opts.JSONSchema != "" {
		gen := &geminiGenerationConfig{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
		}
		if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
			gen.MaxOutputTokens = opts.MaxTokens
		}
		if opts.JSONSchema != "" {
			gen.ResponseMimeType = "application/json"
		}
		req.GenerationConfig = gen
	}

	if len(opts.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(opts.Tools))
		for _, tool := range opts.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		req.Tools = []geminiTool{{FunctionDeclarations: decls}}

		cfg := &geminiToolConfig{}
		if opts.RequireToolUse {
			cfg.FunctionCallingConfig.Mode = "ANY"
		} else {
			cfg.FunctionCallingConfig.Mode = "AUTO"
		}
		req.ToolConfig = cfg
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", nil, NewProviderError("gemini", c.defaultModel, fmt.Errorf("marshal request: %w", err))
	}

	respBody, err := c.send(ctx, body)
	if err != nil {
		return "", nil, err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", nil, NewProviderError("gemini", c.defaultModel,
			fmt.Errorf("decode response: %w", err)).WithReason(ReasonProtocol)
	}
	if parsed.Error != nil {
		return "", nil, NewProviderError("gemini", c.defaultModel,
			errors.New(parsed.Error.Message)).WithStatus(parsed.Error.Code).WithCode(parsed.Error.Status)
	}
	if len(parsed.Candidates) == 0 {
		return "", nil, NewProviderError("gemini", c.defaultModel,
			errors.New("response contains no candidates")).WithReason(ReasonProtocol)
	}

	var content strings.Builder
	var toolCalls []models.ToolCall
	for _, part := range parsed.Candidates[0].Content.Parts {
		call := part.FunctionCall
		if call == nil && part.Text != "" {
			// Some replies bury the function call in an opaque value.
			call = extractFunctionCall(part.Text)
		}
		switch {
		case call != nil:
			args := call.Args
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			// Gemini does not assign call ids; synthesize one.
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        "gemini-" + uuid.NewString(),
				Name:      call.Name,
				Arguments: args,
			})
		case part.Text != "":
			content.WriteString(part.Text)
		}
	}

	return content.String(), normalizeToolCalls(toolCalls), nil
}

// send posts the request with the adapter's retry policy and returns the
// response body on 2xx.
func (c *GeminiClient) send(ctx context.Context, body []byte) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, c.defaultModel, url.QueryEscape(c.apiKey))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleepBeforeRetry(ctx, attempt, lastErr); err != nil {
				return nil, NewProviderError("gemini", c.defaultModel, err)
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, NewProviderError("gemini", c.defaultModel, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = NewProviderError("gemini", c.defaultModel, err).WithReason(ReasonNetwork)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = NewProviderError("gemini", c.defaultModel, readErr).WithReason(ReasonNetwork)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			providerErr := NewProviderError("gemini", c.defaultModel,
				fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))).
				WithStatus(resp.StatusCode)
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
					providerErr.Message = fmt.Sprintf("retry-after=%d %s", secs, providerErr.Message)
					lastErr = &retryAfterError{ProviderError: providerErr, after: time.Duration(secs) * time.Second}
					continue
				}
			}
			lastErr = providerErr
			continue

		default:
			return nil, NewProviderError("gemini", c.defaultModel,
				fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))).
				WithStatus(resp.StatusCode)
		}
	}

	if lastErr == nil {
		lastErr = NewProviderError("gemini", c.defaultModel, errors.New("max retries exceeded"))
	}
	return nil, lastErr
}

// retryAfterError carries the server-advertised backoff.
type retryAfterError struct {
	*ProviderError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error {
	return e.ProviderError
}

// sleepBeforeRetry waits for the next attempt: the server's Retry-After if
// advertised, otherwise exponential backoff capped at maxBackoff, plus up
// to 500ms of jitter.
func (c *GeminiClient) sleepBeforeRetry(ctx context.Context, attempt int, lastErr error) error {
	var delay time.Duration
	var ra *retryAfterError
	if errors.As(lastErr, &ra) {
		delay = ra.after
	} else {
		delay = c.retryDelay << (attempt - 1)
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
	delay += time.Duration(rand.Int63n(int64(500 * time.Millisecond)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// convertMessages remaps roles (system->user, assistant->model, tool->user
// with a functionResponse part) and merges consecutive same-role messages
// into one content entry with multiple parts.
func (c *GeminiClient) convertMessages(messages []models.Message, toolResults []models.ToolResult, jsonSchema string) []geminiContent {
	var contents []geminiContent

	appendPart := func(role string, part geminiPart) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			return
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{part}})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			if msg.Content != "" {
				appendPart("model", geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				appendPart("model", geminiPart{FunctionCall: &geminiFuncCall{
					Name: tc.Name,
					Args: tc.Arguments,
				}})
			}
		case models.RoleTool:
			appendPart("user", geminiPart{FunctionResponse: &geminiFuncResult{
				Name:     msg.ToolCallID,
				Response: map[string]any{"output": msg.Content},
			}})
		default:
			// System and user both map to "user".
			appendPart("user", geminiPart{Text: msg.Content})
		}
	}

	for _, tr := range toolResults {
		appendPart("user", geminiPart{FunctionResponse: &geminiFuncResult{
			Name:     tr.ToolCallID,
			Response: map[string]any{"output": tr.Output},
		}})
	}

	if jsonSchema != "" {
		appendPart("user", geminiPart{
			Text: "Respond ONLY with a single JSON object conforming to this JSON Schema:\n" + jsonSchema,
		})
	}

	return contents
}

// extractFunctionCall attempts to lift a functionCall from an opaque text
// value that decodes as JSON.
func extractFunctionCall(text string) *geminiFuncCall {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil
	}
	var wrapper struct {
		FunctionCall *geminiFuncCall `json:"functionCall"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
		return nil
	}
	if wrapper.FunctionCall == nil || wrapper.FunctionCall.Name == "" {
		return nil
	}
	return wrapper.FunctionCall
}
