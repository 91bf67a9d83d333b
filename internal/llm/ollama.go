package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillengine/quill/pkg/models"
)

// OllamaClient implements the Provider contract for a local Ollama-style
// chat server. No auth. Because this family lacks native tool support, the
// adapter synthesizes tools into a prepended system message describing the
// toolbox and a reply schema {"tool": name, "args": {...}}; a reply that
// textually parses as that schema lifts a single tool call.
type OllamaClient struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

// OllamaConfig holds configuration for creating an OllamaClient.
type OllamaConfig struct {
	// BaseURL of the local server. Default: http://localhost:11434
	// (overridable via OLLAMA_API_BASE at the config layer).
	BaseURL string

	// DefaultModel is used when no model is requested.
	DefaultModel string

	// Timeout bounds each HTTP request. Default: 300 seconds — local
	// inference can be slow.
	Timeout time.Duration
}

const defaultOllamaBaseURL = "http://localhost:11434"

// NewOllamaClient creates an Ollama adapter.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := strings.TrimSpace(cfg.DefaultModel)
	if model == "" {
		model = "qwen2.5-coder:14b"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &OllamaClient{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: model,
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

// OllamaModelInfo describes a locally available model.
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

type ollamaTagsResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// Complete performs a plain text completion.
func (c *OllamaClient) Complete(ctx context.Context, messages []models.Message, opts models.CompletionOptions) (string, error) {
	req := ollamaChatRequest{
		Model:    c.defaultModel,
		Messages: c.convertMessages(messages),
		Stream:   false,
	}
	if opts.JSONSchema != "" {
		req.Format = "json"
	}
	options := map[string]any{}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		options["top_p"] = *opts.TopP
	}
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		options["num_predict"] = *opts.MaxTokens
	}
	if len(options) > 0 {
		req.Options = options
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", NewProviderError("ollama", c.defaultModel, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", NewProviderError("ollama", c.defaultModel, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", c.connectError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", NewProviderError("ollama", c.defaultModel, err).WithReason(ReasonNetwork)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", NewProviderError("ollama", c.defaultModel,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))).
			WithStatus(resp.StatusCode)
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", NewProviderError("ollama", c.defaultModel,
			fmt.Errorf("decode response: %w", err)).WithReason(ReasonProtocol)
	}
	if parsed.Error != "" {
		return "", NewProviderError("ollama", c.defaultModel, errors.New(parsed.Error))
	}

	return parsed.Message.Content, nil
}

// CompleteWithTools performs a tool-capable turn via prompt synthesis.
func (c *OllamaClient) CompleteWithTools(ctx context.Context, messages []models.Message, opts models.CompletionOptions, toolResults []models.ToolResult) (string, []models.ToolCall, error) {
	conversation := make([]models.Message, 0, len(messages)+len(toolResults)+1)

	if len(opts.Tools) > 0 {
		conversation = append(conversation, models.SystemMessage(synthesizeToolPrompt(opts.Tools)))
	}
	conversation = append(conversation, messages...)

	// Prior tool results are injected as system messages.
	for _, result := range toolResults {
		conversation = append(conversation, models.SystemMessage(
			fmt.Sprintf("Tool result for %s: %s", result.ToolCallID, result.Output)))
	}

	response, err := c.Complete(ctx, conversation, opts)
	if err != nil {
		return "", nil, err
	}

	// A reply that parses as the tool schema lifts a single tool call.
	if call, ok := parseSynthesizedToolCall(response); ok {
		return "", []models.ToolCall{call}, nil
	}

	return response, nil, nil
}

// ListModels enumerates locally available models via /api/tags.
func (c *OllamaClient) ListModels(ctx context.Context) ([]OllamaModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, NewProviderError("ollama", "", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.connectError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, NewProviderError("ollama", "", err).WithReason(ReasonNetwork)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, NewProviderError("ollama", "",
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))).
			WithStatus(resp.StatusCode)
	}

	var parsed ollamaTagsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewProviderError("ollama", "",
			fmt.Errorf("decode response: %w", err)).WithReason(ReasonProtocol)
	}
	return parsed.Models, nil
}

func (c *OllamaClient) convertMessages(messages []models.Message) []ollamaMessage {
	result := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		role := string(msg.Role)
		if msg.Role == models.RoleTool {
			// The local server has no tool role; results travel as system text.
			result = append(result, ollamaMessage{
				Role:    "system",
				Content: fmt.Sprintf("Tool result for %s: %s", msg.ToolCallID, msg.Content),
			})
			continue
		}
		result = append(result, ollamaMessage{Role: role, Content: msg.Content})
	}
	return result
}

func (c *OllamaClient) connectError(err error) error {
	providerErr := NewProviderError("ollama", c.defaultModel, err).WithReason(ReasonNetwork)
	if strings.Contains(err.Error(), "connection refused") {
		providerErr.Message = "failed to connect to Ollama server; make sure 'ollama serve' is running"
	}
	return providerErr
}

// synthesizeToolPrompt renders the toolbox description and reply schema for
// providers without native tool support.
func synthesizeToolPrompt(tools []models.ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString("Available tools:\n\n")
	for _, tool := range tools {
		sb.WriteString("Tool: " + tool.Name + "\n")
		sb.WriteString("Description: " + tool.Description + "\n")
		params := prettyJSON(tool.Parameters)
		sb.WriteString("Parameters: " + params + "\n\n")
	}
	sb.WriteString("When you want to use a tool, respond with JSON in the following format:\n")
	sb.WriteString("```json\n{\n  \"tool\": \"tool_name\",\n  \"args\": { ... parameters ... }\n}\n```\n")
	return sb.String()
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// parseSynthesizedToolCall checks whether a reply matches the synthesized
// tool schema and lifts the call when it does.
func parseSynthesizedToolCall(response string) (models.ToolCall, bool) {
	trimmed := strings.TrimSpace(response)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return models.ToolCall{}, false
	}

	var wrapper struct {
		Tool string          `json:"tool"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
		return models.ToolCall{}, false
	}
	if wrapper.Tool == "" || len(wrapper.Args) == 0 {
		return models.ToolCall{}, false
	}

	return models.ToolCall{
		ID:        "ollama-tool-" + uuid.NewString(),
		Name:      wrapper.Tool,
		Arguments: wrapper.Args,
	}, true
}
