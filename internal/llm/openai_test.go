package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quillengine/quill/pkg/models"
)

func openaiChatReply(content string, toolCalls ...map[string]any) string {
	message := map[string]any{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	reply := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"model":   "gpt-4o",
		"choices": []any{map[string]any{"index": 0, "message": message, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8},
	}
	data, _ := json.Marshal(reply)
	return string(data)
}

func newOpenAITestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return client
}

func TestOpenAIToolCallArgumentsParsed(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(openaiChatReply("", map[string]any{
			"id":   "call_1",
			"type": "function",
			"function": map[string]any{
				"name":      "LS",
				"arguments": `{"path": "."}`,
			},
		})))
	})

	content, calls, err := client.CompleteWithTools(context.Background(),
		[]models.Message{models.UserMessage("List the current directory.")},
		models.CompletionOptions{Tools: []models.ToolDefinition{{
			Name:       "LS",
			Parameters: json.RawMessage(`{"type":"object"}`),
		}}}, nil)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}
	if content != "" {
		t.Errorf("content = %q, want empty", content)
	}
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "LS" {
		t.Fatalf("calls = %+v", calls)
	}
	var args map[string]any
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil || args["path"] != "." {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestOpenAIToolCorrelationOnTheWire(t *testing.T) {
	var body map[string]any
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(openaiChatReply("ok")))
	})

	messages := []models.Message{
		models.UserMessage("go"),
		{
			Role:    models.RoleAssistant,
			Content: "",
			ToolCalls: []models.ToolCall{{
				ID: "call_9", Name: "LS", Arguments: json.RawMessage(`{"path":"."}`),
			}},
		},
		models.ToolMessage("call_9", "two entries"),
	}

	_, _, err := client.CompleteWithTools(context.Background(), messages, models.CompletionOptions{
		Tools: []models.ToolDefinition{{Name: "LS", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}, nil)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}

	if body["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v, want auto", body["tool_choice"])
	}

	wire := body["messages"].([]any)
	if len(wire) != 3 {
		t.Fatalf("wire messages = %d, want 3", len(wire))
	}
	assistant := wire[1].(map[string]any)
	toolCalls := assistant["tool_calls"].([]any)
	callID := toolCalls[0].(map[string]any)["id"]
	toolMsg := wire[2].(map[string]any)
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != callID {
		t.Errorf("tool message = %v, want tool role correlated to %v", toolMsg, callID)
	}
}

func TestOpenAIRequireToolUse(t *testing.T) {
	var body map[string]any
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(openaiChatReply("ok")))
	})

	_, _, err := client.CompleteWithTools(context.Background(),
		[]models.Message{models.UserMessage("go")},
		models.CompletionOptions{
			RequireToolUse: true,
			Tools:          []models.ToolDefinition{{Name: "LS", Parameters: json.RawMessage(`{"type":"object"}`)}},
		}, nil)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}
	if body["tool_choice"] != "required" {
		t.Errorf("tool_choice = %v, want required", body["tool_choice"])
	}
}

func TestOpenAIJSONSchemaResponseFormat(t *testing.T) {
	var body map[string]any
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(openaiChatReply(`{"taskComplete": true}`)))
	})

	_, _, err := client.CompleteWithTools(context.Background(),
		[]models.Message{models.UserMessage("go")},
		models.CompletionOptions{JSONSchema: `{"type":"object"}`}, nil)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}

	format, ok := body["response_format"].(map[string]any)
	if !ok || format["type"] != "json_schema" {
		t.Errorf("response_format = %v, want json_schema", body["response_format"])
	}
}

func TestOpenAIInvalidToolArgumentsSurfaceAsProtocolError(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(openaiChatReply("", map[string]any{
			"id":   "call_1",
			"type": "function",
			"function": map[string]any{
				"name":      "LS",
				"arguments": `{not json`,
			},
		})))
	})

	_, _, err := client.CompleteWithTools(context.Background(),
		[]models.Message{models.UserMessage("go")},
		models.CompletionOptions{Tools: []models.ToolDefinition{{Name: "LS", Parameters: json.RawMessage(`{"type":"object"}`)}}}, nil)
	if err == nil {
		t.Fatal("expected an error for invalid arguments JSON")
	}
	providerErr, ok := GetProviderError(err)
	if !ok || providerErr.Reason != ReasonProtocol {
		t.Errorf("error = %v, want a protocol-classified provider error", err)
	}
}
