// Package models defines the neutral conversation and task types shared by
// the provider adapters, the agent executor, and the RPC frontend.
package models

import (
	"encoding/json"
	"strconv"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the provider-neutral message format.
//
// A tool-role message's ToolCallID refers to a tool call previously emitted
// by an assistant message in the same session. Assistant messages may carry
// ToolCalls alongside (possibly empty) text content.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// SystemMessage creates a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage creates a tool-role message carrying the result of a prior
// tool call.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// ToolCall represents an LLM's request to execute a tool.
//
// ID is the provider-supplied call identifier when the provider emits one;
// adapters that lack native ids synthesize them. When present, the ID is
// unique within a single assistant response.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the output of a tool execution, fed back to the
// model on the next turn. Output may be error text.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ToolResultID returns the id to correlate a tool result with: the
// provider-supplied call id when present, otherwise the stringified
// positional index of the call within its assistant turn.
func ToolResultID(call ToolCall, index int) string {
	if call.ID != "" {
		return call.ID
	}
	return strconv.Itoa(index)
}

// ToolDefinition describes a tool offered to the model. Parameters is a
// JSON Schema object; its required list is respected by every adapter.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionOptions carries the generation parameters for a single
// provider call.
type CompletionOptions struct {
	// Temperature controls sampling randomness. Nil means provider default.
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling. Nil means provider default.
	TopP *float64 `json:"top_p,omitempty"`

	// MaxTokens limits the generated response length. Nil means provider
	// default (typically 4096).
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Tools are the definitions offered to the model for this call.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// RequireToolUse forces the model to call a tool on this turn.
	RequireToolUse bool `json:"require_tool_use"`

	// JSONSchema, when non-empty, encodes a JSON Schema the reply must
	// conform to. Adapters forward it as a structured-output hint.
	JSONSchema string `json:"json_schema,omitempty"`
}

// Float returns a pointer to v, for CompletionOptions literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for CompletionOptions literals.
func Int(v int) *int { return &v }

// EstimateTokens gives a rough token estimate for a message sequence using
// character-based approximation (~4 chars per token). Useful for ledger
// accounting and context-window checks; it is not a real tokenizer.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
		total += len(msg.Role) / 4
		for _, tc := range msg.ToolCalls {
			total += len(tc.Name) / 4
			total += len(tc.Arguments) / 4
		}
	}
	return total
}
