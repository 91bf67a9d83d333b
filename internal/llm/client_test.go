package llm

import (
	"context"
	"testing"

	"github.com/quillengine/quill/pkg/models"
)

// scriptedProvider is a canned Provider for facade tests.
type scriptedProvider struct {
	content   string
	toolCalls []models.ToolCall
	err       error

	gotMessages []models.Message
	gotOptions  models.CompletionOptions
	gotResults  []models.ToolResult
}

func (p *scriptedProvider) Complete(_ context.Context, messages []models.Message, opts models.CompletionOptions) (string, error) {
	p.gotMessages = messages
	p.gotOptions = opts
	return p.content, p.err
}

func (p *scriptedProvider) CompleteWithTools(_ context.Context, messages []models.Message, opts models.CompletionOptions, toolResults []models.ToolResult) (string, []models.ToolCall, error) {
	p.gotMessages = messages
	p.gotOptions = opts
	p.gotResults = toolResults
	return p.content, p.toolCalls, p.err
}

func TestClientForwardsToCustomProvider(t *testing.T) {
	scripted := &scriptedProvider{content: "Hi!"}
	client := NewCustom(scripted)

	if client.Kind() != KindCustom {
		t.Errorf("kind = %v, want custom", client.Kind())
	}

	content, calls, err := client.CompleteWithTools(context.Background(),
		[]models.Message{models.UserMessage("Say hi.")},
		models.CompletionOptions{RequireToolUse: true},
		[]models.ToolResult{{ToolCallID: "0", Output: "out"}})
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}
	if content != "Hi!" || calls != nil {
		t.Errorf("got (%q, %v)", content, calls)
	}
	if len(scripted.gotMessages) != 1 || !scripted.gotOptions.RequireToolUse || len(scripted.gotResults) != 1 {
		t.Error("arguments were not forwarded verbatim")
	}

	plain, err := client.Complete(context.Background(), nil, models.CompletionOptions{})
	if err != nil || plain != "Hi!" {
		t.Errorf("Complete = (%q, %v)", plain, err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	var client Client
	if _, err := client.Complete(context.Background(), nil, models.CompletionOptions{}); err == nil {
		t.Error("Complete on zero client should error")
	}
	if _, _, err := client.CompleteWithTools(context.Background(), nil, models.CompletionOptions{}, nil); err == nil {
		t.Error("CompleteWithTools on zero client should error")
	}
}

func TestNormalizeToolCalls(t *testing.T) {
	if normalizeToolCalls(nil) != nil {
		t.Error("nil should stay nil")
	}
	if normalizeToolCalls([]models.ToolCall{}) != nil {
		t.Error("empty slice should normalize to nil")
	}
	calls := []models.ToolCall{{Name: "LS"}}
	if got := normalizeToolCalls(calls); len(got) != 1 {
		t.Error("non-empty slice should pass through")
	}
}
