package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quillengine/quill/internal/llm"
	"github.com/quillengine/quill/internal/session"
	"github.com/quillengine/quill/internal/tasks"
	"github.com/quillengine/quill/internal/tools"
	"github.com/quillengine/quill/pkg/models"
)

// turn is one scripted provider reply.
type turn struct {
	content   string
	toolCalls []models.ToolCall
	err       error
}

// scriptedProvider replays canned turns and records every call it saw.
type scriptedProvider struct {
	turns []turn
	calls []recordedCall

	// repeatLast keeps returning the final turn once the script runs out,
	// for cap tests where the model never stops calling tools.
	repeatLast bool
}

type recordedCall struct {
	messages []models.Message
	opts     models.CompletionOptions
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []models.Message, opts models.CompletionOptions) (string, error) {
	content, _, err := p.CompleteWithTools(ctx, messages, opts, nil)
	return content, err
}

func (p *scriptedProvider) CompleteWithTools(_ context.Context, messages []models.Message, opts models.CompletionOptions, _ []models.ToolResult) (string, []models.ToolCall, error) {
	p.calls = append(p.calls, recordedCall{messages: messages, opts: opts})

	idx := len(p.calls) - 1
	if idx >= len(p.turns) {
		if p.repeatLast && len(p.turns) > 0 {
			idx = len(p.turns) - 1
		} else {
			return "", nil, errors.New("scripted provider exhausted")
		}
	}
	t := p.turns[idx]
	return t.content, t.toolCalls, t.err
}

type testHarness struct {
	executor *Executor
	provider *scriptedProvider
	session  *session.Session
	ledger   *tasks.Ledger
	task     *models.Task
	notices  []map[string]any
	progress []string
}

func newHarness(t *testing.T, provider *scriptedProvider, maxLoops int) *testHarness {
	t.Helper()

	registry, err := tools.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	h := &testHarness{
		provider: provider,
		session:  session.New(session.DefaultMaxMessages),
		ledger:   tasks.NewLedger(),
	}
	h.session.SetSystemMessage("You are a coding assistant.")
	h.task = h.ledger.Begin("test query")

	h.executor, err = New(Options{
		Provider: llm.NewCustom(provider),
		Registry: registry,
		Session:  h.session,
		Ledger:   h.ledger,
		TaskID:   h.task.ID,
		MaxLoops: maxLoops,
		Progress: func(msg string) { h.progress = append(h.progress, msg) },
		Notify: func(method string, params any) {
			if method != "tool_status" {
				return
			}
			h.notices = append(h.notices, params.(map[string]any))
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func lsCall(t *testing.T, id, path string) models.ToolCall {
	t.Helper()
	args, _ := json.Marshal(map[string]string{"path": path})
	return models.ToolCall{ID: id, Name: "LS", Arguments: args}
}

// Plain completion, no tools. The session grows by exactly
// [user, assistant].
func TestExecutePlainCompletion(t *testing.T) {
	provider := &scriptedProvider{turns: []turn{{content: "Hi!"}}}
	h := newHarness(t, provider, 0)
	h.session.AddUser("Say hi.")

	final, err := h.executor.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if final != "Hi!" {
		t.Errorf("final = %q, want %q", final, "Hi!")
	}

	msgs := h.session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("session = %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "Say hi." {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "Hi!" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if len(provider.calls) != 1 {
		t.Errorf("provider calls = %d, want 1", len(provider.calls))
	}
}

// A single tool turn. Tool-status notifications fire exactly once per
// phase with matching ids, and the completion check's finalSummary becomes
// the final text.
func TestExecuteSingleToolTurn(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	provider := &scriptedProvider{turns: []turn{
		{content: "", toolCalls: []models.ToolCall{lsCall(t, "call_1", dir)}},
		{content: `{"taskComplete": true, "finalSummary": "Found 2 entries.", "reasoning": "listing done"}`},
	}}
	h := newHarness(t, provider, 0)
	h.session.AddUser("List the current directory.")

	final, err := h.executor.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if final != "Found 2 entries." {
		t.Errorf("final = %q", final)
	}

	if len(h.notices) != 2 {
		t.Fatalf("tool_status notifications = %d, want 2", len(h.notices))
	}
	started := h.notices[0]["execution"].(*models.ToolExecution)
	updated := h.notices[1]["execution"].(*models.ToolExecution)
	if h.notices[0]["type"] != "started" || h.notices[1]["type"] != "updated" {
		t.Error("notification phases wrong")
	}
	if started.ID != updated.ID {
		t.Error("started and updated notifications carry different ids")
	}
	if updated.Status != models.ToolExecSuccess {
		t.Errorf("final status = %s, want success", updated.Status)
	}
}

// Invariant: an assistant message carrying tool calls is followed by
// exactly one tool-result message per call, in emission order.
func TestSessionTranscriptInvariant(t *testing.T) {
	dir := t.TempDir()
	provider := &scriptedProvider{turns: []turn{
		{toolCalls: []models.ToolCall{lsCall(t, "call_a", dir), lsCall(t, "call_b", dir)}},
		{content: `{"taskComplete": true, "finalSummary": "done", "reasoning": ""}`},
	}}
	h := newHarness(t, provider, 0)
	h.session.AddUser("go")

	if _, err := h.executor.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	msgs := h.session.Messages()
	var assistantIdx = -1
	for i, msg := range msgs {
		if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
			assistantIdx = i
			break
		}
	}
	if assistantIdx == -1 {
		t.Fatal("no assistant message with tool calls recorded")
	}

	calls := msgs[assistantIdx].ToolCalls
	for i, call := range calls {
		result := msgs[assistantIdx+1+i]
		if result.Role != models.RoleTool {
			t.Fatalf("message %d role = %s, want tool", assistantIdx+1+i, result.Role)
		}
		if result.ToolCallID != call.ID {
			t.Errorf("result %d id = %s, want %s", i, result.ToolCallID, call.ID)
		}
	}
}

// A malformed tool call becomes a model-visible parse error and the
// loop recovers.
func TestExecuteToolParseErrorRecovery(t *testing.T) {
	badEdit := models.ToolCall{
		ID:        "call_bad",
		Name:      "Edit",
		Arguments: json.RawMessage(`{"file_path": "/t/x", "old_string": "a"}`),
	}
	provider := &scriptedProvider{turns: []turn{
		{toolCalls: []models.ToolCall{badEdit}},
		{content: "I cannot proceed."},
		{content: `{"taskComplete": true, "finalSummary": "I cannot proceed.", "reasoning": "stuck"}`},
	}}
	h := newHarness(t, provider, 0)
	h.session.AddUser("edit the file")

	final, err := h.executor.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if final != "I cannot proceed." {
		t.Errorf("final = %q", final)
	}

	var sawParseError bool
	for _, msg := range h.session.Messages() {
		if msg.Role == models.RoleTool && strings.HasPrefix(msg.Content, "ERROR PARSING TOOL CALL:") {
			sawParseError = true
		}
	}
	if !sawParseError {
		t.Error("parse error was not surfaced as a tool result")
	}
}

// A failing tool surfaces as ERROR EXECUTING TOOL and the loop continues.
func TestExecuteToolExecErrorRecovery(t *testing.T) {
	missingRead := models.ToolCall{
		ID:        "call_r",
		Name:      "Read",
		Arguments: json.RawMessage(`{"file_path": "/does/not/exist", "offset": 0, "limit": 5}`),
	}
	provider := &scriptedProvider{turns: []turn{
		{toolCalls: []models.ToolCall{missingRead}},
		{content: `{"taskComplete": true, "finalSummary": "file missing", "reasoning": ""}`},
	}}
	h := newHarness(t, provider, 0)
	h.session.AddUser("read it")

	if _, err := h.executor.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var sawExecError bool
	for _, msg := range h.session.Messages() {
		if msg.Role == models.RoleTool && strings.HasPrefix(msg.Content, "ERROR EXECUTING TOOL:") {
			sawExecError = true
		}
	}
	if !sawExecError {
		t.Error("execution error was not surfaced as a tool result")
	}
}

// The provider emits tool calls forever. The executor terminates within the
// loop cap, issues a completion check on the final iteration, and makes at
// most cap+1 provider calls.
func TestExecuteMaxLoopsCap(t *testing.T) {
	const maxLoops = 8
	dir := t.TempDir()
	provider := &scriptedProvider{
		turns:      []turn{{content: "still working", toolCalls: []models.ToolCall{lsCall(t, "", dir)}}},
		repeatLast: true,
	}
	h := newHarness(t, provider, maxLoops)
	h.session.AddUser("never finish")

	final, err := h.executor.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if final != "still working" {
		t.Errorf("final = %q, want best-available content", final)
	}

	if len(provider.calls) > maxLoops+1 {
		t.Errorf("provider calls = %d, want <= %d", len(provider.calls), maxLoops+1)
	}
	last := provider.calls[len(provider.calls)-1]
	if last.opts.JSONSchema == "" {
		t.Error("final turn was not a completion check")
	}
	if h.executor.Usage().Iterations > maxLoops {
		t.Errorf("iterations = %d, want <= %d", h.executor.Usage().Iterations, maxLoops)
	}
}

// The positional index substitutes for a missing provider id.
func TestPositionalIndexFallback(t *testing.T) {
	dir := t.TempDir()
	provider := &scriptedProvider{turns: []turn{
		{toolCalls: []models.ToolCall{lsCall(t, "", dir)}},
		{content: `{"taskComplete": true, "finalSummary": "done", "reasoning": ""}`},
	}}
	h := newHarness(t, provider, 0)
	h.session.AddUser("go")

	if _, err := h.executor.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var sawPositional bool
	for _, msg := range h.session.Messages() {
		if msg.Role == models.RoleTool && msg.ToolCallID == "0" {
			sawPositional = true
		}
	}
	if !sawPositional {
		t.Error("tool result did not fall back to the positional index id")
	}
}

// Initial-turn provider errors propagate so the caller can fail the task.
func TestInitialTurnErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{turns: []turn{{err: errors.New("network down")}}}
	h := newHarness(t, provider, 0)
	h.session.AddUser("go")

	if _, err := h.executor.Execute(context.Background()); err == nil {
		t.Fatal("expected the initial-turn error to propagate")
	}
}

// Completion-check gating: none in iterations 0-2, anchors at 5 and 10,
// always at the cap boundary.
func TestShouldCheckCompletionGate(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, 100)
	e := h.executor

	for _, it := range []int{0, 1, 2, 3, 4, 6, 11, 20, 22} {
		if e.shouldCheckCompletion(it) {
			t.Errorf("iteration %d: unexpected completion check", it)
		}
	}
	for _, it := range []int{5, 10, 30, 50, 77, 97, 98, 99} {
		if !e.shouldCheckCompletion(it) {
			t.Errorf("iteration %d: expected completion check", it)
		}
	}
}

func TestInterpretReply(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantContent  string
		wantComplete bool
	}{
		{"plain text", "hello", "hello", false},
		{"complete with summary", `{"taskComplete": true, "finalSummary": "done", "reasoning": "r"}`, "done", true},
		{"incomplete with summary", `{"taskComplete": false, "finalSummary": "partial", "reasoning": "r"}`, "partial", false},
		{"malformed json passes through", `{"taskComplete": tru`, `{"taskComplete": tru`, false},
		{"unrelated json passes through", `{"foo": 1}`, `{"foo": 1}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, complete := interpretReply(tt.reply)
			if content != tt.wantContent || complete != tt.wantComplete {
				t.Errorf("interpretReply(%q) = (%q, %v), want (%q, %v)",
					tt.reply, content, complete, tt.wantContent, tt.wantComplete)
			}
		})
	}
}

func TestCompletionThresholdTightens(t *testing.T) {
	prev := completionThreshold(0)
	for _, it := range []int{3, 10, 20, 30, 50} {
		cur := completionThreshold(it)
		if cur > prev {
			t.Errorf("threshold widened at %d: %d > %d", it, cur, prev)
		}
		prev = cur
	}
	if completionThreshold(99) != 1 {
		t.Errorf("threshold(99) = %d, want 1", completionThreshold(99))
	}
}

// Mid-loop provider failures keep partial progress: the session retains the
// user message and the tool transcript.
func TestMidLoopErrorPreservesProgress(t *testing.T) {
	dir := t.TempDir()
	provider := &scriptedProvider{turns: []turn{
		{content: "listing", toolCalls: []models.ToolCall{lsCall(t, "call_1", dir)}},
		{err: errors.New("rate limited")},
	}}
	h := newHarness(t, provider, 0)
	h.session.AddUser("go")

	final, err := h.executor.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if final != "listing" {
		t.Errorf("final = %q, want the best available content", final)
	}

	roles := []models.Role{}
	for _, msg := range h.session.Messages() {
		roles = append(roles, msg.Role)
	}
	want := fmt.Sprintf("%v", []models.Role{
		models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleAssistant,
	})
	if fmt.Sprintf("%v", roles) != want {
		t.Errorf("roles = %v, want %s", roles, want)
	}
}
