// Package agent implements the multi-turn execution loop: send the
// conversation to the provider, dispatch the tool calls it emits, feed the
// results back, and repeat until the model declares the task complete or
// the loop cap fires.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quillengine/quill/internal/llm"
	"github.com/quillengine/quill/internal/observability"
	"github.com/quillengine/quill/internal/session"
	"github.com/quillengine/quill/internal/tasks"
	"github.com/quillengine/quill/internal/tools"
	"github.com/quillengine/quill/pkg/models"
)

// DefaultMaxLoops caps the tool-call loop.
const DefaultMaxLoops = 100

// completionCheckWindow is how close to the cap every turn becomes a
// completion check. The turn at MaxLoops-1 is always a check.
const completionCheckWindow = 2

// previewLimit truncates tool output in progress events.
const previewLimit = 200

// Options configures an Executor.
type Options struct {
	// Provider is the selected provider facade (required).
	Provider *llm.Client

	// Registry is the process-wide tool registry (required).
	Registry *tools.Registry

	// Session is the preloaded conversation state (required). The executor
	// is its only writer during a run.
	Session *session.Session

	// Ledger records tool executions; optional.
	Ledger *tasks.Ledger

	// TaskID attributes tool executions to the current task.
	TaskID string

	// Progress receives opaque human-readable progress strings; optional.
	Progress func(string)

	// Notify receives structured (method, params) notifications; optional.
	Notify func(method string, params any)

	// Cancelled is polled between iterations for cooperative cancel;
	// optional.
	Cancelled func() bool

	// MaxLoops overrides DefaultMaxLoops when positive.
	MaxLoops int

	Logger *slog.Logger
}

// Usage aggregates per-run accounting for the task ledger.
type Usage struct {
	ToolUses     int
	InputTokens  int
	OutputTokens int
	Iterations   int
}

// Executor runs the agent loop for one top-level query.
type Executor struct {
	provider  *llm.Client
	registry  *tools.Registry
	session   *session.Session
	ledger    *tasks.Ledger
	taskID    string
	progress  func(string)
	notify    func(string, any)
	cancelled func() bool
	maxLoops  int
	logger    *slog.Logger

	usage Usage
}

// New creates an executor.
func New(opts Options) (*Executor, error) {
	if opts.Provider == nil || opts.Registry == nil || opts.Session == nil {
		return nil, errors.New("agent: provider, registry, and session are required")
	}
	maxLoops := opts.MaxLoops
	if maxLoops <= 0 {
		maxLoops = DefaultMaxLoops
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		provider:  opts.Provider,
		registry:  opts.Registry,
		session:   opts.Session,
		ledger:    opts.Ledger,
		taskID:    opts.TaskID,
		progress:  opts.Progress,
		notify:    opts.Notify,
		cancelled: opts.Cancelled,
		maxLoops:  maxLoops,
		logger:    logger,
	}, nil
}

// Usage returns the run's accounting, valid after Execute returns.
func (e *Executor) Usage() Usage {
	return e.usage
}

// Execute runs the loop and returns the final assistant text. The session
// retains every message produced, including partial progress on failure.
//
// Provider errors on the initial turn propagate to the caller. A provider
// error later in the loop ends the run with the best available content, or
// propagates when the model has produced no content yet.
func (e *Executor) Execute(ctx context.Context) (string, error) {
	ctx = observability.AddTaskID(ctx, e.taskID)

	opts := models.CompletionOptions{
		Temperature:    models.Float(0.5),
		TopP:           models.Float(0.95),
		MaxTokens:      models.Int(4096),
		Tools:          e.registry.Definitions(),
		RequireToolUse: false,
	}

	e.progressf("[wait] Sending request to AI assistant...")
	content, toolCalls, err := e.complete(ctx, opts)
	if err != nil {
		return "", err
	}

	if len(toolCalls) == 0 {
		e.session.AddAssistant(content)
		return content, nil
	}

	final, err := e.runLoop(ctx, opts, content, toolCalls)
	if err != nil {
		return "", err
	}
	e.session.AddAssistant(final)
	return final, nil
}

// runLoop drives the tool-call iterations after the initial turn produced
// tool calls.
func (e *Executor) runLoop(ctx context.Context, opts models.CompletionOptions, content string, toolCalls []models.ToolCall) (string, error) {
	summaryRequested := false
	currentContent := content

	for iteration := 0; iteration < e.maxLoops; iteration++ {
		e.usage.Iterations = iteration + 1
		observability.ExecutorIterations.Observe(float64(iteration))

		if e.cancelled != nil && e.cancelled() {
			e.progressf("Run cancelled; returning best available content.")
			return currentContent, nil
		}

		if len(toolCalls) > 0 {
			// Record the assistant turn with its tool calls, then one
			// tool-role message per result, in emission order.
			e.session.Add(models.Message{
				Role:      models.RoleAssistant,
				Content:   currentContent,
				ToolCalls: toolCalls,
			})

			e.progressf("Executing %d tool calls...", len(toolCalls))
			results := e.dispatchToolCalls(ctx, toolCalls)
			for _, result := range results {
				e.session.Add(models.ToolMessage(result.ToolCallID, result.Output))
			}
			e.progressf("[wait] Processing %d tool results...", len(results))
		}

		nextOpts := opts
		check := e.shouldCheckCompletion(iteration) || len(toolCalls) == 0
		if check {
			nextOpts.JSONSchema = completionCheckSchema
			nextOpts.RequireToolUse = false
			summaryRequested = true
		}

		e.progressf("[wait] Sending request to AI assistant...")
		reply, nextCalls, err := e.complete(ctx, nextOpts)
		if err != nil {
			// A mid-loop provider error ends the run: keep the transcript and
			// return the best available content, or the error when there is
			// no content yet.
			e.progressf("[error] Provider error: %v", err)
			e.logger.Warn("provider error mid-loop", "iteration", iteration, "error", err)
			if currentContent != "" {
				return currentContent, nil
			}
			return "", err
		}

		text, complete := interpretReply(reply)
		currentContent = text
		toolCalls = nextCalls

		if complete {
			return text, nil
		}
		if len(nextCalls) == 0 && summaryRequested {
			return text, nil
		}
		if iteration == e.maxLoops-1 {
			// Cap reached: the always-issued completion check above is the
			// final word even when the model refuses to stop.
			return text, nil
		}
	}

	return currentContent, nil
}

// shouldCheckCompletion gates completion checks: always near the cap, at the
// fixed anchor points, never otherwise in the first three iterations, and
// then by the tightening divisibility threshold. With a cap of 5 or less the
// near-cap window reaches into the first three iterations.
func (e *Executor) shouldCheckCompletion(iteration int) bool {
	if iteration >= e.maxLoops-1-completionCheckWindow {
		return true
	}
	if iteration == 5 || iteration == 10 {
		return true
	}
	if iteration < 3 {
		return false
	}
	return iteration%completionThreshold(iteration) == 0
}

// complete performs one provider call with metrics and token accounting.
func (e *Executor) complete(ctx context.Context, opts models.CompletionOptions) (string, []models.ToolCall, error) {
	messages := e.session.GetForAPI()
	e.usage.InputTokens += models.EstimateTokens(messages)

	content, toolCalls, err := e.provider.CompleteWithTools(ctx, messages, opts, nil)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ProviderRequests.WithLabelValues(string(e.provider.Kind()), outcome).Inc()
	if err != nil {
		return "", nil, err
	}

	e.usage.OutputTokens += len(content) / 4
	return content, toolCalls, nil
}

// dispatchToolCalls executes the calls in emission order, converting parse
// and execution failures into model-visible error results.
func (e *Executor) dispatchToolCalls(ctx context.Context, toolCalls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(toolCalls))

	for i, call := range toolCalls {
		e.progressf("[tool] Running tool %d of %d: %s...", i+1, len(toolCalls), call.Name)

		resultID := models.ToolResultID(call, i)
		callCtx := observability.AddToolCallID(ctx, resultID)

		exec := e.startExecution(call)
		output, err := e.registry.Execute(callCtx, call)

		if err == nil {
			e.usage.ToolUses++
			observability.ToolExecutions.WithLabelValues(call.Name, "success").Inc()
			e.progressf("[success] Tool result: %s", preview(output))
			e.finishExecution(exec, models.ToolExecSuccess, preview(output))
		} else {
			var parseErr *tools.ParseError
			if errors.As(err, &parseErr) {
				output = fmt.Sprintf("ERROR PARSING TOOL CALL: %s. Please check the format of your arguments and try again.", parseErr.Message)
			} else {
				output = fmt.Sprintf("ERROR EXECUTING TOOL: %v", err)
			}
			e.usage.ToolUses++
			observability.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
			e.progressf("[error] %s", preview(output))
			e.finishExecution(exec, models.ToolExecError, preview(output))
		}

		results = append(results, models.ToolResult{
			ToolCallID: resultID,
			Output:     output,
		})
	}

	return results
}

// startExecution records the tool run in the ledger and emits the
// "started" tool_status notification.
func (e *Executor) startExecution(call models.ToolCall) *models.ToolExecution {
	if e.ledger == nil {
		return nil
	}
	description := fmt.Sprintf("Running %s", call.Name)
	exec := e.ledger.StartToolExecution(e.taskID, call.Name, description, map[string]any{
		"description": description,
	})
	if e.notify != nil {
		e.notify("tool_status", map[string]any{"type": "started", "execution": exec})
	}
	return exec
}

// finishExecution records the outcome and emits the "updated" tool_status
// notification.
func (e *Executor) finishExecution(exec *models.ToolExecution, status models.ToolExecStatus, message string) {
	if e.ledger == nil || exec == nil {
		return
	}
	updated, err := e.ledger.FinishToolExecution(exec.ID, status, message)
	if err != nil {
		e.logger.Warn("failed to record tool execution outcome", "error", err)
		return
	}
	if e.notify != nil {
		e.notify("tool_status", map[string]any{"type": "updated", "execution": updated})
	}
}

func (e *Executor) progressf(format string, args ...any) {
	if e.progress == nil {
		return
	}
	e.progress(fmt.Sprintf(format, args...))
}

func preview(output string) string {
	if len(output) > previewLimit {
		return output[:previewLimit] + "... (truncated)"
	}
	return output
}
