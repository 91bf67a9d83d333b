// Package observability provides context correlation helpers and engine
// metrics.
package observability

import "context"

type contextKey string

const (
	taskIDKey     contextKey = "task_id"
	toolCallIDKey contextKey = "tool_call_id"
)

// AddTaskID attaches a task id to the context for correlation in logs.
func AddTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// GetTaskID returns the task id attached to the context, if any.
func GetTaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskIDKey).(string); ok {
		return v
	}
	return ""
}

// AddToolCallID attaches a tool-call id to the context.
func AddToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, id)
}

// GetToolCallID returns the tool-call id attached to the context, if any.
func GetToolCallID(ctx context.Context) string {
	if v, ok := ctx.Value(toolCallIDKey).(string); ok {
		return v
	}
	return ""
}
