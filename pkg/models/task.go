package models

import "time"

// TaskStatus represents the state of a user-visible task.
type TaskStatus string

const (
	// TaskInProgress indicates the task is currently executing.
	TaskInProgress TaskStatus = "in_progress"

	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskStatus = "completed"

	// TaskFailed indicates the task terminated with an error.
	TaskFailed TaskStatus = "failed"
)

// Task is a user-visible unit of work spanning a single top-level run
// invocation. A task moves from in_progress to exactly one terminal state.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	// Duration is the wall-clock execution time, set on completion.
	Duration time.Duration `json:"duration,omitempty"`

	// ToolUses counts tool executions attributed to this task.
	ToolUses int `json:"tool_uses,omitempty"`

	// InputTokens and OutputTokens are estimated token counts for the
	// task's provider traffic, set on completion.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// FailureReason holds the error message when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`
}

// IsTerminal returns true if the task reached a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// ToolExecStatus represents the state of a single tool execution.
type ToolExecStatus string

const (
	ToolExecRunning ToolExecStatus = "running"
	ToolExecSuccess ToolExecStatus = "success"
	ToolExecError   ToolExecStatus = "error"
)

// ToolExecution records the lifecycle of one tool run for observability.
// Executions are streamed to the frontend as tool_status notifications and
// retained in the task ledger.
type ToolExecution struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Name      string         `json:"name"`
	Status    ToolExecStatus `json:"status"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
