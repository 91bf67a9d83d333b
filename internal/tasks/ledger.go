// Package tasks implements the lifecycle ledger for user-visible tasks and
// their tool executions. One task is opened per top-level run invocation
// and moves from in_progress to exactly one terminal state.
package tasks

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillengine/quill/pkg/models"
)

// ErrTaskNotFound is returned when a task id is unknown.
var ErrTaskNotFound = errors.New("tasks: task not found")

// ErrAlreadyTerminal is returned when a second terminal transition is
// attempted on a task.
var ErrAlreadyTerminal = errors.New("tasks: task already in a terminal state")

// Ledger is an in-memory task and tool-execution store. Safe for
// concurrent use.
type Ledger struct {
	mu         sync.RWMutex
	tasks      map[string]*models.Task
	order      []string
	executions map[string]*models.ToolExecution
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		tasks:      make(map[string]*models.Task),
		executions: make(map[string]*models.ToolExecution),
	}
}

// Begin opens a task for a user query and returns it in_progress.
func (l *Ledger) Begin(description string) *models.Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	task := &models.Task{
		ID:          uuid.NewString(),
		Description: description,
		Status:      models.TaskInProgress,
		CreatedAt:   time.Now(),
	}
	l.tasks[task.ID] = task
	l.order = append(l.order, task.ID)
	return cloneTask(task)
}

// Complete moves a task to its completed terminal state.
func (l *Ledger) Complete(id string, duration time.Duration, toolUses, inputTokens, outputTokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if task.IsTerminal() {
		return ErrAlreadyTerminal
	}

	now := time.Now()
	task.Status = models.TaskCompleted
	task.FinishedAt = &now
	task.Duration = duration
	task.ToolUses = toolUses
	task.InputTokens = inputTokens
	task.OutputTokens = outputTokens
	return nil
}

// Fail moves a task to its failed terminal state with the given reason.
func (l *Ledger) Fail(id, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if task.IsTerminal() {
		return ErrAlreadyTerminal
	}

	now := time.Now()
	task.Status = models.TaskFailed
	task.FinishedAt = &now
	task.FailureReason = reason
	return nil
}

// Get returns a task by id.
func (l *Ledger) Get(id string) (*models.Task, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	task, ok := l.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// List returns all tasks, newest first.
func (l *Ledger) List() []*models.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Task, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		out = append(out, cloneTask(l.tasks[l.order[i]]))
	}
	return out
}

// StartToolExecution records the start of a tool run under a task and
// returns the execution record for notification.
func (l *Ledger) StartToolExecution(taskID, name, message string, metadata map[string]any) *models.ToolExecution {
	l.mu.Lock()
	defer l.mu.Unlock()

	exec := &models.ToolExecution{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Name:      name,
		Status:    models.ToolExecRunning,
		StartTime: time.Now(),
		Message:   message,
		Metadata:  metadata,
	}
	l.executions[exec.ID] = exec

	if task, ok := l.tasks[taskID]; ok && !task.IsTerminal() {
		task.ToolUses++
	}
	return cloneExecution(exec)
}

// FinishToolExecution records the outcome of a tool run.
func (l *Ledger) FinishToolExecution(id string, status models.ToolExecStatus, message string) (*models.ToolExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exec, ok := l.executions[id]
	if !ok {
		return nil, errors.New("tasks: tool execution not found")
	}

	now := time.Now()
	exec.Status = status
	exec.EndTime = &now
	exec.Message = message
	return cloneExecution(exec), nil
}

// Executions returns the tool executions recorded for a task, in start
// order.
func (l *Ledger) Executions(taskID string) []*models.ToolExecution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.ToolExecution
	for _, exec := range l.executions {
		if exec.TaskID == taskID {
			out = append(out, cloneExecution(exec))
		}
	}
	sortExecutions(out)
	return out
}

func sortExecutions(execs []*models.ToolExecution) {
	for i := 1; i < len(execs); i++ {
		for j := i; j > 0 && execs[j].StartTime.Before(execs[j-1].StartTime); j-- {
			execs[j], execs[j-1] = execs[j-1], execs[j]
		}
	}
}

func cloneTask(t *models.Task) *models.Task {
	clone := *t
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		clone.FinishedAt = &finished
	}
	return &clone
}

func cloneExecution(e *models.ToolExecution) *models.ToolExecution {
	clone := *e
	if e.EndTime != nil {
		end := *e.EndTime
		clone.EndTime = &end
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
