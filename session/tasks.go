package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/concordlabs/concord/core"
)

// Task is one in-flight request for a session
type Task struct {
	SessionID string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// TaskManager owns per-session task lifecycle: at most one active task
// per session, cooperative cancellation, and clear semantics. The mutex
// guards only map mutation, never tool work.
type TaskManager struct {
	mu     sync.Mutex
	active map[string]*Task
	logger core.Logger
}

// NewTaskManager creates a task manager
func NewTaskManager() *TaskManager {
	return &TaskManager{
		active: make(map[string]*Task),
		logger: &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this manager
func (tm *TaskManager) SetLogger(logger core.Logger) {
	if logger != nil {
		tm.logger = logger
	}
}

// Submit atomically checks for an active task and registers a new one.
// Work runs on its own goroutine with a cancellable context; the
// registration is removed when run returns. A second submit during
// overlap fails with ErrSessionBusy.
func (tm *TaskManager) Submit(sessionID string, run func(ctx context.Context)) error {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		SessionID: sessionID,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	tm.mu.Lock()
	if _, busy := tm.active[sessionID]; busy {
		tm.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", core.ErrSessionBusy, sessionID)
	}
	tm.active[sessionID] = task
	tm.mu.Unlock()

	tm.logger.Debug("Task started", map[string]interface{}{
		"operation":  "task_submit",
		"session_id": sessionID,
	})

	go func() {
		defer func() {
			tm.complete(sessionID, task)
			cancel()
			close(task.done)
		}()
		run(ctx)
	}()
	return nil
}

// Cancel fires the session's cancel signal if a task is active.
// It does not wait; repeated calls are idempotent.
func (tm *TaskManager) Cancel(sessionID string) bool {
	tm.mu.Lock()
	task, ok := tm.active[sessionID]
	tm.mu.Unlock()
	if !ok {
		return false
	}
	task.cancel()
	tm.logger.Info("Task cancelled", map[string]interface{}{
		"operation":  "task_cancel",
		"session_id": sessionID,
	})
	return true
}

// Clear cancels any active task, waits for its cleanup to finish, then
// resets the session memory. Lock order is manager then memory; the
// manager lock is never held while waiting.
func (tm *TaskManager) Clear(ctx context.Context, sessionID string, memory *Memory) error {
	tm.mu.Lock()
	task, ok := tm.active[sessionID]
	tm.mu.Unlock()

	if ok {
		task.cancel()
		select {
		case <-task.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	memory.Clear()
	return nil
}

// IsActive reports whether the session has an in-flight task
func (tm *TaskManager) IsActive(sessionID string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.active[sessionID]
	return ok
}

// complete removes the registration; only the task that registered it
// may remove it, so a completed task never evicts its successor.
func (tm *TaskManager) complete(sessionID string, task *Task) {
	tm.mu.Lock()
	if current, ok := tm.active[sessionID]; ok && current == task {
		delete(tm.active, sessionID)
	}
	tm.mu.Unlock()

	tm.logger.Debug("Task completed", map[string]interface{}{
		"operation":  "task_complete",
		"session_id": sessionID,
	})
}
