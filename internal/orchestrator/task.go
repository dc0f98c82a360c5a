package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/types"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along pending -> running -> {completed|failed}.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskTerminal  = errors.New("task already finished")
	ErrTaskNotActive = errors.New("task is not running")
	ErrChainTooDeep  = errors.New("intent chain too deep")
)

// HandlerError wraps a failure raised by an action handler, or reported
// through Resolve, together with the task it belongs to.
type HandlerError struct {
	TaskID string
	Action string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("action %s (task %s): %v", e.Action, e.TaskID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError is the failure recorded when an action handler panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Task is one dispatch of a resolved intent. Values returned by the
// orchestrator are snapshots.
type Task struct {
	ID         string
	Invocation types.Invocation
	Preference ai.Preference
	Status     Status
	Result     any
	Err        error
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// snapshot copies t for callers outside the task table lock.
func (t *Task) snapshot() *Task {
	cp := *t
	cp.Invocation = t.Invocation.Clone()
	return &cp
}

// DTO converts the task for the HTTP and CLI surfaces.
func (t *Task) DTO() types.Task {
	dto := types.Task{
		Id:         t.ID,
		Action:     t.Invocation.Action,
		Parameters: t.Invocation.Parameters,
		Status:     string(t.Status),
		Result:     t.Result,
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.Err != nil {
		dto.Error = t.Err.Error()
	}
	return dto
}
