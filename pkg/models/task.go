package models

import "time"

// TaskState is the protocol-facing lifecycle state of an asynchronous task.
type TaskState string

const (
	TaskStateSubmitted        TaskState = "submitted"
	TaskStateWorking          TaskState = "working"
	TaskStateInputRequired    TaskState = "input_required"
	TaskStateRequiresApproval TaskState = "requires_approval"
	TaskStateCompleted        TaskState = "completed"
	TaskStateFailed           TaskState = "failed"
	TaskStateCanceled         TaskState = "canceled"
	TaskStateRejected         TaskState = "rejected"
	TaskStateAuthRequired     TaskState = "auth_required"
	TaskStateUnknown          TaskState = "unknown"
)

var knownTaskStates = map[TaskState]struct{}{
	TaskStateSubmitted:        {},
	TaskStateWorking:          {},
	TaskStateInputRequired:    {},
	TaskStateRequiresApproval: {},
	TaskStateCompleted:        {},
	TaskStateFailed:           {},
	TaskStateCanceled:         {},
	TaskStateRejected:         {},
	TaskStateAuthRequired:     {},
	TaskStateUnknown:          {},
}

// ParseTaskState maps an external state string to a TaskState. Anything
// unrecognized becomes TaskStateUnknown.
func ParseTaskState(s string) TaskState {
	if _, ok := knownTaskStates[TaskState(s)]; ok {
		return TaskState(s)
	}
	return TaskStateUnknown
}

// IsTerminal reports whether state is one a task never leaves.
func IsTerminal(state TaskState) bool {
	switch state {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled, TaskStateRejected:
		return true
	}
	return false
}

// EnvelopeStatus returns the wire status used when this state is reported in a
// protocol envelope.
func (s TaskState) EnvelopeStatus() string {
	switch s {
	case TaskStateWorking:
		return "working"
	case TaskStateInputRequired:
		return "input-required"
	case TaskStateCompleted:
		return "completed"
	case TaskStateFailed:
		return "failed"
	case TaskStateCanceled:
		return "canceled"
	case TaskStateRejected:
		return "rejected"
	case TaskStateAuthRequired:
		return "auth-required"
	default:
		// submitted, requires_approval and unknown all read as "queued" to the buyer.
		return "submitted"
	}
}

// Progress reports partial completion of a long-running task.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// TaskStatus is an immutable snapshot of a task's state. A new value is built on
// every transition.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Progress  *Progress `json:"progress,omitempty"`
}

// NewTaskStatus returns a status for state stamped with the current time.
func NewTaskStatus(state TaskState, message string) TaskStatus {
	return TaskStatus{State: state, Message: message, Timestamp: time.Now().UTC()}
}

func (s TaskStatus) IsComplete() bool { return IsTerminal(s.State) }

func (s TaskStatus) IsSuccess() bool { return s.State == TaskStateCompleted }

// NeedsInput reports whether the task is blocked on someone outside the agent.
func (s TaskStatus) NeedsInput() bool {
	switch s.State {
	case TaskStateInputRequired, TaskStateRequiresApproval, TaskStateAuthRequired:
		return true
	}
	return false
}

// AsyncTask is the protocol-facing handle over a workflow step, parameterized by
// the type of its eventual result.
type AsyncTask[T any] struct {
	TaskID    string         `json:"task_id"`
	TaskType  string         `json:"task_type"`
	Status    TaskStatus     `json:"status"`
	Result    *T             `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewAsyncTask returns a task in the submitted state.
func NewAsyncTask[T any](taskID, taskType string) *AsyncTask[T] {
	now := time.Now().UTC()
	return &AsyncTask[T]{
		TaskID:    taskID,
		TaskType:  taskType,
		Status:    TaskStatus{State: TaskStateSubmitted, Timestamp: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (t *AsyncTask[T]) IsComplete() bool { return t.Status.IsComplete() }

func (t *AsyncTask[T]) IsSuccess() bool { return t.Status.IsSuccess() }

func (t *AsyncTask[T]) NeedsInput() bool { return t.Status.NeedsInput() }

// Transition replaces the task's status and refreshes UpdatedAt. It does not
// judge whether the transition is legal.
func (t *AsyncTask[T]) Transition(status TaskStatus) {
	t.Status = status
	if status.Timestamp.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	} else {
		t.UpdatedAt = status.Timestamp
	}
}

// Complete stores result and moves the task to completed.
func (t *AsyncTask[T]) Complete(result T, message string) {
	t.Result = &result
	t.Transition(NewTaskStatus(TaskStateCompleted, message))
}

// Fail records msg and moves the task to failed.
func (t *AsyncTask[T]) Fail(msg string) {
	t.Error = msg
	t.Transition(NewTaskStatus(TaskStateFailed, msg))
}
