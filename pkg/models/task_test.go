package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	terminal := []TaskState{TaskStateCompleted, TaskStateFailed, TaskStateCanceled, TaskStateRejected}
	for _, s := range terminal {
		assert.True(t, IsTerminal(s), s)
	}

	open := []TaskState{
		TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired,
		TaskStateRequiresApproval, TaskStateAuthRequired, TaskStateUnknown,
	}
	for _, s := range open {
		assert.False(t, IsTerminal(s), s)
	}
}

func TestTaskStatusPredicates(t *testing.T) {
	tests := []struct {
		state      TaskState
		complete   bool
		success    bool
		needsInput bool
	}{
		{TaskStateSubmitted, false, false, false},
		{TaskStateWorking, false, false, false},
		{TaskStateInputRequired, false, false, true},
		{TaskStateRequiresApproval, false, false, true},
		{TaskStateAuthRequired, false, false, true},
		{TaskStateCompleted, true, true, false},
		{TaskStateFailed, true, false, false},
		{TaskStateCanceled, true, false, false},
		{TaskStateRejected, true, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			s := NewTaskStatus(tt.state, "")
			assert.Equal(t, tt.complete, s.IsComplete())
			assert.Equal(t, tt.success, s.IsSuccess())
			assert.Equal(t, tt.needsInput, s.NeedsInput())
		})
	}
}

func TestParseTaskState(t *testing.T) {
	assert.Equal(t, TaskStateWorking, ParseTaskState("working"))
	assert.Equal(t, TaskStateUnknown, ParseTaskState("pending_approval"))
	assert.Equal(t, TaskStateUnknown, ParseTaskState(""))
}

func TestEnvelopeStatus(t *testing.T) {
	assert.Equal(t, "submitted", TaskStateRequiresApproval.EnvelopeStatus())
	assert.Equal(t, "input-required", TaskStateInputRequired.EnvelopeStatus())
	assert.Equal(t, "auth-required", TaskStateAuthRequired.EnvelopeStatus())
	assert.Equal(t, "completed", TaskStateCompleted.EnvelopeStatus())
}

func TestAsyncTask(t *testing.T) {
	task := NewAsyncTask[MediaBuyStatus]("step_1", "create_media_buy")
	assert.Equal(t, TaskStateSubmitted, task.Status.State)
	assert.False(t, task.IsComplete())
	assert.Nil(t, task.Result)

	before := task.Status
	createdAt := task.CreatedAt

	later := TaskStatus{State: TaskStateWorking, Timestamp: createdAt.Add(time.Second)}
	task.Transition(later)
	assert.Equal(t, TaskStateWorking, task.Status.State)
	assert.Equal(t, later.Timestamp, task.UpdatedAt)
	assert.Equal(t, TaskStateSubmitted, before.State, "previous snapshot must be untouched")

	task.Complete(MediaBuyStatus{MediaBuyID: "mb_1"}, "done")
	assert.True(t, task.IsComplete())
	assert.True(t, task.IsSuccess())
	assert.Equal(t, "mb_1", task.Result.MediaBuyID)
	assert.False(t, task.UpdatedAt.Before(createdAt))
}

func TestAsyncTask_Fail(t *testing.T) {
	task := NewAsyncTask[string]("step_2", "sync_creatives")
	task.Fail("adapter unavailable")

	assert.True(t, task.IsComplete())
	assert.False(t, task.IsSuccess())
	assert.Equal(t, "adapter unavailable", task.Error)
}
