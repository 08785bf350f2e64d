package workflow

import (
	"encoding/json"
	"fmt"

	"adcp-sales-agent/pkg/models"
)

// TaskState projects a persisted step status onto the protocol task state.
func TaskState(step *models.WorkflowStep) models.TaskState {
	switch step.Status {
	case models.StepStatusPending:
		return models.TaskStateSubmitted
	case models.StepStatusRequiresApproval:
		return models.TaskStateRequiresApproval
	case models.StepStatusInProgress:
		return models.TaskStateWorking
	case models.StepStatusCompleted:
		return models.TaskStateCompleted
	case models.StepStatusFailed:
		if c := step.LastComment(); c != nil && c.Action == models.ActionReject {
			return models.TaskStateRejected
		}
		return models.TaskStateFailed
	case models.StepStatusCanceled:
		return models.TaskStateCanceled
	}
	return models.TaskStateUnknown
}

// TaskFromStep builds the AsyncTask view of step. The result is decoded from
// response_data only once the step has completed.
func TaskFromStep[T any](step *models.WorkflowStep) (*models.AsyncTask[T], error) {
	state := TaskState(step)
	task := &models.AsyncTask[T]{
		TaskID:   step.StepID,
		TaskType: step.ToolName,
		Status: models.TaskStatus{
			State:     state,
			Message:   taskMessage(step, state),
			Timestamp: step.UpdatedAt,
		},
		Error:     step.ErrorMessage,
		CreatedAt: step.CreatedAt,
		UpdatedAt: step.UpdatedAt,
		Metadata: map[string]any{
			"owner": string(step.Owner),
		},
	}
	if step.ContextID != nil {
		task.Metadata["context_id"] = *step.ContextID
	}
	if step.AssignedTo != "" {
		task.Metadata["assigned_to"] = step.AssignedTo
	}

	if state == models.TaskStateCompleted && len(step.ResponseData) > 0 && string(step.ResponseData) != "null" {
		var result T
		if err := json.Unmarshal(step.ResponseData, &result); err != nil {
			return nil, fmt.Errorf("failed to decode result of step %s: %w", step.StepID, err)
		}
		task.Result = &result
	}
	return task, nil
}

func taskMessage(step *models.WorkflowStep, state models.TaskState) string {
	switch state {
	case models.TaskStateSubmitted:
		return fmt.Sprintf("%s submitted", step.ToolName)
	case models.TaskStateRequiresApproval:
		return fmt.Sprintf("%s is awaiting publisher approval", step.ToolName)
	case models.TaskStateWorking:
		return fmt.Sprintf("%s is in progress", step.ToolName)
	case models.TaskStateCompleted:
		return fmt.Sprintf("%s completed", step.ToolName)
	case models.TaskStateRejected:
		return fmt.Sprintf("%s was rejected: %s", step.ToolName, step.ErrorMessage)
	case models.TaskStateFailed:
		return fmt.Sprintf("%s failed: %s", step.ToolName, step.ErrorMessage)
	case models.TaskStateCanceled:
		return fmt.Sprintf("%s was canceled", step.ToolName)
	}
	return ""
}
