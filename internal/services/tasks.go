package services

import (
	"context"

	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

// GetTask returns one of the principal's tasks.
func (s *MediaBuyService) GetTask(ctx context.Context, principal *models.Principal, taskID string) (env *envelope.Envelope, err error) {
	ctx, span := s.startSpan(ctx, "GetTask", principal.TenantID)
	defer func() { endSpan(span, err) }()

	step, err := s.ledger.Get(ctx, taskID)
	if err != nil || step.TenantID != principal.TenantID || step.PrincipalID != principal.PrincipalID {
		return nil, notFound("task", taskID)
	}

	task, err := workflow.TaskFromStep[map[string]any](step)
	if err != nil {
		return nil, err
	}
	opts := []envelope.Option{
		envelope.WithTaskID(task.TaskID),
		envelope.WithMessage(task.Status.Message),
		envelope.WithPushNotificationConfig(step.PushNotification),
	}
	if step.ContextID != nil {
		opts = append(opts, envelope.WithContextID(*step.ContextID))
	}
	return envelope.Wrap(task, envelope.FromTaskState(task.Status.State), opts...)
}

// ListTasks lists the principal's tasks, newest first.
func (s *MediaBuyService) ListTasks(ctx context.Context, principal *models.Principal, req ListTasksRequest) (env *envelope.Envelope, err error) {
	ctx, span := s.startSpan(ctx, "ListTasks", principal.TenantID)
	defer func() { endSpan(span, err) }()

	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, err
	}

	tasks, err := s.listTasks(ctx, repository.StepFilter{
		TenantID:    principal.TenantID,
		PrincipalID: principal.PrincipalID,
		ContextID:   req.ContextID,
	}, req.Status, req.Limit)
	if err != nil {
		return nil, err
	}
	list := TaskList{Tasks: tasks, Count: len(tasks)}

	opts := []envelope.Option{}
	if req.ContextID != "" {
		opts = append(opts, envelope.WithContextID(req.ContextID))
	}
	return envelope.Wrap(list, envelope.StatusCompleted, opts...)
}

// ListTenantTasks lists every step of a tenant for publisher review.
func (s *MediaBuyService) ListTenantTasks(ctx context.Context, tenantID string, states []models.TaskState, limit int) ([]*models.AsyncTask[map[string]any], error) {
	return s.listTasks(ctx, repository.StepFilter{TenantID: tenantID}, states, limit)
}

// listTasks projects the steps matching filter onto tasks in one of states.
// Failed and rejected tasks share a step status, so when only one of them is
// asked for the limit is applied after the projection.
func (s *MediaBuyService) listTasks(ctx context.Context, filter repository.StepFilter, states []models.TaskState, limit int) ([]*models.AsyncTask[map[string]any], error) {
	out := make([]*models.AsyncTask[map[string]any], 0)
	if len(states) > 0 {
		filter.Statuses = stepStatuses(states)
		if len(filter.Statuses) == 0 {
			return out, nil
		}
	}
	exact := stateWanted(states, models.TaskStateFailed) == stateWanted(states, models.TaskStateRejected)
	if exact {
		filter.Limit = limit
	}

	steps, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		task, err := workflow.TaskFromStep[map[string]any](step)
		if err != nil {
			return nil, err
		}
		if !stateWanted(states, task.Status.State) {
			continue
		}
		out = append(out, task)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetTenantStep returns a tenant's step for publisher review.
func (s *MediaBuyService) GetTenantStep(ctx context.Context, tenantID, stepID string) (*models.WorkflowStep, error) {
	step, err := s.ledger.Get(ctx, stepID)
	if err != nil || step.TenantID != tenantID {
		return nil, notFound("task", stepID)
	}
	return step, nil
}

// stepStatuses maps task states onto the step statuses that can produce them.
// States no step can be in map to nothing.
func stepStatuses(states []models.TaskState) []models.StepStatus {
	seen := make(map[models.StepStatus]bool)
	var out []models.StepStatus
	add := func(s models.StepStatus) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, state := range states {
		switch state {
		case models.TaskStateSubmitted:
			add(models.StepStatusPending)
		case models.TaskStateRequiresApproval:
			add(models.StepStatusRequiresApproval)
		case models.TaskStateWorking:
			add(models.StepStatusInProgress)
		case models.TaskStateCompleted:
			add(models.StepStatusCompleted)
		case models.TaskStateFailed, models.TaskStateRejected:
			add(models.StepStatusFailed)
		case models.TaskStateCanceled:
			add(models.StepStatusCanceled)
		}
	}
	return out
}

func stateWanted(states []models.TaskState, state models.TaskState) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
