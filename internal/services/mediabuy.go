package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"adcp-sales-agent/internal/adapters"
	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

// CreateMediaBuy records the workflow step and then the buy, then either parks
// the step for publisher approval or queues it for execution. Either way the buyer
// gets a submitted envelope carrying the task id to poll.
func (s *MediaBuyService) CreateMediaBuy(ctx context.Context, principal *models.Principal, req CreateMediaBuyRequest) (env *envelope.Envelope, err error) {
	ctx, span := s.startSpan(ctx, "CreateMediaBuy", principal.TenantID)
	defer func() { endSpan(span, err) }()

	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, err
	}

	conv, err := s.ledger.EnsureContext(ctx, principal.TenantID, principal.PrincipalID, req.ContextID)
	if err != nil {
		return nil, classify(err)
	}

	mb := &models.MediaBuy{
		MediaBuyID:  "mb_" + uuid.New().String(),
		TenantID:    principal.TenantID,
		PrincipalID: principal.PrincipalID,
		ContextID:   conv.ContextID,
		BuyerRef:    req.BuyerRef,
		Budget:      req.Budget,
		Currency:    req.Currency,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Packages:    req.Packages,
		CreatedAt:   time.Now().UTC(),
	}
	for i := range mb.Packages {
		if mb.Packages[i].PackageID == "" {
			mb.Packages[i].PackageID = "pkg_" + uuid.New().String()[:8]
		}
	}
	step, err := s.ledger.CreateStep(ctx, workflow.NewStep{
		TenantID:         principal.TenantID,
		PrincipalID:      principal.PrincipalID,
		ContextID:        conv.ContextID,
		ToolName:         ToolCreateMediaBuy,
		Request:          req,
		Objects:          []models.ObjectRef{{ObjectType: models.ObjectTypeMediaBuy, ObjectID: mb.MediaBuyID}},
		PushNotification: req.PushNotificationConfig,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateMediaBuy(ctx, mb); err != nil {
		s.abandon(ctx, step.StepID, err)
		return nil, err
	}

	state, err := s.route(ctx, step, s.adapterFor(ctx, principal.TenantID))
	if err != nil {
		s.abandon(ctx, step.StepID, err)
		return nil, err
	}

	resp := CreateMediaBuyResponse{
		MediaBuyID:       mb.MediaBuyID,
		BuyerRef:         mb.BuyerRef,
		Status:           state,
		TaskID:           step.StepID,
		PollAfterSeconds: s.pollAfter,
	}
	s.note(ctx, conv.ContextID, RoleAgent, resp.String())
	s.logger.Info("media buy submitted", "media_buy_id", mb.MediaBuyID, "step_id", step.StepID, "state", state)
	return envelope.Wrap(resp, envelope.StatusSubmitted,
		envelope.WithTaskID(step.StepID),
		envelope.WithContextID(conv.ContextID),
		envelope.WithPushNotificationConfig(req.PushNotificationConfig))
}

// route moves a freshly created step to requires_approval or in_progress.
func (s *MediaBuyService) route(ctx context.Context, step *models.WorkflowStep, adapter adapters.Adapter) (models.TaskState, error) {
	decision := s.resolver.Resolve(ctx, step.TenantID, adapter, step.ToolName)
	if decision.Required {
		if _, err := s.ledger.RequireApproval(ctx, step.StepID); err != nil {
			return "", err
		}
		return models.TaskStateRequiresApproval, nil
	}

	started, err := s.ledger.Start(ctx, step.StepID)
	if err != nil {
		return "", err
	}
	if err := s.dispatchExecution(ctx, started); err != nil {
		return "", err
	}
	return models.TaskStateWorking, nil
}

// CheckMediaBuyStatus reports the state of the latest step that touched the buy.
func (s *MediaBuyService) CheckMediaBuyStatus(ctx context.Context, principal *models.Principal, mediaBuyID string) (env *envelope.Envelope, err error) {
	ctx, span := s.startSpan(ctx, "CheckMediaBuyStatus", principal.TenantID)
	defer func() { endSpan(span, err) }()

	mb, err := s.store.GetMediaBuy(ctx, principal.TenantID, mediaBuyID)
	if err != nil || mb.PrincipalID != principal.PrincipalID {
		return nil, notFound("media buy", mediaBuyID)
	}

	steps, err := s.ledger.StepsForObject(ctx, models.ObjectTypeMediaBuy, mediaBuyID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, notFound("workflow for media buy", mediaBuyID)
	}
	latest := steps[0]

	task, err := workflow.TaskFromStep[adapters.Result](latest)
	if err != nil {
		return nil, err
	}
	status := models.MediaBuyStatus{
		MediaBuyID:   mb.MediaBuyID,
		BuyerRef:     mb.BuyerRef,
		Status:       task.Status.State,
		TaskID:       latest.StepID,
		ErrorMessage: latest.ErrorMessage,
	}
	if task.Result != nil {
		status.PlatformOrderID = task.Result.PlatformID
	}

	return envelope.Wrap(status, envelope.FromTaskState(status.Status),
		envelope.WithTaskID(latest.StepID),
		envelope.WithContextID(mb.ContextID))
}
