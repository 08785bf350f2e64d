package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

// SyncCreatives stores each creative and opens one step per creative. Creatives
// that need approval wait for the publisher. The rest go to the reviewer when
// one is configured and straight to the ad server otherwise.
func (s *MediaBuyService) SyncCreatives(ctx context.Context, principal *models.Principal, req SyncCreativesRequest) (env *envelope.Envelope, err error) {
	ctx, span := s.startSpan(ctx, "SyncCreatives", principal.TenantID)
	defer func() { endSpan(span, err) }()

	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, err
	}

	conv, err := s.ledger.EnsureContext(ctx, principal.TenantID, principal.PrincipalID, req.ContextID)
	if err != nil {
		return nil, classify(err)
	}
	adapter := s.adapterFor(ctx, principal.TenantID)
	decision := s.resolver.Resolve(ctx, principal.TenantID, adapter, ToolSyncCreatives)

	resp := SyncCreativesResponse{Creatives: make([]CreativeSyncResult, 0, len(req.Creatives))}
	for _, in := range req.Creatives {
		if in.CreativeID == "" {
			in.CreativeID = "cr_" + uuid.New().String()
		}
		creative := &models.Creative{
			CreativeID:  in.CreativeID,
			TenantID:    principal.TenantID,
			PrincipalID: principal.PrincipalID,
			Name:        in.Name,
			FormatID:    in.FormatID,
			URL:         in.URL,
			CreatedAt:   time.Now().UTC(),
		}
		step, err := s.ledger.CreateStep(ctx, workflow.NewStep{
			TenantID:         principal.TenantID,
			PrincipalID:      principal.PrincipalID,
			ContextID:        conv.ContextID,
			ToolName:         ToolSyncCreatives,
			Request:          in,
			Objects:          []models.ObjectRef{{ObjectType: models.ObjectTypeCreative, ObjectID: creative.CreativeID}},
			PushNotification: req.PushNotificationConfig,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.CreateCreative(ctx, creative); err != nil {
			s.abandon(ctx, step.StepID, err)
			return nil, err
		}

		state, err := s.routeCreative(ctx, step, creative, decision.Required)
		if err != nil {
			s.abandon(ctx, step.StepID, err)
			return nil, err
		}
		resp.Creatives = append(resp.Creatives, CreativeSyncResult{
			CreativeID: creative.CreativeID,
			TaskID:     step.StepID,
			Status:     state,
		})
	}

	s.note(ctx, conv.ContextID, RoleAgent, resp.String())
	return envelope.Wrap(resp, envelope.StatusSubmitted, envelope.WithContextID(conv.ContextID))
}

func (s *MediaBuyService) routeCreative(ctx context.Context, step *models.WorkflowStep, creative *models.Creative, approvalRequired bool) (models.TaskState, error) {
	if approvalRequired {
		if _, err := s.ledger.RequireApproval(ctx, step.StepID); err != nil {
			return "", err
		}
		return models.TaskStateRequiresApproval, nil
	}
	if s.reviewer == nil {
		started, err := s.ledger.Start(ctx, step.StepID)
		if err != nil {
			return "", err
		}
		if err := s.dispatchExecution(ctx, started); err != nil {
			return "", err
		}
		return models.TaskStateWorking, nil
	}

	// the step stays pending while the reviewer runs
	job := workflow.Job{
		Name: "review:" + step.StepID,
		Run: func(ctx context.Context) error {
			return s.review(ctx, step, creative)
		},
	}
	if err := s.dispatcher.Submit(job); err != nil {
		// no reviewer capacity: a human decides instead
		s.logger.Warn("review queue unavailable, escalating creative", "step_id", step.StepID, "error", err)
		if _, err := s.ledger.RequireApproval(ctx, step.StepID); err != nil {
			return "", err
		}
		return models.TaskStateRequiresApproval, nil
	}
	return models.TaskStateSubmitted, nil
}

// review applies the reviewer's verdict. Approval starts execution; rejection
// or a reviewer failure escalates to a human.
func (s *MediaBuyService) review(ctx context.Context, step *models.WorkflowStep, creative *models.Creative) error {
	result, err := s.reviewer.ReviewCreative(ctx, creative)
	if err != nil {
		s.logger.Warn("creative review failed, escalating", "creative_id", creative.CreativeID, "error", err)
		_, err = s.ledger.RequireApproval(ctx, step.StepID)
		return ignoreLostRace(err)
	}

	s.logger.Info("creative reviewed", "creative_id", creative.CreativeID, "decision", result.Decision, "confidence", result.Confidence)
	if result.Decision == ReviewReject {
		_, err = s.ledger.RequireApproval(ctx, step.StepID)
		return ignoreLostRace(err)
	}

	started, err := s.ledger.Start(ctx, step.StepID)
	if err != nil {
		return ignoreLostRace(err)
	}
	return s.execute(ctx, started.TenantID, started.StepID)
}
