package services

import (
	"context"
	"errors"
	"fmt"

	"adcp-sales-agent/internal/adapters"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

// Approve grants a pending approval and queues the step for execution.
func (s *MediaBuyService) Approve(ctx context.Context, tenantID, stepID, approver, comment string) (step *models.WorkflowStep, err error) {
	ctx, span := s.startSpan(ctx, "Approve", tenantID)
	defer func() { endSpan(span, err) }()

	if _, err := s.GetTenantStep(ctx, tenantID, stepID); err != nil {
		return nil, err
	}
	step, err = s.ledger.Approve(ctx, stepID, approver, comment)
	if err != nil {
		return nil, classify(err)
	}
	if err := s.dispatchExecution(ctx, step); err != nil {
		return nil, err
	}
	s.logger.Info("step approved", "step_id", stepID, "approver", approver)
	return step, nil
}

// Reject refuses a pending approval.
func (s *MediaBuyService) Reject(ctx context.Context, tenantID, stepID, approver, reason string) (step *models.WorkflowStep, err error) {
	ctx, span := s.startSpan(ctx, "Reject", tenantID)
	defer func() { endSpan(span, err) }()

	if _, err := s.GetTenantStep(ctx, tenantID, stepID); err != nil {
		return nil, err
	}
	step, err = s.ledger.Reject(ctx, stepID, approver, reason)
	if err != nil {
		return nil, classify(err)
	}
	if step.ContextID != nil {
		s.note(ctx, *step.ContextID, RolePublisher, fmt.Sprintf("%s rejected: %s", step.ToolName, reason))
	}
	s.logger.Info("step rejected", "step_id", stepID, "approver", approver)
	return step, nil
}

// Cancel abandons a step. An adapter call already in flight is not
// interrupted; its outcome is discarded.
func (s *MediaBuyService) Cancel(ctx context.Context, tenantID, stepID, actor, reason string) (step *models.WorkflowStep, err error) {
	ctx, span := s.startSpan(ctx, "Cancel", tenantID)
	defer func() { endSpan(span, err) }()

	if _, err := s.GetTenantStep(ctx, tenantID, stepID); err != nil {
		return nil, err
	}
	step, err = s.ledger.Cancel(ctx, stepID, actor, reason)
	if err != nil {
		return nil, classify(err)
	}
	return step, nil
}

// HandleAdapterCallback records an ad server's asynchronous result.
func (s *MediaBuyService) HandleAdapterCallback(ctx context.Context, cb AdapterCallback) (step *models.WorkflowStep, err error) {
	ctx, span := s.startSpan(ctx, "HandleAdapterCallback", "")
	defer func() { endSpan(span, err) }()

	if err := s.validate.StructCtx(ctx, cb); err != nil {
		return nil, err
	}

	if cb.Status == string(models.StepStatusCompleted) {
		step, err = s.ledger.Complete(ctx, cb.StepID, adapters.Result{
			PlatformID: cb.PlatformID,
			Status:     "active",
			Data:       cb.Data,
		})
	} else {
		msg := cb.ErrorMessage
		if msg == "" {
			msg = "ad server reported failure"
		}
		step, err = s.ledger.Fail(ctx, cb.StepID, msg)
	}
	if errors.Is(err, workflow.ErrConcurrentTransition) {
		s.logger.Warn("discarding adapter callback for step transitioned concurrently", "step_id", cb.StepID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return step, nil
}
