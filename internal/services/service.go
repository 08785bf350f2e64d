// Package services implements the buyer and publisher operations of the sales
// agent on top of the workflow ledger.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"adcp-sales-agent/internal/adapters"
	"adcp-sales-agent/internal/approval"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

// Store is the object persistence the service needs beyond the ledger.
type Store interface {
	repository.MediaBuyStore
	repository.CreativeStore
}

// AdapterSource resolves a tenant's ad server.
type AdapterSource interface {
	For(ctx context.Context, tenantID string) (adapters.Adapter, error)
}

// Dispatcher accepts background jobs.
type Dispatcher interface {
	Submit(job workflow.Job) error
}

// Deps are the collaborators of MediaBuyService.
type Deps struct {
	Store      Store
	Ledger     *workflow.Ledger
	Resolver   *approval.Resolver
	Adapters   AdapterSource
	Dispatcher Dispatcher
	Reviewer   CreativeReviewer // optional
	Logger     *logging.Logger

	// PollAfterSeconds is the advisory polling interval returned with
	// asynchronous responses.
	PollAfterSeconds int
}

// MediaBuyService handles buyer tool calls and publisher workflow actions.
type MediaBuyService struct {
	store      Store
	ledger     *workflow.Ledger
	resolver   *approval.Resolver
	adapters   AdapterSource
	dispatcher Dispatcher
	reviewer   CreativeReviewer
	logger     *logging.Logger
	validate   *validator.Validate
	tracer     trace.Tracer
	pollAfter  int
}

// NewMediaBuyService creates a new MediaBuyService.
func NewMediaBuyService(d Deps) *MediaBuyService {
	return &MediaBuyService{
		store:      d.Store,
		ledger:     d.Ledger,
		resolver:   d.Resolver,
		adapters:   d.Adapters,
		dispatcher: d.Dispatcher,
		reviewer:   d.Reviewer,
		logger:     d.Logger.With("module", "media-buy-service"),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		tracer:     otel.Tracer("adcp-sales-agent/services"),
		pollAfter:  d.PollAfterSeconds,
	}
}

func (s *MediaBuyService) startSpan(ctx context.Context, name, tenantID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "MediaBuyService."+name, trace.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// adapterFor returns the tenant's adapter, or nil when it cannot be built. A
// nil adapter never requires approval by itself; tenant policy still applies.
func (s *MediaBuyService) adapterFor(ctx context.Context, tenantID string) adapters.Adapter {
	a, err := s.adapters.For(ctx, tenantID)
	if err != nil {
		s.logger.Warn("adapter unavailable", "tenant_id", tenantID, "error", err)
		return nil
	}
	return a
}

// dispatchExecution queues the adapter call for a step already in progress. A
// step that cannot be queued is failed.
func (s *MediaBuyService) dispatchExecution(ctx context.Context, step *models.WorkflowStep) error {
	job := workflow.Job{
		Name: step.ToolName + ":" + step.StepID,
		Run: func(ctx context.Context) error {
			return s.execute(ctx, step.TenantID, step.StepID)
		},
	}
	if err := s.dispatcher.Submit(job); err != nil {
		if _, failErr := s.ledger.Fail(ctx, step.StepID, "execution could not be scheduled: "+err.Error()); failErr != nil {
			s.logger.Error("failed to record scheduling failure", "step_id", step.StepID, "error", failErr)
		}
		return fmt.Errorf("failed to schedule %s: %w", step.ToolName, err)
	}
	return nil
}

// abandon cancels a step whose tool call failed after the step was recorded.
// Steps already terminal, such as a failed scheduling attempt, are left alone.
func (s *MediaBuyService) abandon(ctx context.Context, stepID string, cause error) {
	_, err := s.ledger.Cancel(context.WithoutCancel(ctx), stepID, string(models.StepOwnerSystem), "request failed: "+cause.Error())
	if err != nil && !errors.Is(err, workflow.ErrTerminalStep) {
		s.logger.Error("failed to cancel abandoned step", "step_id", stepID, "error", err)
	}
}

// execute runs the adapter call for an in-progress step and records the
// outcome. A step that was canceled or completed elsewhere meanwhile keeps its
// state and the adapter result is dropped.
func (s *MediaBuyService) execute(ctx context.Context, tenantID, stepID string) error {
	step, err := s.ledger.Get(ctx, stepID)
	if err != nil {
		return err
	}
	if step.Status != models.StepStatusInProgress {
		s.logger.Warn("skipping execution of step no longer in progress", "step_id", stepID, "status", step.Status)
		return nil
	}

	adapter, err := s.adapters.For(ctx, tenantID)
	if err != nil {
		_, err = s.ledger.Fail(ctx, stepID, err.Error())
		return ignoreLostRace(err)
	}

	result, execErr := adapter.Execute(ctx, step.ToolName, step.RequestData)
	if execErr != nil {
		s.logger.Warn("adapter execution failed", "step_id", stepID, "adapter", adapter.Name(), "error", execErr)
		_, err = s.ledger.Fail(ctx, stepID, execErr.Error())
		return ignoreLostRace(err)
	}
	_, err = s.ledger.Complete(ctx, stepID, result)
	return ignoreLostRace(err)
}

// note appends a message to the buyer's conversation. The conversation is a
// convenience record, so failures are only logged.
func (s *MediaBuyService) note(ctx context.Context, contextID, role, message string) {
	if contextID == "" {
		return
	}
	if err := s.ledger.AppendConversation(ctx, contextID, role, message); err != nil {
		s.logger.Warn("failed to append conversation", "context_id", contextID, "error", err)
	}
}

// ignoreLostRace treats losing a transition race as success: the winner's
// outcome stands.
func ignoreLostRace(err error) error {
	if errors.Is(err, workflow.ErrConcurrentTransition) || errors.Is(err, workflow.ErrTerminalStep) {
		return nil
	}
	return err
}
