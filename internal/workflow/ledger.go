// Package workflow owns the lifecycle of workflow steps: creation, the legal
// status transitions between them, their projection into protocol tasks and
// the worker pool that executes them.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"adcp-sales-agent/internal/events"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/pkg/models"
)

// Store is the persistence the ledger needs.
type Store interface {
	repository.ContextStore
	repository.StepStore
}

// Publisher receives committed transitions.
type Publisher interface {
	PublishStepTransitioned(ctx context.Context, e events.StepTransitioned) error
}

// NewStep describes a step to create.
type NewStep struct {
	TenantID         string
	PrincipalID      string
	ContextID        string
	StepType         models.StepType
	ToolName         string
	Request          any
	Owner            models.StepOwner
	Objects          []models.ObjectRef
	PushNotification *models.PushNotificationConfig
}

// Ledger is the single writer of workflow step state.
type Ledger struct {
	store       Store
	publisher   Publisher
	logger      *logging.Logger
	now         func() time.Time
	transitions metric.Int64Counter
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for step timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger. publisher may be nil.
func NewLedger(store Store, publisher Publisher, logger *logging.Logger, opts ...Option) (*Ledger, error) {
	counter, err := otel.Meter("adcp-sales-agent/workflow").Int64Counter("workflow.step_transitions",
		metric.WithDescription("Committed workflow step transitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create transition counter: %w", err)
	}
	l := &Ledger{
		store:       store,
		publisher:   publisher,
		logger:      logger.With("module", "workflow-ledger"),
		now:         func() time.Time { return time.Now().UTC() },
		transitions: counter,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// EnsureContext returns the context with contextID, creating it when it does
// not exist. An empty contextID always creates a new context.
func (l *Ledger) EnsureContext(ctx context.Context, tenantID, principalID, contextID string) (*models.Context, error) {
	if contextID != "" {
		existing, err := l.store.GetContext(ctx, contextID)
		switch {
		case err == nil:
			if existing.TenantID != tenantID || existing.PrincipalID != principalID {
				return nil, fmt.Errorf("context %s: %w", contextID, ErrContextMismatch)
			}
			return existing, nil
		case !repository.IsNotFound(err):
			return nil, fmt.Errorf("failed to load context: %w", err)
		}
	} else {
		contextID = "ctx_" + uuid.New().String()
	}

	now := l.now()
	c := &models.Context{
		ContextID:      contextID,
		TenantID:       tenantID,
		PrincipalID:    principalID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := l.store.CreateContext(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	l.logger.Debug("created context", "context_id", contextID, "tenant_id", tenantID)
	return c, nil
}

// AppendConversation records one clarification message on a context.
func (l *Ledger) AppendConversation(ctx context.Context, contextID, role, message string) error {
	return l.store.AppendConversation(ctx, contextID, models.ConversationEntry{
		Role:      role,
		Message:   message,
		CreatedAt: l.now(),
	})
}

// CreateStep persists a pending step together with one create mapping per object.
func (l *Ledger) CreateStep(ctx context.Context, n NewStep) (*models.WorkflowStep, error) {
	request, err := json.Marshal(n.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step request: %w", err)
	}
	if n.Owner == "" {
		n.Owner = models.StepOwnerSystem
	}
	if n.StepType == "" {
		n.StepType = models.StepTypeToolCall
	}

	now := l.now()
	step := &models.WorkflowStep{
		StepID:           "step_" + uuid.New().String(),
		TenantID:         n.TenantID,
		PrincipalID:      n.PrincipalID,
		StepType:         n.StepType,
		ToolName:         n.ToolName,
		RequestData:      request,
		Status:           models.StepStatusPending,
		Owner:            n.Owner,
		CreatedAt:        now,
		UpdatedAt:        now,
		PushNotification: n.PushNotification,
		Objects:          n.Objects,
	}
	if n.ContextID != "" {
		contextID := n.ContextID
		step.ContextID = &contextID
	}

	if err := l.store.CreateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to create step: %w", err)
	}
	l.logger.Info("step created", "step_id", step.StepID, "tool", step.ToolName, "tenant_id", step.TenantID)
	l.publish(ctx, step, "", models.ActionCreate)
	return step, nil
}

// RequireApproval parks a pending step until a publisher acts on it.
func (l *Ledger) RequireApproval(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	return l.transition(ctx, stepID, models.StepStatusRequiresApproval, nil)
}

// Start moves a pending step into execution.
func (l *Ledger) Start(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	return l.transition(ctx, stepID, models.StepStatusInProgress, nil)
}

// Approve releases a step awaiting approval for execution.
func (l *Ledger) Approve(ctx context.Context, stepID, approver, comment string) (*models.WorkflowStep, error) {
	return l.transition(ctx, stepID, models.StepStatusInProgress, func(t *repository.StepTransition) {
		t.AssignedTo = approver
		t.Comment = &models.StepComment{Author: approver, Text: comment, Action: models.ActionApprove, CreatedAt: t.At}
	})
}

// Reject closes a step awaiting approval. The step is persisted as failed; the
// reject comment is what distinguishes it from an execution failure.
func (l *Ledger) Reject(ctx context.Context, stepID, approver, reason string) (*models.WorkflowStep, error) {
	return l.transition(ctx, stepID, models.StepStatusFailed, func(t *repository.StepTransition) {
		t.AssignedTo = approver
		t.ErrorMessage = reason
		t.Comment = &models.StepComment{Author: approver, Text: reason, Action: models.ActionReject, CreatedAt: t.At}
	})
}

// Complete records the result of a step that was in progress.
func (l *Ledger) Complete(ctx context.Context, stepID string, response any) (*models.WorkflowStep, error) {
	raw, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step response: %w", err)
	}
	return l.transition(ctx, stepID, models.StepStatusCompleted, func(t *repository.StepTransition) {
		t.ResponseData = raw
	})
}

// Fail records an execution failure of a step that was in progress.
func (l *Ledger) Fail(ctx context.Context, stepID, message string) (*models.WorkflowStep, error) {
	return l.transition(ctx, stepID, models.StepStatusFailed, func(t *repository.StepTransition) {
		t.ErrorMessage = message
	})
}

// Cancel abandons a non-terminal step.
func (l *Ledger) Cancel(ctx context.Context, stepID, actor, reason string) (*models.WorkflowStep, error) {
	return l.transition(ctx, stepID, models.StepStatusCanceled, func(t *repository.StepTransition) {
		t.ErrorMessage = reason
		t.Comment = &models.StepComment{Author: actor, Text: reason, Action: models.ActionCancel, CreatedAt: t.At}
	})
}

func (l *Ledger) Get(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	return l.store.GetStep(ctx, stepID)
}

func (l *Ledger) List(ctx context.Context, filter repository.StepFilter) ([]*models.WorkflowStep, error) {
	return l.store.ListSteps(ctx, filter)
}

// StepsForObject returns the steps that touched an object, newest first.
func (l *Ledger) StepsForObject(ctx context.Context, objectType models.ObjectType, objectID string) ([]*models.WorkflowStep, error) {
	return l.store.StepsForObject(ctx, objectType, objectID)
}

func (l *Ledger) transition(ctx context.Context, stepID string, to models.StepStatus, edit func(*repository.StepTransition)) (*models.WorkflowStep, error) {
	current, err := l.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}

	r, err := lookup(current.Status, to)
	if err != nil {
		return nil, &TransitionError{StepID: stepID, From: current.Status, To: to, Err: err}
	}

	t := repository.StepTransition{
		StepID:       stepID,
		From:         current.Status,
		To:           to,
		At:           l.now(),
		Action:       r.action,
		Owner:        r.owner,
		SetCompleted: to.IsTerminal(),
	}
	if edit != nil {
		edit(&t)
	}

	updated, err := l.store.TransitionStep(ctx, t)
	if errors.Is(err, repository.ErrStaleTransition) {
		l.logger.Warn("lost step transition race, discarding result",
			"step_id", stepID, "from", current.Status, "to", to)
		return nil, &TransitionError{StepID: stepID, From: current.Status, To: to, Err: ErrConcurrentTransition}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition step %s: %w", stepID, err)
	}

	l.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(t.From)),
		attribute.String("to", string(t.To)),
	))
	l.logger.Info("step transitioned", "step_id", stepID, "from", t.From, "to", t.To, "action", t.Action)
	l.publish(ctx, updated, t.From, t.Action)
	return updated, nil
}

func (l *Ledger) publish(ctx context.Context, step *models.WorkflowStep, from models.StepStatus, action models.MappingAction) {
	if l.publisher == nil {
		return
	}
	e := events.StepTransitioned{
		StepID:   step.StepID,
		TenantID: step.TenantID,
		ToolName: step.ToolName,
		From:     from,
		To:       step.Status,
		Action:   action,
		At:       step.UpdatedAt,
	}
	if step.ContextID != nil {
		e.ContextID = *step.ContextID
	}
	if err := l.publisher.PublishStepTransitioned(ctx, e); err != nil {
		// the transition is already committed
		l.logger.Error("failed to publish step event", "step_id", step.StepID, "error", err)
	}
}
