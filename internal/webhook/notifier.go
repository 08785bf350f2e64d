package webhook

import (
	"context"
	"encoding/json"

	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/events"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

// StepReader loads the current state of a step.
type StepReader interface {
	Get(ctx context.Context, stepID string) (*models.WorkflowStep, error)
}

// Subscriber is the event source a Notifier listens on.
type Subscriber interface {
	SubscribeStepTransitions(ctx context.Context, handler events.StepHandler) error
}

// Sender delivers one envelope.
type Sender interface {
	Deliver(ctx context.Context, cfg *models.PushNotificationConfig, env *envelope.Envelope) error
}

// Notifier pushes a task envelope to the buyer every time one of their steps
// changes status, when the step carries a push notification config.
type Notifier struct {
	steps  StepReader
	sender Sender
	logger *logging.Logger
}

func NewNotifier(steps StepReader, sender Sender, logger *logging.Logger) *Notifier {
	return &Notifier{steps: steps, sender: sender, logger: logger.With("module", "webhook-notifier")}
}

// Start subscribes to step transitions until ctx is done.
func (n *Notifier) Start(ctx context.Context, sub Subscriber) error {
	return sub.SubscribeStepTransitions(ctx, n.Handle)
}

// Handle delivers the notification for one event. It never returns an error:
// the bus redelivers nacked events immediately, so read and delivery failures
// are logged and the event is dropped.
func (n *Notifier) Handle(ctx context.Context, e events.StepTransitioned) error {
	// creation is answered synchronously
	if e.Action == models.ActionCreate {
		return nil
	}

	step, err := n.steps.Get(ctx, e.StepID)
	if err != nil {
		n.logger.Warn("dropping notification for unreadable step", "step_id", e.StepID, "to", e.To, "error", err)
		return nil
	}
	if step.PushNotification == nil {
		return nil
	}

	env, err := Envelope(step)
	if err != nil {
		n.logger.Error("failed to build notification", "step_id", step.StepID, "error", err)
		return nil
	}
	if err := n.sender.Deliver(ctx, step.PushNotification, env); err != nil {
		n.logger.Warn("dropping undeliverable notification", "step_id", step.StepID, "status", env.Status, "error", err)
	}
	return nil
}

// Envelope renders the buyer-facing envelope for step.
func Envelope(step *models.WorkflowStep) (*envelope.Envelope, error) {
	task, err := workflow.TaskFromStep[json.RawMessage](step)
	if err != nil {
		return nil, err
	}
	opts := []envelope.Option{
		envelope.WithTaskID(task.TaskID),
		envelope.WithMessage(task.Status.Message),
	}
	if step.ContextID != nil {
		opts = append(opts, envelope.WithContextID(*step.ContextID))
	}
	return envelope.Wrap(task, envelope.FromTaskState(task.Status.State), opts...)
}
