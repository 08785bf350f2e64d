// Package events carries workflow notifications between components in-process.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/pkg/models"
)

// StepTransitionsTopic is the topic every committed step transition is published on.
const StepTransitionsTopic = "salesagent.step-transitions"

// StepTransitioned is published after a step transition has been committed.
type StepTransitioned struct {
	StepID    string               `json:"step_id"`
	TenantID  string               `json:"tenant_id"`
	ContextID string               `json:"context_id,omitempty"`
	ToolName  string               `json:"tool_name"`
	From      models.StepStatus    `json:"from,omitempty"`
	To        models.StepStatus    `json:"to"`
	Action    models.MappingAction `json:"action"`
	At        time.Time            `json:"at"`
}

// StepHandler processes one transition event. A returned error nacks the message.
type StepHandler func(ctx context.Context, event StepTransitioned) error

// Bus publishes and fans out step transition events.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *logging.Logger
}

// NewBus creates an in-memory Bus.
func NewBus(logger *logging.Logger) *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		NewWatermillLogger(logger),
	)
	return &Bus{pubSub: pubSub, logger: logger.With("module", "event-bus")}
}

// PublishStepTransitioned publishes e. Events published with no subscriber are dropped.
func (b *Bus) PublishStepTransitioned(ctx context.Context, e StepTransitioned) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal step event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("step_id", e.StepID)
	msg.Metadata.Set("tenant_id", e.TenantID)
	msg.Metadata.Set("to", string(e.To))
	msg.SetContext(ctx)

	if err := b.pubSub.Publish(StepTransitionsTopic, msg); err != nil {
		return fmt.Errorf("failed to publish step event: %w", err)
	}
	return nil
}

// SubscribeStepTransitions starts delivering events to handler until ctx is done
// or the bus is closed.
func (b *Bus) SubscribeStepTransitions(ctx context.Context, handler StepHandler) error {
	messages, err := b.pubSub.Subscribe(ctx, StepTransitionsTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", StepTransitionsTopic, err)
	}

	go func() {
		for msg := range messages {
			var e StepTransitioned
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Error("Failed to unmarshal step event", "error", err, "message_id", msg.UUID)
				// a malformed payload will never decode; drop it
				msg.Ack()
				continue
			}
			if err := handler(ctx, e); err != nil {
				b.logger.Warn("Step event handler failed", "error", err, "step_id", e.StepID, "to", e.To)
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close stops all subscriptions.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
