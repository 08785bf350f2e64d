// Package envelope wraps domain responses with the transport fields buyers poll
// on, keeping those fields out of the domain types themselves.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"adcp-sales-agent/pkg/models"
)

// Status is the closed set of statuses an envelope may carry.
type Status string

const (
	StatusSubmitted     Status = "submitted"
	StatusWorking       Status = "working"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusInputRequired Status = "input-required"
	StatusCanceled      Status = "canceled"
	StatusRejected      Status = "rejected"
	StatusAuthRequired  Status = "auth-required"
)

var (
	// ErrInvalidStatus is returned for any status outside the closed set.
	ErrInvalidStatus = errors.New("invalid envelope status")

	// ErrInvalidPayload is returned when a payload does not flatten to a JSON object.
	ErrInvalidPayload = errors.New("payload must encode as a JSON object")
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusWorking, StatusCompleted, StatusFailed,
		StatusInputRequired, StatusCanceled, StatusRejected, StatusAuthRequired:
		return true
	}
	return false
}

// FromTaskState returns the envelope status for a task state.
func FromTaskState(state models.TaskState) Status {
	return Status(state.EnvelopeStatus())
}

// Envelope is the wire shape of every buyer-facing response.
type Envelope struct {
	Status                 Status                         `json:"status"`
	Message                string                         `json:"message,omitempty"`
	TaskID                 string                         `json:"task_id,omitempty"`
	ContextID              string                         `json:"context_id,omitempty"`
	Timestamp              *time.Time                     `json:"timestamp,omitempty"`
	PushNotificationConfig *models.PushNotificationConfig `json:"push_notification_config,omitempty"`
	Payload                map[string]any                 `json:"payload"`
}

type options struct {
	message   string
	taskID    string
	contextID string
	push      *models.PushNotificationConfig
	timestamp bool
	now       func() time.Time
}

// Option sets an optional envelope field.
type Option func(*options)

func WithMessage(message string) Option {
	return func(o *options) { o.message = message }
}

func WithTaskID(taskID string) Option {
	return func(o *options) { o.taskID = taskID }
}

func WithContextID(contextID string) Option {
	return func(o *options) { o.contextID = contextID }
}

func WithPushNotificationConfig(cfg *models.PushNotificationConfig) Option {
	return func(o *options) { o.push = cfg }
}

// WithoutTimestamp leaves the timestamp field out of the envelope.
func WithoutTimestamp() Option {
	return func(o *options) { o.timestamp = false }
}

// WithTimestamp stamps the envelope with t instead of the current time.
func WithTimestamp(t time.Time) Option {
	return func(o *options) {
		o.timestamp = true
		o.now = func() time.Time { return t }
	}
}

// Wrap builds an envelope around payload. Struct payloads are flattened into a
// key-value map. When no message is given and payload is a fmt.Stringer, its
// String value becomes the message.
func Wrap(payload any, status Status, opts ...Option) (*Envelope, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	o := options{timestamp: true, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}

	flat, err := flatten(payload)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Status:                 status,
		Message:                o.message,
		TaskID:                 o.taskID,
		ContextID:              o.contextID,
		PushNotificationConfig: o.push,
		Payload:                flat,
	}
	if env.Message == "" {
		env.Message = summarize(payload)
	}
	if o.timestamp {
		ts := o.now()
		env.Timestamp = &ts
	}
	return env, nil
}

func flatten(payload any) (map[string]any, error) {
	switch p := payload.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %T", ErrInvalidPayload, payload)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func summarize(payload any) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload.(fmt.Stringer); ok {
		return s.String()
	}
	t := reflect.TypeOf(payload)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct && t.Name() != "" {
		return t.Name() + " response"
	}
	return ""
}
