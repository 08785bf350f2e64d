package models

import (
	"encoding/json"
	"time"
)

// Context is one buyer–tenant conversation. Workflow steps created during the
// conversation reference it, and deleting the tenant removes it.
type Context struct {
	ContextID           string              `json:"context_id"`
	TenantID            string              `json:"tenant_id"`
	PrincipalID         string              `json:"principal_id"`
	ConversationHistory []ConversationEntry `json:"conversation_history"`
	CreatedAt           time.Time           `json:"created_at"`
	LastActivityAt      time.Time           `json:"last_activity_at"`
}

// ConversationEntry is one clarification exchange within a Context.
type ConversationEntry struct {
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// StepType classifies the unit of work a WorkflowStep represents.
type StepType string

const (
	StepTypeToolCall     StepType = "tool_call"
	StepTypeApproval     StepType = "approval"
	StepTypeNotification StepType = "notification"
)

// StepStatus is the persisted lifecycle state of a WorkflowStep.
type StepStatus string

const (
	StepStatusPending          StepStatus = "pending"
	StepStatusInProgress       StepStatus = "in_progress"
	StepStatusRequiresApproval StepStatus = "requires_approval"
	StepStatusCompleted        StepStatus = "completed"
	StepStatusFailed           StepStatus = "failed"
	StepStatusCanceled         StepStatus = "canceled"
)

// IsTerminal reports whether no further transition may leave s.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusCanceled:
		return true
	}
	return false
}

// StepOwner names the party expected to act on a step next.
type StepOwner string

const (
	StepOwnerPrincipal StepOwner = "principal"
	StepOwnerPublisher StepOwner = "publisher"
	StepOwnerSystem    StepOwner = "system"
)

// WorkflowStep is the persisted source of truth for one asynchronous operation.
type WorkflowStep struct {
	StepID           string                  `json:"step_id"`
	ContextID        *string                 `json:"context_id,omitempty"`
	TenantID         string                  `json:"tenant_id"`
	PrincipalID      string                  `json:"principal_id"`
	StepType         StepType                `json:"step_type"`
	ToolName         string                  `json:"tool_name"`
	RequestData      json.RawMessage         `json:"request_data,omitempty"`
	ResponseData     json.RawMessage         `json:"response_data,omitempty"`
	Status           StepStatus              `json:"status"`
	Owner            StepOwner               `json:"owner"`
	AssignedTo       string                  `json:"assigned_to,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
	ErrorMessage     string                  `json:"error_message,omitempty"`
	Comments         []StepComment           `json:"comments,omitempty"`
	PushNotification *PushNotificationConfig `json:"push_notification_config,omitempty"`

	// Objects lists the business objects this step touches. Each transition
	// writes one ObjectWorkflowMapping row per entry.
	Objects []ObjectRef `json:"objects,omitempty"`
}

// LastComment returns the most recent comment, or nil.
func (s *WorkflowStep) LastComment() *StepComment {
	if len(s.Comments) == 0 {
		return nil
	}
	return &s.Comments[len(s.Comments)-1]
}

// StepComment is a free-text annotation on a step.
type StepComment struct {
	Author    string        `json:"author"`
	Text      string        `json:"text"`
	Action    MappingAction `json:"action,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// ObjectType names a kind of business object tracked by the workflow ledger.
type ObjectType string

const (
	ObjectTypeMediaBuy ObjectType = "media_buy"
	ObjectTypeCreative ObjectType = "creative"
	ObjectTypeProduct  ObjectType = "product"
)

// MappingAction tags what a step transition did to a business object.
type MappingAction string

const (
	ActionCreate  MappingAction = "create"
	ActionUpdate  MappingAction = "update"
	ActionApprove MappingAction = "approve"
	ActionReject  MappingAction = "reject"
	ActionCancel  MappingAction = "cancel"
)

// ObjectRef identifies a business object.
type ObjectRef struct {
	ObjectType ObjectType `json:"object_type"`
	ObjectID   string     `json:"object_id"`
}

// ObjectWorkflowMapping is one append-only audit row linking a business object to
// the step transition that touched it.
type ObjectWorkflowMapping struct {
	ID         int64         `json:"id"`
	ObjectType ObjectType    `json:"object_type"`
	ObjectID   string        `json:"object_id"`
	StepID     string        `json:"step_id"`
	Action     MappingAction `json:"action"`
	CreatedAt  time.Time     `json:"created_at"`
}

// PushNotificationConfig tells the agent where to deliver status webhooks for a task.
type PushNotificationConfig struct {
	URL            string                `json:"url" validate:"required,url"`
	Token          string                `json:"token,omitempty"`
	Authentication *PushNotificationAuth `json:"authentication,omitempty"`
}

// PushNotificationAuth carries the webhook signing scheme and shared secret.
type PushNotificationAuth struct {
	Schemes     []string `json:"schemes"`
	Credentials string   `json:"credentials"`
}
