package repository

import (
	"context"
	"encoding/json"
	"time"

	"adcp-sales-agent/pkg/models"
)

// TenantStore reads and writes publisher accounts.
type TenantStore interface {
	// GetTenant retrieves a tenant by its ID.
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	// GetTenantByDomain retrieves a tenant by the email domain of its staff.
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	// CreateTenant inserts a tenant, assigning an ID when empty.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

// PrincipalStore reads and writes buyer identities.
type PrincipalStore interface {
	GetPrincipalByToken(ctx context.Context, token string) (*models.Principal, error)
	CreatePrincipal(ctx context.Context, principal *models.Principal) error
}

// ContextStore persists buyer conversations.
type ContextStore interface {
	CreateContext(ctx context.Context, c *models.Context) error
	GetContext(ctx context.Context, contextID string) (*models.Context, error)
	AppendConversation(ctx context.Context, contextID string, entry models.ConversationEntry) error
}

// StepFilter narrows ListSteps. Zero fields do not filter.
type StepFilter struct {
	TenantID    string
	PrincipalID string
	ContextID   string
	Statuses    []models.StepStatus
	Limit       int
}

// StepTransition describes one conditional status change. The store applies it
// only when the step's current status equals From, and in the same transaction
// writes one mapping row per object the step touches and refreshes the owning
// context's last_activity_at.
type StepTransition struct {
	StepID       string
	From         models.StepStatus
	To           models.StepStatus
	At           time.Time
	Action       models.MappingAction
	Owner        models.StepOwner
	AssignedTo   string
	ErrorMessage string
	ResponseData json.RawMessage
	Comment      *models.StepComment
	SetCompleted bool
}

// StepStore persists workflow steps and their object mappings.
type StepStore interface {
	// CreateStep inserts step and one create mapping per object it touches.
	CreateStep(ctx context.Context, step *models.WorkflowStep) error
	GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error)
	ListSteps(ctx context.Context, filter StepFilter) ([]*models.WorkflowStep, error)
	// TransitionStep returns ErrStaleTransition when the step is no longer in
	// t.From, and ErrNotFound when it does not exist.
	TransitionStep(ctx context.Context, t StepTransition) (*models.WorkflowStep, error)
	MappingsForStep(ctx context.Context, stepID string) ([]models.ObjectWorkflowMapping, error)
	// StepsForObject returns the steps that touched an object, newest first.
	StepsForObject(ctx context.Context, objectType models.ObjectType, objectID string) ([]*models.WorkflowStep, error)
}

// MediaBuyStore persists media buys.
type MediaBuyStore interface {
	CreateMediaBuy(ctx context.Context, mb *models.MediaBuy) error
	GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error)
}

// CreativeStore persists creatives.
type CreativeStore interface {
	CreateCreative(ctx context.Context, c *models.Creative) error
	GetCreative(ctx context.Context, tenantID, creativeID string) (*models.Creative, error)
}

// Repository is the full persistence surface of the sales agent.
type Repository interface {
	TenantStore
	PrincipalStore
	ContextStore
	StepStore
	MediaBuyStore
	CreativeStore
	Ping(ctx context.Context) error
}
