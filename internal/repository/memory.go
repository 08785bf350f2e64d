package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"adcp-sales-agent/pkg/models"
)

// MemoryStore is an in-process Repository for development and tests. A single
// mutex serializes writers, which gives TransitionStep the same
// one-winner semantics as the conditional UPDATE in PostgresStore.
type MemoryStore struct {
	mu         sync.RWMutex
	tenants    map[string]*models.Tenant
	principals map[string]*models.Principal // by access token
	contexts   map[string]*models.Context
	steps      map[string]*models.WorkflowStep
	mappings   []models.ObjectWorkflowMapping
	mediaBuys  map[string]*models.MediaBuy
	creatives  map[string]*models.Creative
	nextID     int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:    make(map[string]*models.Tenant),
		principals: make(map[string]*models.Principal),
		contexts:   make(map[string]*models.Context),
		steps:      make(map[string]*models.WorkflowStep),
		mediaBuys:  make(map[string]*models.MediaBuy),
		creatives:  make(map[string]*models.Creative),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, wrap("GetTenant", tenantID, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if t.Domain == domain {
			cp := *t
			return &cp, nil
		}
	}
	return nil, wrap("GetTenantByDomain", domain, ErrNotFound)
}

func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenant.TenantID == "" {
		tenant.TenantID = uuid.New().String()
	}
	if _, ok := s.tenants[tenant.TenantID]; ok {
		return wrap("CreateTenant", tenant.TenantID, ErrAlreadyExists)
	}
	now := time.Now().UTC()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	cp := *tenant
	s.tenants[tenant.TenantID] = &cp
	return nil
}

func (s *MemoryStore) GetPrincipalByToken(ctx context.Context, token string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[token]
	if !ok {
		return nil, wrap("GetPrincipalByToken", "", ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.PrincipalID == "" {
		p.PrincipalID = uuid.New().String()
	}
	if _, ok := s.principals[p.AccessToken]; ok {
		return wrap("CreatePrincipal", p.PrincipalID, ErrAlreadyExists)
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	s.principals[p.AccessToken] = &cp
	return nil
}

func (s *MemoryStore) CreateContext(ctx context.Context, c *models.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[c.ContextID]; ok {
		return wrap("CreateContext", c.ContextID, ErrAlreadyExists)
	}
	s.contexts[c.ContextID] = cloneContext(c)
	return nil
}

func (s *MemoryStore) GetContext(ctx context.Context, contextID string) (*models.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[contextID]
	if !ok {
		return nil, wrap("GetContext", contextID, ErrNotFound)
	}
	return cloneContext(c), nil
}

func (s *MemoryStore) AppendConversation(ctx context.Context, contextID string, entry models.ConversationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[contextID]
	if !ok {
		return wrap("AppendConversation", contextID, ErrNotFound)
	}
	c.ConversationHistory = append(c.ConversationHistory, entry)
	c.LastActivityAt = entry.CreatedAt
	return nil
}

func (s *MemoryStore) CreateStep(ctx context.Context, step *models.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[step.StepID]; ok {
		return wrap("CreateStep", step.StepID, ErrAlreadyExists)
	}
	if step.ContextID != nil {
		if _, ok := s.contexts[*step.ContextID]; !ok {
			return wrap("CreateStep", step.StepID, ErrNotFound)
		}
	}
	s.steps[step.StepID] = cloneStep(step)
	s.appendMappingsLocked(step.StepID, step.Objects, models.ActionCreate, step.CreatedAt)
	s.touchContextLocked(step.ContextID, step.CreatedAt)
	return nil
}

func (s *MemoryStore) GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, ok := s.steps[stepID]
	if !ok {
		return nil, wrap("GetStep", stepID, ErrNotFound)
	}
	return cloneStep(step), nil
}

func (s *MemoryStore) ListSteps(ctx context.Context, filter StepFilter) ([]*models.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.WorkflowStep
	for _, step := range s.steps {
		if filter.TenantID != "" && step.TenantID != filter.TenantID {
			continue
		}
		if filter.PrincipalID != "" && step.PrincipalID != filter.PrincipalID {
			continue
		}
		if filter.ContextID != "" && (step.ContextID == nil || *step.ContextID != filter.ContextID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, step.Status) {
			continue
		}
		out = append(out, cloneStep(step))
	}
	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) TransitionStep(ctx context.Context, t StepTransition) (*models.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[t.StepID]
	if !ok {
		return nil, wrap("TransitionStep", t.StepID, ErrNotFound)
	}
	if step.Status != t.From {
		return nil, wrap("TransitionStep", t.StepID, ErrStaleTransition)
	}

	step.Status = t.To
	step.UpdatedAt = t.At
	if t.Owner != "" {
		step.Owner = t.Owner
	}
	if t.AssignedTo != "" {
		step.AssignedTo = t.AssignedTo
	}
	if t.ErrorMessage != "" {
		step.ErrorMessage = t.ErrorMessage
	}
	if len(t.ResponseData) > 0 {
		step.ResponseData = append(json.RawMessage(nil), t.ResponseData...)
	}
	if t.Comment != nil {
		step.Comments = append(step.Comments, *t.Comment)
	}
	if t.SetCompleted {
		at := t.At
		step.CompletedAt = &at
	}

	s.appendMappingsLocked(step.StepID, step.Objects, t.Action, t.At)
	s.touchContextLocked(step.ContextID, t.At)
	return cloneStep(step), nil
}

func (s *MemoryStore) MappingsForStep(ctx context.Context, stepID string) ([]models.ObjectWorkflowMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ObjectWorkflowMapping
	for _, m := range s.mappings {
		if m.StepID == stepID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) StepsForObject(ctx context.Context, objectType models.ObjectType, objectID string) ([]*models.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*models.WorkflowStep
	for _, m := range s.mappings {
		if m.ObjectType != objectType || m.ObjectID != objectID {
			continue
		}
		if _, ok := seen[m.StepID]; ok {
			continue
		}
		seen[m.StepID] = struct{}{}
		if step, ok := s.steps[m.StepID]; ok {
			out = append(out, cloneStep(step))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) CreateMediaBuy(ctx context.Context, mb *models.MediaBuy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mediaBuys[mb.MediaBuyID]; ok {
		return wrap("CreateMediaBuy", mb.MediaBuyID, ErrAlreadyExists)
	}
	cp := *mb
	cp.Packages = append([]models.Package(nil), mb.Packages...)
	s.mediaBuys[mb.MediaBuyID] = &cp
	return nil
}

func (s *MemoryStore) GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.mediaBuys[mediaBuyID]
	if !ok || mb.TenantID != tenantID {
		return nil, wrap("GetMediaBuy", mediaBuyID, ErrNotFound)
	}
	cp := *mb
	cp.Packages = append([]models.Package(nil), mb.Packages...)
	return &cp, nil
}

func (s *MemoryStore) CreateCreative(ctx context.Context, c *models.Creative) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creatives[c.CreativeID]; ok {
		return wrap("CreateCreative", c.CreativeID, ErrAlreadyExists)
	}
	cp := *c
	s.creatives[c.CreativeID] = &cp
	return nil
}

func (s *MemoryStore) GetCreative(ctx context.Context, tenantID, creativeID string) (*models.Creative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creatives[creativeID]
	if !ok || c.TenantID != tenantID {
		return nil, wrap("GetCreative", creativeID, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) appendMappingsLocked(stepID string, objects []models.ObjectRef, action models.MappingAction, at time.Time) {
	for _, o := range objects {
		s.nextID++
		s.mappings = append(s.mappings, models.ObjectWorkflowMapping{
			ID:         s.nextID,
			ObjectType: o.ObjectType,
			ObjectID:   o.ObjectID,
			StepID:     stepID,
			Action:     action,
			CreatedAt:  at,
		})
	}
}

func (s *MemoryStore) touchContextLocked(contextID *string, at time.Time) {
	if contextID == nil {
		return
	}
	if c, ok := s.contexts[*contextID]; ok && c.LastActivityAt.Before(at) {
		c.LastActivityAt = at
	}
}

func containsStatus(list []models.StepStatus, s models.StepStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortNewestFirst(steps []*models.WorkflowStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].CreatedAt.After(steps[j].CreatedAt)
	})
}

func cloneContext(c *models.Context) *models.Context {
	cp := *c
	cp.ConversationHistory = append([]models.ConversationEntry(nil), c.ConversationHistory...)
	return &cp
}

func cloneStep(step *models.WorkflowStep) *models.WorkflowStep {
	cp := *step
	if step.ContextID != nil {
		id := *step.ContextID
		cp.ContextID = &id
	}
	if step.CompletedAt != nil {
		at := *step.CompletedAt
		cp.CompletedAt = &at
	}
	if step.PushNotification != nil {
		push := *step.PushNotification
		cp.PushNotification = &push
	}
	cp.RequestData = append(json.RawMessage(nil), step.RequestData...)
	cp.ResponseData = append(json.RawMessage(nil), step.ResponseData...)
	cp.Comments = append([]models.StepComment(nil), step.Comments...)
	cp.Objects = append([]models.ObjectRef(nil), step.Objects...)
	return &cp
}
