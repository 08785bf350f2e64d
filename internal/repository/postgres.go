package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, logger *logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Ping verifies the database connection is healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetTenant retrieves a tenant by its ID.
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT tenant_id, name, domain, human_review_required, adapter_config, created_at, updated_at
		FROM tenants WHERE tenant_id = $1`, tenantID)
	t, err := scanTenant(row)
	return t, wrap("GetTenant", tenantID, err)
}

// GetTenantByDomain retrieves a tenant by its staff email domain.
func (s *PostgresStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT tenant_id, name, domain, human_review_required, adapter_config, created_at, updated_at
		FROM tenants WHERE domain = $1`, domain)
	t, err := scanTenant(row)
	return t, wrap("GetTenantByDomain", domain, err)
}

// CreateTenant inserts a tenant.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.TenantID == "" {
		tenant.TenantID = uuid.New().String()
	}
	now := time.Now().UTC()
	tenant.CreatedAt, tenant.UpdatedAt = now, now

	adapter, err := json.Marshal(tenant.Adapter)
	if err != nil {
		return wrap("CreateTenant", tenant.TenantID, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO tenants (tenant_id, name, domain, human_review_required, adapter_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`,
		tenant.TenantID, tenant.Name, tenant.Domain, tenant.HumanReviewRequired, string(adapter), tenant.CreatedAt, tenant.UpdatedAt)
	return wrap("CreateTenant", tenant.TenantID, translate(err))
}

// GetPrincipalByToken resolves a buyer access token.
func (s *PostgresStore) GetPrincipalByToken(ctx context.Context, token string) (*models.Principal, error) {
	var p models.Principal
	err := s.db.QueryRow(ctx, `SELECT principal_id, tenant_id, name, access_token, created_at
		FROM principals WHERE access_token = $1`, token).
		Scan(&p.PrincipalID, &p.TenantID, &p.Name, &p.AccessToken, &p.CreatedAt)
	if err != nil {
		// never echo the token into an error message
		return nil, wrap("GetPrincipalByToken", "", translate(err))
	}
	return &p, nil
}

// CreatePrincipal inserts a principal.
func (s *PostgresStore) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	if p.PrincipalID == "" {
		p.PrincipalID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `INSERT INTO principals (tenant_id, principal_id, name, access_token, created_at)
		VALUES ($1, $2, $3, $4, $5)`, p.TenantID, p.PrincipalID, p.Name, p.AccessToken, p.CreatedAt)
	return wrap("CreatePrincipal", p.PrincipalID, translate(err))
}

// CreateContext inserts a conversation context.
func (s *PostgresStore) CreateContext(ctx context.Context, c *models.Context) error {
	history, err := json.Marshal(nonNilHistory(c.ConversationHistory))
	if err != nil {
		return wrap("CreateContext", c.ContextID, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO contexts (context_id, tenant_id, principal_id, conversation_history, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		c.ContextID, c.TenantID, c.PrincipalID, string(history), c.CreatedAt, c.LastActivityAt)
	return wrap("CreateContext", c.ContextID, translate(err))
}

// GetContext retrieves a conversation context.
func (s *PostgresStore) GetContext(ctx context.Context, contextID string) (*models.Context, error) {
	var (
		c       models.Context
		history []byte
	)
	err := s.db.QueryRow(ctx, `SELECT context_id, tenant_id, principal_id, conversation_history, created_at, last_activity_at
		FROM contexts WHERE context_id = $1`, contextID).
		Scan(&c.ContextID, &c.TenantID, &c.PrincipalID, &history, &c.CreatedAt, &c.LastActivityAt)
	if err != nil {
		return nil, wrap("GetContext", contextID, translate(err))
	}
	if err := json.Unmarshal(history, &c.ConversationHistory); err != nil {
		return nil, wrap("GetContext", contextID, err)
	}
	return &c, nil
}

// AppendConversation appends one entry to a context's history.
func (s *PostgresStore) AppendConversation(ctx context.Context, contextID string, entry models.ConversationEntry) error {
	raw, err := json.Marshal([]models.ConversationEntry{entry})
	if err != nil {
		return wrap("AppendConversation", contextID, err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE contexts
		SET conversation_history = conversation_history || $2::jsonb, last_activity_at = $3
		WHERE context_id = $1`, contextID, string(raw), entry.CreatedAt)
	if err != nil {
		return wrap("AppendConversation", contextID, err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("AppendConversation", contextID, ErrNotFound)
	}
	return nil
}

const stepColumns = `step_id, context_id, tenant_id, principal_id, step_type, tool_name, request_data, response_data,
	status, owner, assigned_to, created_at, updated_at, completed_at, error_message, comments,
	push_notification_config, objects`

// CreateStep inserts a step, its create mappings and the context activity touch
// in one transaction.
func (s *PostgresStore) CreateStep(ctx context.Context, step *models.WorkflowStep) error {
	comments, err := json.Marshal(nonNilComments(step.Comments))
	if err != nil {
		return wrap("CreateStep", step.StepID, err)
	}
	objects, err := json.Marshal(nonNilObjects(step.Objects))
	if err != nil {
		return wrap("CreateStep", step.StepID, err)
	}
	var push any
	if step.PushNotification != nil {
		raw, err := json.Marshal(step.PushNotification)
		if err != nil {
			return wrap("CreateStep", step.StepID, err)
		}
		push = string(raw)
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO workflow_steps (`+stepColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12, $13, $14, $15, $16::jsonb, $17::jsonb, $18::jsonb)`,
			step.StepID, step.ContextID, step.TenantID, step.PrincipalID, step.StepType, step.ToolName,
			jsonParam(step.RequestData), jsonParam(step.ResponseData), step.Status, step.Owner, step.AssignedTo,
			step.CreatedAt, step.UpdatedAt, step.CompletedAt, step.ErrorMessage, string(comments), push, string(objects))
		if err != nil {
			return translate(err)
		}
		if err := insertMappings(ctx, tx, step.StepID, step.Objects, models.ActionCreate, step.CreatedAt); err != nil {
			return err
		}
		return touchContext(ctx, tx, step.ContextID, step.CreatedAt)
	})
	return wrap("CreateStep", step.StepID, err)
}

// GetStep retrieves a workflow step.
func (s *PostgresStore) GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	row := s.db.QueryRow(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE step_id = $1`, stepID)
	step, err := scanStep(row)
	return step, wrap("GetStep", stepID, err)
}

// ListSteps returns steps matching filter, newest first.
func (s *PostgresStore) ListSteps(ctx context.Context, filter StepFilter) ([]*models.WorkflowStep, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.PrincipalID != "" {
		add("principal_id = $%d", filter.PrincipalID)
	}
	if filter.ContextID != "" {
		add("context_id = $%d", filter.ContextID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}

	query := `SELECT ` + stepColumns + ` FROM workflow_steps`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("ListSteps", "", err)
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, wrap("ListSteps", "", err)
		}
		steps = append(steps, step)
	}
	return steps, wrap("ListSteps", "", rows.Err())
}

// TransitionStep applies a conditional status update together with its mapping
// rows. Only one of several concurrent callers with the same From can succeed.
func (s *PostgresStore) TransitionStep(ctx context.Context, t StepTransition) (*models.WorkflowStep, error) {
	var comment any
	if t.Comment != nil {
		raw, err := json.Marshal([]models.StepComment{*t.Comment})
		if err != nil {
			return nil, wrap("TransitionStep", t.StepID, err)
		}
		comment = string(raw)
	}
	var owner any
	if t.Owner != "" {
		owner = string(t.Owner)
	}
	var assigned, errMsg any
	if t.AssignedTo != "" {
		assigned = t.AssignedTo
	}
	if t.ErrorMessage != "" {
		errMsg = t.ErrorMessage
	}

	var updated *models.WorkflowStep
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `UPDATE workflow_steps SET
				status = $3,
				updated_at = $4,
				owner = COALESCE($5, owner),
				assigned_to = COALESCE($6, assigned_to),
				error_message = COALESCE($7, error_message),
				response_data = COALESCE($8::jsonb, response_data),
				comments = CASE WHEN $9::jsonb IS NULL THEN comments ELSE comments || $9::jsonb END,
				completed_at = CASE WHEN $10 THEN $4 ELSE completed_at END
			WHERE step_id = $1 AND status = $2
			RETURNING `+stepColumns,
			t.StepID, t.From, t.To, t.At, owner, assigned, errMsg, jsonParam(t.ResponseData), comment, t.SetCompleted)
		step, err := scanStep(row)
		if errors.Is(err, ErrNotFound) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_steps WHERE step_id = $1)`, t.StepID).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return ErrStaleTransition
			}
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := insertMappings(ctx, tx, step.StepID, step.Objects, t.Action, t.At); err != nil {
			return err
		}
		if err := touchContext(ctx, tx, step.ContextID, t.At); err != nil {
			return err
		}
		updated = step
		return nil
	})
	if errors.Is(err, ErrStaleTransition) {
		s.logger.Debug("conditional step update matched no row", "step_id", t.StepID, "from", t.From, "to", t.To)
	}
	if err != nil {
		return nil, wrap("TransitionStep", t.StepID, err)
	}
	return updated, nil
}

// MappingsForStep returns the audit rows written for a step, oldest first.
func (s *PostgresStore) MappingsForStep(ctx context.Context, stepID string) ([]models.ObjectWorkflowMapping, error) {
	rows, err := s.db.Query(ctx, `SELECT id, object_type, object_id, step_id, action, created_at
		FROM object_workflow_mapping WHERE step_id = $1 ORDER BY id`, stepID)
	if err != nil {
		return nil, wrap("MappingsForStep", stepID, err)
	}
	defer rows.Close()

	var out []models.ObjectWorkflowMapping
	for rows.Next() {
		var m models.ObjectWorkflowMapping
		if err := rows.Scan(&m.ID, &m.ObjectType, &m.ObjectID, &m.StepID, &m.Action, &m.CreatedAt); err != nil {
			return nil, wrap("MappingsForStep", stepID, err)
		}
		out = append(out, m)
	}
	return out, wrap("MappingsForStep", stepID, rows.Err())
}

// StepsForObject returns every step that touched the object, newest first.
func (s *PostgresStore) StepsForObject(ctx context.Context, objectType models.ObjectType, objectID string) ([]*models.WorkflowStep, error) {
	rows, err := s.db.Query(ctx, `SELECT `+stepColumns+` FROM workflow_steps
		WHERE step_id IN (SELECT step_id FROM object_workflow_mapping WHERE object_type = $1 AND object_id = $2)
		ORDER BY created_at DESC`, objectType, objectID)
	if err != nil {
		return nil, wrap("StepsForObject", objectID, err)
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, wrap("StepsForObject", objectID, err)
		}
		steps = append(steps, step)
	}
	return steps, wrap("StepsForObject", objectID, rows.Err())
}

// CreateMediaBuy inserts a media buy.
func (s *PostgresStore) CreateMediaBuy(ctx context.Context, mb *models.MediaBuy) error {
	packages, err := json.Marshal(mb.Packages)
	if err != nil {
		return wrap("CreateMediaBuy", mb.MediaBuyID, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO media_buys (media_buy_id, tenant_id, principal_id, context_id, buyer_ref, budget, currency, start_time, end_time, packages, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)`,
		mb.MediaBuyID, mb.TenantID, mb.PrincipalID, mb.ContextID, mb.BuyerRef, mb.Budget, mb.Currency,
		mb.StartTime, mb.EndTime, string(packages), mb.CreatedAt)
	return wrap("CreateMediaBuy", mb.MediaBuyID, translate(err))
}

// GetMediaBuy retrieves a media buy owned by tenantID.
func (s *PostgresStore) GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error) {
	var (
		mb       models.MediaBuy
		packages []byte
		ctxID    *string
	)
	err := s.db.QueryRow(ctx, `SELECT media_buy_id, tenant_id, principal_id, context_id, buyer_ref, budget, currency, start_time, end_time, packages, created_at
		FROM media_buys WHERE tenant_id = $1 AND media_buy_id = $2`, tenantID, mediaBuyID).
		Scan(&mb.MediaBuyID, &mb.TenantID, &mb.PrincipalID, &ctxID, &mb.BuyerRef, &mb.Budget, &mb.Currency,
			&mb.StartTime, &mb.EndTime, &packages, &mb.CreatedAt)
	if err != nil {
		return nil, wrap("GetMediaBuy", mediaBuyID, translate(err))
	}
	if ctxID != nil {
		mb.ContextID = *ctxID
	}
	if err := json.Unmarshal(packages, &mb.Packages); err != nil {
		return nil, wrap("GetMediaBuy", mediaBuyID, err)
	}
	return &mb, nil
}

// CreateCreative inserts a creative.
func (s *PostgresStore) CreateCreative(ctx context.Context, c *models.Creative) error {
	_, err := s.db.Exec(ctx, `INSERT INTO creatives (creative_id, tenant_id, principal_id, name, format_id, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.CreativeID, c.TenantID, c.PrincipalID, c.Name, c.FormatID, c.URL, c.CreatedAt)
	return wrap("CreateCreative", c.CreativeID, translate(err))
}

// GetCreative retrieves a creative owned by tenantID.
func (s *PostgresStore) GetCreative(ctx context.Context, tenantID, creativeID string) (*models.Creative, error) {
	var c models.Creative
	err := s.db.QueryRow(ctx, `SELECT creative_id, tenant_id, principal_id, name, format_id, url, created_at
		FROM creatives WHERE tenant_id = $1 AND creative_id = $2`, tenantID, creativeID).
		Scan(&c.CreativeID, &c.TenantID, &c.PrincipalID, &c.Name, &c.FormatID, &c.URL, &c.CreatedAt)
	if err != nil {
		return nil, wrap("GetCreative", creativeID, translate(err))
	}
	return &c, nil
}

func insertMappings(ctx context.Context, tx pgx.Tx, stepID string, objects []models.ObjectRef, action models.MappingAction, at time.Time) error {
	for _, o := range objects {
		if _, err := tx.Exec(ctx, `INSERT INTO object_workflow_mapping (object_type, object_id, step_id, action, created_at)
			VALUES ($1, $2, $3, $4, $5)`, o.ObjectType, o.ObjectID, stepID, action, at); err != nil {
			return fmt.Errorf("insert mapping for %s %s: %w", o.ObjectType, o.ObjectID, err)
		}
	}
	return nil
}

func touchContext(ctx context.Context, tx pgx.Tx, contextID *string, at time.Time) error {
	if contextID == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE contexts SET last_activity_at = $2 WHERE context_id = $1 AND last_activity_at < $2`, *contextID, at)
	return err
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		t       models.Tenant
		adapter []byte
	)
	if err := row.Scan(&t.TenantID, &t.Name, &t.Domain, &t.HumanReviewRequired, &adapter, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	if err := json.Unmarshal(adapter, &t.Adapter); err != nil {
		return nil, fmt.Errorf("decode adapter_config: %w", err)
	}
	return &t, nil
}

func scanStep(row pgx.Row) (*models.WorkflowStep, error) {
	var (
		step                    models.WorkflowStep
		request, response       []byte
		comments, push, objects []byte
	)
	err := row.Scan(&step.StepID, &step.ContextID, &step.TenantID, &step.PrincipalID, &step.StepType, &step.ToolName,
		&request, &response, &step.Status, &step.Owner, &step.AssignedTo, &step.CreatedAt, &step.UpdatedAt,
		&step.CompletedAt, &step.ErrorMessage, &comments, &push, &objects)
	if err != nil {
		return nil, translate(err)
	}
	step.RequestData = request
	step.ResponseData = response
	if err := json.Unmarshal(comments, &step.Comments); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	if err := json.Unmarshal(objects, &step.Objects); err != nil {
		return nil, fmt.Errorf("decode objects: %w", err)
	}
	if len(push) > 0 {
		step.PushNotification = &models.PushNotificationConfig{}
		if err := json.Unmarshal(push, step.PushNotification); err != nil {
			return nil, fmt.Errorf("decode push_notification_config: %w", err)
		}
	}
	return &step, nil
}

// translate maps driver errors onto the package's sentinel errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
		case "23503":
			// referenced context or tenant is missing
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nonNilHistory(h []models.ConversationEntry) []models.ConversationEntry {
	if h == nil {
		return []models.ConversationEntry{}
	}
	return h
}

func nonNilComments(c []models.StepComment) []models.StepComment {
	if c == nil {
		return []models.StepComment{}
	}
	return c
}

func nonNilObjects(o []models.ObjectRef) []models.ObjectRef {
	if o == nil {
		return []models.ObjectRef{}
	}
	return o
}
