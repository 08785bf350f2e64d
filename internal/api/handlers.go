// Package api serves the publisher REST API: the review queue, workflow
// actions and ad server callbacks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"adcp-sales-agent/internal/auth"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/services"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

// PublisherService is the publisher-facing operation set.
type PublisherService interface {
	ListTenantTasks(ctx context.Context, tenantID string, states []models.TaskState, limit int) ([]*models.AsyncTask[map[string]any], error)
	GetTenantStep(ctx context.Context, tenantID, stepID string) (*models.WorkflowStep, error)
	Approve(ctx context.Context, tenantID, stepID, approver, comment string) (*models.WorkflowStep, error)
	Reject(ctx context.Context, tenantID, stepID, approver, reason string) (*models.WorkflowStep, error)
	Cancel(ctx context.Context, tenantID, stepID, actor, reason string) (*models.WorkflowStep, error)
	HandleAdapterCallback(ctx context.Context, cb services.AdapterCallback) (*models.WorkflowStep, error)
}

// TenantCache forgets cached tenant configuration.
type TenantCache interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// AdapterReloader forgets a tenant's adapter.
type AdapterReloader interface {
	Reload(tenantID string)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the HTTP handlers of the publisher API.
type Handler struct {
	service  PublisherService
	tenants  TenantCache
	adapters AdapterReloader
	store    Pinger
	logger   *logging.Logger
	version  string
}

// NewHandler creates a new Handler with required dependencies.
func NewHandler(service PublisherService, tenants TenantCache, adapters AdapterReloader, store Pinger, logger *logging.Logger, version string) *Handler {
	return &Handler{
		service:  service,
		tenants:  tenants,
		adapters: adapters,
		store:    store,
		logger:   logger.With("module", "api"),
		version:  version,
	}
}

var _ ServerInterface = (*Handler)(nil)

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

func (h *Handler) GetHealth(c echo.Context) error {
	if err := h.store.Ping(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		return writeProblem(c, http.StatusServiceUnavailable, "unavailable", "storage unreachable")
	}
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "adcp-sales-agent",
		Version:   h.version,
	})
}

type taskList struct {
	Tasks []*models.AsyncTask[map[string]any] `json:"tasks"`
	Count int                                 `json:"count"`
}

func (h *Handler) ListTasks(c echo.Context, params ListTasksParams) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	for _, s := range params.Status {
		if models.ParseTaskState(string(s)) != s {
			return writeProblem(c, http.StatusBadRequest, "validation_error", "unknown task state "+string(s))
		}
	}
	limit := 0
	if params.Limit != nil {
		if *params.Limit < 0 || *params.Limit > 500 {
			return writeProblem(c, http.StatusBadRequest, "validation_error", "limit must be between 0 and 500")
		}
		limit = *params.Limit
	}

	tasks, err := h.service.ListTenantTasks(c.Request().Context(), tenantID, params.Status, limit)
	if err != nil {
		return serviceProblem(c, err)
	}
	return c.JSON(http.StatusOK, taskList{Tasks: tasks, Count: len(tasks)})
}

// TaskDetail is a task together with what the buyer asked for and the
// review trail.
type TaskDetail struct {
	*models.AsyncTask[map[string]any]
	Request  json.RawMessage      `json:"request,omitempty"`
	Comments []models.StepComment `json:"comments,omitempty"`
	Objects  []models.ObjectRef   `json:"objects,omitempty"`
}

func (h *Handler) GetTask(c echo.Context, stepID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	step, err := h.service.GetTenantStep(c.Request().Context(), tenantID, stepID)
	if err != nil {
		return serviceProblem(c, err)
	}
	task, err := workflow.TaskFromStep[map[string]any](step)
	if err != nil {
		return serviceProblem(c, err)
	}
	return c.JSON(http.StatusOK, TaskDetail{
		AsyncTask: task,
		Request:   step.RequestData,
		Comments:  step.Comments,
		Objects:   step.Objects,
	})
}

type actionBody struct {
	Comment string `json:"comment"`
	Reason  string `json:"reason"`
}

func (h *Handler) ApproveTask(c echo.Context, stepID string) error {
	return h.act(c, stepID, func(ctx context.Context, tenantID, actor string, body actionBody) (*models.WorkflowStep, error) {
		return h.service.Approve(ctx, tenantID, stepID, actor, body.Comment)
	})
}

func (h *Handler) RejectTask(c echo.Context, stepID string) error {
	return h.act(c, stepID, func(ctx context.Context, tenantID, actor string, body actionBody) (*models.WorkflowStep, error) {
		if strings.TrimSpace(body.Reason) == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "reason is required")
		}
		return h.service.Reject(ctx, tenantID, stepID, actor, body.Reason)
	})
}

func (h *Handler) CancelTask(c echo.Context, stepID string) error {
	return h.act(c, stepID, func(ctx context.Context, tenantID, actor string, body actionBody) (*models.WorkflowStep, error) {
		return h.service.Cancel(ctx, tenantID, stepID, actor, body.Reason)
	})
}

func (h *Handler) act(c echo.Context, stepID string, op func(ctx context.Context, tenantID, actor string, body actionBody) (*models.WorkflowStep, error)) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var body actionBody
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return writeProblem(c, http.StatusBadRequest, "validation_error", "invalid request body")
		}
	}

	ctx := c.Request().Context()
	step, err := op(ctx, tenantID, auth.StaffEmail(ctx), body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return serviceProblem(c, err)
	}
	return respondTask(c, step)
}

func (h *Handler) ReloadTenant(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	if err := h.tenants.Invalidate(c.Request().Context(), tenantID); err != nil {
		return serviceProblem(c, err)
	}
	h.adapters.Reload(tenantID)
	h.logger.Info("tenant configuration reloaded", "tenant_id", tenantID, "by", auth.StaffEmail(c.Request().Context()))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AdapterCallback(c echo.Context) error {
	var cb services.AdapterCallback
	if err := c.Bind(&cb); err != nil {
		return writeProblem(c, http.StatusBadRequest, "validation_error", "invalid callback body")
	}
	step, err := h.service.HandleAdapterCallback(c.Request().Context(), cb)
	if err != nil {
		return serviceProblem(c, err)
	}
	return respondTask(c, step)
}

func respondTask(c echo.Context, step *models.WorkflowStep) error {
	task, err := workflow.TaskFromStep[map[string]any](step)
	if err != nil {
		return serviceProblem(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

func tenantOf(c echo.Context) (string, error) {
	tenantID, ok := auth.TenantID(c.Request().Context())
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "tenant not resolved")
	}
	return tenantID, nil
}
