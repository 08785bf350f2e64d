package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"adcp-sales-agent/pkg/models"
)

// ServerInterface is implemented by the publisher API handlers.
type ServerInterface interface {
	// (GET /health)
	GetHealth(ctx echo.Context) error
	// (GET /api/v1/tasks)
	ListTasks(ctx echo.Context, params ListTasksParams) error
	// (GET /api/v1/tasks/{step_id})
	GetTask(ctx echo.Context, stepID string) error
	// (POST /api/v1/tasks/{step_id}/approve)
	ApproveTask(ctx echo.Context, stepID string) error
	// (POST /api/v1/tasks/{step_id}/reject)
	RejectTask(ctx echo.Context, stepID string) error
	// (POST /api/v1/tasks/{step_id}/cancel)
	CancelTask(ctx echo.Context, stepID string) error
	// (POST /api/v1/tenants/reload)
	ReloadTenant(ctx echo.Context) error
	// (POST /callbacks/adapter)
	AdapterCallback(ctx echo.Context) error
}

// ListTasksParams are the query parameters of ListTasks.
type ListTasksParams struct {
	Status []models.TaskState `form:"status" json:"status,omitempty"`
	Limit  *int               `form:"limit" json:"limit,omitempty"`
}

// ServerInterfaceWrapper binds request parameters before calling handlers.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) GetHealth(ctx echo.Context) error {
	return w.Handler.GetHealth(ctx)
}

func (w *ServerInterfaceWrapper) ListTasks(ctx echo.Context) error {
	var params ListTasksParams
	if err := runtime.BindQueryParameter("form", true, false, "status", ctx.QueryParams(), &params.Status); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter status: "+err.Error())
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", ctx.QueryParams(), &params.Limit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter limit: "+err.Error())
	}
	return w.Handler.ListTasks(ctx, params)
}

func (w *ServerInterfaceWrapper) bindStepID(ctx echo.Context) (string, error) {
	var stepID string
	err := runtime.BindStyledParameterWithOptions("simple", "step_id", ctx.Param("step_id"), &stepID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter step_id: "+err.Error())
	}
	return stepID, nil
}

func (w *ServerInterfaceWrapper) GetTask(ctx echo.Context) error {
	stepID, err := w.bindStepID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetTask(ctx, stepID)
}

func (w *ServerInterfaceWrapper) ApproveTask(ctx echo.Context) error {
	stepID, err := w.bindStepID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ApproveTask(ctx, stepID)
}

func (w *ServerInterfaceWrapper) RejectTask(ctx echo.Context) error {
	stepID, err := w.bindStepID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.RejectTask(ctx, stepID)
}

func (w *ServerInterfaceWrapper) CancelTask(ctx echo.Context) error {
	stepID, err := w.bindStepID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CancelTask(ctx, stepID)
}

func (w *ServerInterfaceWrapper) ReloadTenant(ctx echo.Context) error {
	return w.Handler.ReloadTenant(ctx)
}

func (w *ServerInterfaceWrapper) AdapterCallback(ctx echo.Context) error {
	return w.Handler.AdapterCallback(ctx)
}

// Routes groups the middleware each part of the API runs behind.
type Routes struct {
	// RequireStaff authenticates publisher staff on /api/v1.
	RequireStaff echo.MiddlewareFunc
	// VerifyCallback checks adapter callback signatures. Without it the
	// callback route is not mounted.
	VerifyCallback echo.MiddlewareFunc
}

// RegisterHandlers mounts si on e.
func RegisterHandlers(e *echo.Echo, si ServerInterface, routes Routes) {
	w := &ServerInterfaceWrapper{Handler: si}

	e.GET("/health", w.GetHealth)

	var staff []echo.MiddlewareFunc
	if routes.RequireStaff != nil {
		staff = append(staff, routes.RequireStaff)
	}
	v1 := e.Group("/api/v1", staff...)
	v1.GET("/tasks", w.ListTasks)
	v1.GET("/tasks/:step_id", w.GetTask)
	v1.POST("/tasks/:step_id/approve", w.ApproveTask)
	v1.POST("/tasks/:step_id/reject", w.RejectTask)
	v1.POST("/tasks/:step_id/cancel", w.CancelTask)
	v1.POST("/tenants/reload", w.ReloadTenant)

	if routes.VerifyCallback != nil {
		e.POST("/callbacks/adapter", w.AdapterCallback, routes.VerifyCallback)
	}
}
