package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/moogar0880/problems"

	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/internal/services"
	"adcp-sales-agent/internal/workflow"
)

const problemContentType = "application/problem+json"

func writeProblem(c echo.Context, status int, problemType, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request().URL.Path).
		WithType(problemType).
		WithDetail(detail)
	c.Response().Header().Set(echo.HeaderContentType, problemContentType)
	return c.JSON(status, problem)
}

// serviceProblem maps a service error onto an HTTP problem.
func serviceProblem(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	var svcErr *services.Error
	switch {
	case errors.As(err, &verrs):
		return writeProblem(c, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return writeProblem(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, workflow.ErrTerminalStep), errors.Is(err, workflow.ErrInvalidTransition):
		return writeProblem(c, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, workflow.ErrConcurrentTransition):
		return writeProblem(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, workflow.ErrQueueFull), errors.Is(err, workflow.ErrDispatcherStopped):
		return writeProblem(c, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.As(err, &svcErr):
		return writeProblem(c, http.StatusBadRequest, svcErr.Code, err.Error())
	}
	c.Logger().Error(err)
	return writeProblem(c, http.StatusInternalServerError, "internal_error", "internal error")
}

// ErrorHandler renders errors that escape handlers, including those raised by
// middleware, as problems.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	detail := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		} else {
			detail = http.StatusText(status)
		}
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request().URL.Path).
		WithDetail(detail)
	c.Response().Header().Set(echo.HeaderContentType, problemContentType)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, problem)
}
