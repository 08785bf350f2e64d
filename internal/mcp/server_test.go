package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adcp-sales-agent/internal/adapters"
	"adcp-sales-agent/internal/approval"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/internal/services"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNop()
	store := repository.NewMemoryStore()

	review := true
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{
		TenantID:            "t1",
		Name:                "Daily Planet",
		Domain:              "dailyplanet.example",
		HumanReviewRequired: &review,
		Adapter:             models.AdapterConfig{Type: models.AdapterTypeMock},
	}))
	require.NoError(t, store.CreatePrincipal(ctx, &models.Principal{
		PrincipalID: "p1", TenantID: "t1", Name: "Acme", AccessToken: "tok-acme",
	}))

	ledger, err := workflow.NewLedger(store, nil, logger)
	require.NoError(t, err)
	resolver, err := approval.NewResolver(store, logger)
	require.NoError(t, err)
	dispatcher := workflow.NewDispatcher(workflow.DispatcherConfig{}, logger)
	dispatcher.Start(ctx)
	t.Cleanup(func() { _ = dispatcher.Stop() })

	svc := services.NewMediaBuyService(services.Deps{
		Store:      store,
		Ledger:     ledger,
		Resolver:   resolver,
		Adapters:   adapters.NewRegistry(store, logger),
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	return NewServer(svc, store, logger)
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func payload(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	p, ok := body["payload"].(map[string]any)
	require.True(t, ok)
	return p
}

func firstErrorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errs, ok := payload(t, body)["errors"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, errs)
	return errs[0].(map[string]any)["code"].(string)
}

func mediaBuyArgs() map[string]any {
	return map[string]any{
		"buyer_ref":  "acme-q3",
		"budget":     5000,
		"currency":   "USD",
		"start_time": "2025-07-01T00:00:00Z",
		"end_time":   "2025-07-31T00:00:00Z",
		"packages":   []any{map[string]any{"product_id": "run_of_site"}},
	}
}

func TestToolsRequireAuthentication(t *testing.T) {
	s := newTestServer(t)

	for _, token := range []string{"", "wrong"} {
		ctx := WithToken(context.Background(), token)
		res, err := s.handleCreateMediaBuy(ctx, toolRequest(services.ToolCreateMediaBuy, mediaBuyArgs()))
		require.NoError(t, err)
		assert.True(t, res.IsError)

		body := decode(t, res)
		assert.Equal(t, "auth-required", body["status"])
		assert.Equal(t, "auth_required", firstErrorCode(t, body))
	}
}

func TestCreateMediaBuyThenGetTask(t *testing.T) {
	s := newTestServer(t)
	ctx := WithToken(context.Background(), "tok-acme")

	res, err := s.handleCreateMediaBuy(ctx, toolRequest(services.ToolCreateMediaBuy, mediaBuyArgs()))
	require.NoError(t, err)
	require.False(t, res.IsError)

	created := decode(t, res)
	assert.Equal(t, "submitted", created["status"])
	assert.Contains(t, created["message"], "awaiting publisher approval")
	taskID := created["task_id"].(string)
	require.NotEmpty(t, taskID)

	res, err = s.handleGetTask(ctx, toolRequest(services.ToolGetTask, map[string]any{"task_id": taskID}))
	require.NoError(t, err)
	task := decode(t, res)
	// requires_approval is reported to buyers as submitted
	assert.Equal(t, "submitted", task["status"])
	assert.Equal(t, taskID, task["task_id"])

	res, err = s.handleCheckMediaBuyStatus(ctx, toolRequest(services.ToolCheckMediaBuyStatus,
		map[string]any{"media_buy_id": payload(t, created)["media_buy_id"]}))
	require.NoError(t, err)
	assert.Equal(t, "submitted", decode(t, res)["status"])

	res, err = s.handleListTasks(ctx, toolRequest(services.ToolListTasks, map[string]any{}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, payload(t, decode(t, res))["count"])
}

func TestInvalidArguments(t *testing.T) {
	s := newTestServer(t)
	ctx := WithToken(context.Background(), "tok-acme")

	args := mediaBuyArgs()
	args["budget"] = -1
	res, err := s.handleCreateMediaBuy(ctx, toolRequest(services.ToolCreateMediaBuy, args))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	body := decode(t, res)
	assert.Equal(t, "input-required", body["status"])
	assert.Equal(t, "validation_error", firstErrorCode(t, body))

	args = mediaBuyArgs()
	args["start_time"] = "next tuesday"
	res, err = s.handleCreateMediaBuy(ctx, toolRequest(services.ToolCreateMediaBuy, args))
	require.NoError(t, err)
	assert.Equal(t, "input-required", decode(t, res)["status"])
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	s := newTestServer(t)
	ctx := WithToken(context.Background(), "tok-acme")

	res, err := s.handleGetTask(ctx, toolRequest(services.ToolGetTask, map[string]any{"task_id": "step_missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	body := decode(t, res)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "not_found", firstErrorCode(t, body))
}
