// Package mcp exposes the buyer tools of the sales agent over the Model
// Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/services"
	"adcp-sales-agent/pkg/models"
)

// AuthHeader carries the buyer's access token.
const AuthHeader = "x-adcp-auth"

// Principals authenticates access tokens.
type Principals interface {
	GetPrincipalByToken(ctx context.Context, token string) (*models.Principal, error)
}

// BuyerService is the buyer-facing operation set.
type BuyerService interface {
	CreateMediaBuy(ctx context.Context, principal *models.Principal, req services.CreateMediaBuyRequest) (*envelope.Envelope, error)
	CheckMediaBuyStatus(ctx context.Context, principal *models.Principal, mediaBuyID string) (*envelope.Envelope, error)
	SyncCreatives(ctx context.Context, principal *models.Principal, req services.SyncCreativesRequest) (*envelope.Envelope, error)
	GetTask(ctx context.Context, principal *models.Principal, taskID string) (*envelope.Envelope, error)
	ListTasks(ctx context.Context, principal *models.Principal, req services.ListTasksRequest) (*envelope.Envelope, error)
}

var errUnauthenticated = errors.New("missing or invalid " + AuthHeader + " token")

// authError is returned to buyers whose token does not resolve to a principal.
type authError struct{ err error }

func (e *authError) Error() string                   { return e.err.Error() }
func (e *authError) Unwrap() error                   { return e.err }
func (e *authError) EnvelopeStatus() envelope.Status { return envelope.StatusAuthRequired }
func (e *authError) ErrorCode() string               { return "auth_required" }

type tokenKey struct{}

// WithToken returns a context carrying a buyer access token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

type checkStatusArgs struct {
	MediaBuyID string `json:"media_buy_id" jsonschema:"required,description=Media buy returned by create_media_buy"`
}

type getTaskArgs struct {
	TaskID string `json:"task_id" jsonschema:"required,description=Task id returned with a submitted response"`
}

type Server struct {
	mcpServer  *server.MCPServer
	service    BuyerService
	principals Principals
	logger     *logging.Logger

	// tokens remembers the token presented when each SSE session connected.
	tokens sync.Map
}

func NewServer(service BuyerService, principals Principals, logger *logging.Logger) *Server {
	s := &Server{
		service:    service,
		principals: principals,
		logger:     logger.With("module", "mcp"),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		s.tokens.Delete(session.SessionID())
	})

	s.mcpServer = server.NewMCPServer(
		"AdCP Sales Agent",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(services.ToolCreateMediaBuy,
			mcp.WithDescription("Create a media buy. Returns a submitted task; poll get_task or supply a push_notification_config to learn the outcome."),
			mcp.WithInputSchema[services.CreateMediaBuyRequest](),
		),
		s.handleCreateMediaBuy,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(services.ToolCheckMediaBuyStatus,
			mcp.WithDescription("Report the status of a media buy"),
			mcp.WithInputSchema[checkStatusArgs](),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleCheckMediaBuyStatus,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(services.ToolSyncCreatives,
			mcp.WithDescription("Upload creatives for review. Each creative gets its own task."),
			mcp.WithInputSchema[services.SyncCreativesRequest](),
		),
		s.handleSyncCreatives,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(services.ToolGetTask,
			mcp.WithDescription("Get one task and its result"),
			mcp.WithInputSchema[getTaskArgs](),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetTask,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(services.ToolListTasks,
			mcp.WithDescription("List your tasks, newest first, optionally filtered by context and state"),
			mcp.WithInputSchema[services.ListTasksRequest](),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListTasks,
	)
}

// authenticate resolves the caller before any tenant-scoped work happens.
func (s *Server) authenticate(ctx context.Context) (*models.Principal, error) {
	token := strings.TrimSpace(tokenFrom(ctx))
	if token == "" {
		return nil, &authError{err: errUnauthenticated}
	}
	principal, err := s.principals.GetPrincipalByToken(ctx, token)
	if err != nil {
		s.logger.Warn("rejected buyer token", "error", err)
		return nil, &authError{err: errUnauthenticated}
	}
	return principal, nil
}

// call authenticates, binds the arguments into T and runs op. Every outcome,
// including failures, is returned as an envelope.
func call[T any](s *Server, ctx context.Context, request mcp.CallToolRequest, op func(context.Context, *models.Principal, T) (*envelope.Envelope, error)) (*mcp.CallToolResult, error) {
	principal, err := s.authenticate(ctx)
	if err != nil {
		return toolResult(nil, err), nil
	}

	var args T
	if err := request.BindArguments(&args); err != nil {
		return toolResult(nil, &services.Error{
			Code:   "invalid_arguments",
			Status: envelope.StatusInputRequired,
			Err:    err,
		}), nil
	}

	env, err := op(ctx, principal, args)
	if err != nil {
		s.logger.Info("tool call failed", "tool", request.Params.Name, "tenant_id", principal.TenantID, "error", err)
	}
	return toolResult(env, err), nil
}

func toolResult(env *envelope.Envelope, err error) *mcp.CallToolResult {
	if err != nil {
		env = envelope.FromError(err)
	}
	body, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return mcp.NewToolResultError("failed to encode response: " + marshalErr.Error())
	}
	result := mcp.NewToolResultText(string(body))
	result.IsError = err != nil
	return result
}

func (s *Server) handleCreateMediaBuy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(s, ctx, request, s.service.CreateMediaBuy)
}

func (s *Server) handleCheckMediaBuyStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(s, ctx, request, func(ctx context.Context, p *models.Principal, args checkStatusArgs) (*envelope.Envelope, error) {
		return s.service.CheckMediaBuyStatus(ctx, p, args.MediaBuyID)
	})
}

func (s *Server) handleSyncCreatives(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(s, ctx, request, s.service.SyncCreatives)
}

func (s *Server) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(s, ctx, request, func(ctx context.Context, p *models.Principal, args getTaskArgs) (*envelope.Envelope, error) {
		return s.service.GetTask(ctx, p, args.TaskID)
	})
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(s, ctx, request, s.service.ListTasks)
}

// captureToken copies the auth header into the request context. A message
// without the header falls back to the token its session connected with.
func (s *Server) captureToken(ctx context.Context, r *http.Request) context.Context {
	token := r.Header.Get(AuthHeader)
	session := server.ClientSessionFromContext(ctx)
	switch {
	case token != "" && session != nil:
		s.tokens.Store(session.SessionID(), token)
	case token == "" && session != nil:
		if remembered, ok := s.tokens.Load(session.SessionID()); ok {
			token = remembered.(string)
		}
	}
	return WithToken(ctx, token)
}

// SSEServer returns the SSE transport mounted under basePath.
func (s *Server) SSEServer(baseURL, basePath string) *server.SSEServer {
	return server.NewSSEServer(s.mcpServer,
		server.WithBaseURL(baseURL),
		server.WithStaticBasePath(basePath),
		server.WithSSEContextFunc(s.captureToken),
	)
}
