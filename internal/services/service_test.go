package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"adcp-sales-agent/internal/adapters"
	"adcp-sales-agent/internal/approval"
	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

type mockReviewer struct {
	mock.Mock
}

func (m *mockReviewer) ReviewCreative(ctx context.Context, creative *models.Creative) (*ReviewResult, error) {
	args := m.Called(ctx, creative)
	if r := args.Get(0); r != nil {
		return r.(*ReviewResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type refusingDispatcher struct{}

func (refusingDispatcher) Submit(workflow.Job) error { return workflow.ErrQueueFull }

// brokenObjects fails every media buy and creative write.
type brokenObjects struct {
	*repository.MemoryStore
}

var errStoreDown = errors.New("store unavailable")

func (brokenObjects) CreateMediaBuy(context.Context, *models.MediaBuy) error { return errStoreDown }

func (brokenObjects) CreateCreative(context.Context, *models.Creative) error { return errStoreDown }

type fixtureOptions struct {
	humanReview *bool
	mock        models.MockAdapterConfig
	reviewer    CreativeReviewer
	dispatcher  Dispatcher
	wrapStore   func(*repository.MemoryStore) Store
}

type fixture struct {
	store     *repository.MemoryStore
	ledger    *workflow.Ledger
	svc       *MediaBuyService
	principal *models.Principal
}

func boolPtr(b bool) *bool { return &b }

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNop()

	store := repository.NewMemoryStore()
	mockCfg := opts.mock
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{
		TenantID:            "t1",
		Name:                "Daily Planet",
		Domain:              "dailyplanet.example",
		HumanReviewRequired: opts.humanReview,
		Adapter:             models.AdapterConfig{Type: models.AdapterTypeMock, Mock: &mockCfg},
	}))
	principal := &models.Principal{PrincipalID: "p1", TenantID: "t1", Name: "Acme Buyer", AccessToken: "tok-acme"}
	require.NoError(t, store.CreatePrincipal(ctx, principal))

	ledger, err := workflow.NewLedger(store, nil, logger)
	require.NoError(t, err)
	resolver, err := approval.NewResolver(store, logger)
	require.NoError(t, err)

	dispatcher := opts.dispatcher
	if dispatcher == nil {
		d := workflow.NewDispatcher(workflow.DispatcherConfig{}, logger)
		d.Start(ctx)
		t.Cleanup(func() { _ = d.Stop() })
		dispatcher = d
	}

	var svcStore Store = store
	if opts.wrapStore != nil {
		svcStore = opts.wrapStore(store)
	}
	svc := NewMediaBuyService(Deps{
		Store:            svcStore,
		Ledger:           ledger,
		Resolver:         resolver,
		Adapters:         adapters.NewRegistry(store, logger),
		Dispatcher:       dispatcher,
		Reviewer:         opts.reviewer,
		Logger:           logger,
		PollAfterSeconds: 30,
	})
	return &fixture{store: store, ledger: ledger, svc: svc, principal: principal}
}

func (f *fixture) waitForStatus(t *testing.T, stepID string, want models.StepStatus) *models.WorkflowStep {
	t.Helper()
	var step *models.WorkflowStep
	require.Eventually(t, func() bool {
		s, err := f.ledger.Get(context.Background(), stepID)
		if err != nil {
			return false
		}
		step = s
		return s.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return step
}

func (f *fixture) mappingActions(t *testing.T, stepID string) []models.MappingAction {
	t.Helper()
	mappings, err := f.store.MappingsForStep(context.Background(), stepID)
	require.NoError(t, err)
	out := make([]models.MappingAction, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, m.Action)
	}
	return out
}

func mediaBuyRequest() CreateMediaBuyRequest {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return CreateMediaBuyRequest{
		BuyerRef:  "acme-summer",
		Budget:    25000,
		Currency:  "USD",
		StartTime: start,
		EndTime:   start.Add(30 * 24 * time.Hour),
		Packages:  []models.Package{{ProductID: "homepage_takeover", Impressions: 1000000}},
	}
}

func TestMediaBuyApprovalEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})

	env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusSubmitted, env.Status)
	assert.Equal(t, "requires_approval", env.Payload["status"])
	assert.NotEmpty(t, env.TaskID)
	assert.NotEmpty(t, env.ContextID)
	assert.EqualValues(t, 30, env.Payload["poll_after_seconds"])

	step, err := f.ledger.Get(ctx, env.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRequiresApproval, step.Status)

	pending, err := workflow.TaskFromStep[adapters.Result](step)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateRequiresApproval, pending.Status.State)
	assert.True(t, pending.NeedsInput())
	assert.Nil(t, pending.Result)

	approved, err := f.svc.Approve(ctx, "t1", env.TaskID, "ops@dailyplanet.example", "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusInProgress, approved.Status)

	done := f.waitForStatus(t, env.TaskID, models.StepStatusCompleted)
	assert.NotNil(t, done.CompletedAt)

	task, err := workflow.TaskFromStep[adapters.Result](done)
	require.NoError(t, err)
	assert.True(t, task.IsSuccess())
	require.NotNil(t, task.Result)
	assert.Contains(t, task.Result.PlatformID, "mock-create_media_buy-")

	assert.Equal(t, []models.MappingAction{
		models.ActionCreate, models.ActionUpdate, models.ActionApprove, models.ActionUpdate,
	}, f.mappingActions(t, env.TaskID))

	status, err := f.svc.CheckMediaBuyStatus(ctx, f.principal, env.Payload["media_buy_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusCompleted, status.Status)
	assert.Equal(t, task.Result.PlatformID, status.Payload["platform_order_id"])
}

func TestMediaBuyWithoutApprovalExecutesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false)})

	env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusSubmitted, env.Status)
	assert.Equal(t, "working", env.Payload["status"])

	f.waitForStatus(t, env.TaskID, models.StepStatusCompleted)
	assert.Equal(t, []models.MappingAction{
		models.ActionCreate, models.ActionUpdate, models.ActionUpdate,
	}, f.mappingActions(t, env.TaskID))
}

func TestAdapterPolicyAloneRequiresApproval(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		humanReview: boolPtr(false),
		mock:        models.MockAdapterConfig{ManualApprovalOperations: []string{ToolCreateMediaBuy}},
	})

	env, err := f.svc.CreateMediaBuy(context.Background(), f.principal, mediaBuyRequest())
	require.NoError(t, err)
	assert.Equal(t, "requires_approval", env.Payload["status"])
}

func TestUnsetTenantFlagRequiresApproval(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	env, err := f.svc.CreateMediaBuy(context.Background(), f.principal, mediaBuyRequest())
	require.NoError(t, err)
	assert.Equal(t, "requires_approval", env.Payload["status"])
}

func TestCreateMediaBuyValidation(t *testing.T) {
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false)})
	req := mediaBuyRequest()
	req.Budget = 0
	req.EndTime = req.StartTime.Add(-time.Hour)

	_, err := f.svc.CreateMediaBuy(context.Background(), f.principal, req)
	require.Error(t, err)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Equal(t, envelope.StatusInputRequired, envelope.FromError(err).Status)
}

func TestCreateMediaBuyRejectsForeignContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false)})
	other, err := f.ledger.EnsureContext(ctx, "t1", "someone-else", "")
	require.NoError(t, err)

	req := mediaBuyRequest()
	req.ContextID = other.ContextID
	_, err = f.svc.CreateMediaBuy(ctx, f.principal, req)
	require.ErrorIs(t, err, workflow.ErrContextMismatch)
	assert.Equal(t, envelope.StatusInputRequired, envelope.FromError(err).Status)
}

func TestAdapterFailureFailsStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{
		humanReview: boolPtr(false),
		mock:        models.MockAdapterConfig{FailOperations: []string{ToolCreateMediaBuy}},
	})

	env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)

	failed := f.waitForStatus(t, env.TaskID, models.StepStatusFailed)
	assert.Contains(t, failed.ErrorMessage, "simulated ad server failure")

	status, err := f.svc.CheckMediaBuyStatus(ctx, f.principal, env.Payload["media_buy_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusFailed, status.Status)
	assert.Contains(t, status.Payload["error_message"], "simulated ad server failure")
}

func TestUnschedulableExecutionFailsStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false), dispatcher: refusingDispatcher{}})

	_, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.ErrorIs(t, err, workflow.ErrQueueFull)

	steps, err := f.ledger.List(ctx, repository.StepFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
}

func TestRejectedMediaBuy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})

	env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, "t1", env.TaskID, "ops@dailyplanet.example", "budget too low for takeover")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, rejected.Status)

	got, err := f.svc.GetTask(ctx, f.principal, env.TaskID)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusRejected, got.Status)
	assert.Equal(t, "budget too low for takeover", got.Payload["error"])

	_, err = f.svc.Approve(ctx, "t1", env.TaskID, "ops@dailyplanet.example", "")
	require.ErrorIs(t, err, workflow.ErrTerminalStep)
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "invalid_transition", svcErr.Code)
}

func TestCancelPendingApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})

	env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)

	canceled, err := f.svc.Cancel(ctx, "t1", env.TaskID, "p1", "campaign pulled")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCanceled, canceled.Status)
	assert.Equal(t, models.ActionCancel, f.mappingActions(t, env.TaskID)[2])

	_, err = f.svc.Cancel(ctx, "t1", env.TaskID, "p1", "again")
	assert.ErrorIs(t, err, workflow.ErrTerminalStep)
}

func TestPublisherActionsAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})

	env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, "t2", env.TaskID, "ops@elsewhere.example", "")
	require.ErrorIs(t, err, repository.ErrNotFound)

	step, err := f.ledger.Get(ctx, env.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRequiresApproval, step.Status)
}

func TestBuyerReadsArePrincipalScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})
	env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)

	stranger := &models.Principal{PrincipalID: "p2", TenantID: "t1"}
	_, err = f.svc.CheckMediaBuyStatus(ctx, stranger, env.Payload["media_buy_id"].(string))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.svc.GetTask(ctx, stranger, env.TaskID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListTasksSeparatesRejectedFromFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})

	var ids []string
	for i := 0; i < 3; i++ {
		env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
		require.NoError(t, err)
		ids = append(ids, env.TaskID)
	}
	_, err := f.svc.Reject(ctx, "t1", ids[0], "ops", "no")
	require.NoError(t, err)
	_, err = f.ledger.Approve(ctx, ids[1], "ops", "")
	require.NoError(t, err)
	_, err = f.ledger.Fail(ctx, ids[1], "ad server down")
	require.NoError(t, err)

	env, err := f.svc.ListTasks(ctx, f.principal, ListTasksRequest{Status: []models.TaskState{models.TaskStateRejected}})
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusCompleted, env.Status)
	assert.EqualValues(t, 1, env.Payload["count"])

	env, err = f.svc.ListTasks(ctx, f.principal, ListTasksRequest{Status: []models.TaskState{models.TaskStateFailed}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, env.Payload["count"])

	env, err = f.svc.ListTasks(ctx, f.principal, ListTasksRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, env.Payload["count"])
	assert.Equal(t, "Found 3 task(s)", env.Message)

	pending, err := f.svc.ListTenantTasks(ctx, "t1", []models.TaskState{models.TaskStateRequiresApproval}, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[2], pending[0].TaskID)
}

func TestListTasksLimitCountsMatchingTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})

	var ids []string
	for i := 0; i < 3; i++ {
		env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
		require.NoError(t, err)
		ids = append(ids, env.TaskID)
	}
	for _, id := range ids[:2] {
		_, err := f.svc.Reject(ctx, "t1", id, "ops", "no")
		require.NoError(t, err)
	}
	_, err := f.ledger.Approve(ctx, ids[2], "ops", "")
	require.NoError(t, err)
	_, err = f.ledger.Fail(ctx, ids[2], "ad server down")
	require.NoError(t, err)

	env, err := f.svc.ListTasks(ctx, f.principal, ListTasksRequest{
		Status: []models.TaskState{models.TaskStateRejected},
		Limit:  2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, env.Payload["count"])

	tasks, err := f.svc.ListTenantTasks(ctx, "t1", []models.TaskState{models.TaskStateFailed}, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, ids[2], tasks[0].TaskID)

	tasks, err = f.svc.ListTenantTasks(ctx, "t1", nil, 2)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestListTasksForUnreachableState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})
	_, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)

	env, err := f.svc.ListTasks(ctx, f.principal, ListTasksRequest{Status: []models.TaskState{models.TaskStateInputRequired}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, env.Payload["count"])
	assert.Empty(t, env.Payload["tasks"])
}

func TestFailedObjectWriteCancelsStep(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		humanReview: boolPtr(true),
		wrapStore:   func(m *repository.MemoryStore) Store { return brokenObjects{m} },
	})
	ctx := context.Background()

	_, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.ErrorIs(t, err, errStoreDown)
	_, err = f.svc.SyncCreatives(ctx, f.principal, SyncCreativesRequest{
		Creatives: []CreativeInput{{Name: "Banner", FormatID: "display_300x250", URL: "https://cdn.example/b.png"}},
	})
	require.ErrorIs(t, err, errStoreDown)

	steps, err := f.ledger.List(ctx, repository.StepFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, step := range steps {
		assert.Equal(t, models.StepStatusCanceled, step.Status, step.ToolName)
		assert.Contains(t, step.ErrorMessage, errStoreDown.Error())
	}
}

func TestAdapterCallbackCompletesStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false)})

	conv, err := f.ledger.EnsureContext(ctx, "t1", "p1", "")
	require.NoError(t, err)
	step, err := f.ledger.CreateStep(ctx, workflow.NewStep{
		TenantID: "t1", PrincipalID: "p1", ContextID: conv.ContextID, ToolName: ToolCreateMediaBuy,
		Objects: []models.ObjectRef{{ObjectType: models.ObjectTypeMediaBuy, ObjectID: "mb_cb"}},
	})
	require.NoError(t, err)
	_, err = f.ledger.Start(ctx, step.StepID)
	require.NoError(t, err)

	done, err := f.svc.HandleAdapterCallback(ctx, AdapterCallback{StepID: step.StepID, Status: "completed", PlatformID: "gam-123"})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, done.Status)
	task, err := workflow.TaskFromStep[adapters.Result](done)
	require.NoError(t, err)
	assert.Equal(t, "gam-123", task.Result.PlatformID)

	_, err = f.svc.HandleAdapterCallback(ctx, AdapterCallback{StepID: step.StepID, Status: "failed"})
	assert.ErrorIs(t, err, workflow.ErrTerminalStep)

	_, err = f.svc.HandleAdapterCallback(ctx, AdapterCallback{StepID: step.StepID, Status: "success"})
	var verrs validator.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func creativesRequest() SyncCreativesRequest {
	return SyncCreativesRequest{Creatives: []CreativeInput{{
		Name:     "Summer banner",
		FormatID: "display_300x250",
		URL:      "https://cdn.acme.example/summer.png",
	}}}
}

func TestSyncCreativesReviewerApproves(t *testing.T) {
	ctx := context.Background()
	reviewer := &mockReviewer{}
	reviewer.On("ReviewCreative", mock.Anything, mock.AnythingOfType("*models.Creative")).
		Return(&ReviewResult{Decision: ReviewApprove, Confidence: 0.97}, nil)
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false), reviewer: reviewer})

	env, err := f.svc.SyncCreatives(ctx, f.principal, creativesRequest())
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusSubmitted, env.Status)

	creatives := env.Payload["creatives"].([]any)
	require.Len(t, creatives, 1)
	first := creatives[0].(map[string]any)
	assert.Equal(t, "submitted", first["status"])

	f.waitForStatus(t, first["task_id"].(string), models.StepStatusCompleted)
	reviewer.AssertExpectations(t)
}

func TestSyncCreativesReviewerRejectsEscalates(t *testing.T) {
	ctx := context.Background()
	reviewer := &mockReviewer{}
	reviewer.On("ReviewCreative", mock.Anything, mock.Anything).
		Return(&ReviewResult{Decision: ReviewReject, Reason: "text overlay"}, nil)
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false), reviewer: reviewer})

	env, err := f.svc.SyncCreatives(ctx, f.principal, creativesRequest())
	require.NoError(t, err)
	taskID := env.Payload["creatives"].([]any)[0].(map[string]any)["task_id"].(string)
	f.waitForStatus(t, taskID, models.StepStatusRequiresApproval)
}

func TestSyncCreativesReviewerErrorEscalates(t *testing.T) {
	ctx := context.Background()
	reviewer := &mockReviewer{}
	reviewer.On("ReviewCreative", mock.Anything, mock.Anything).Return(nil, errors.New("sidecar down"))
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false), reviewer: reviewer})

	env, err := f.svc.SyncCreatives(ctx, f.principal, creativesRequest())
	require.NoError(t, err)
	taskID := env.Payload["creatives"].([]any)[0].(map[string]any)["task_id"].(string)
	f.waitForStatus(t, taskID, models.StepStatusRequiresApproval)
}

func TestSyncCreativesHumanReviewSkipsReviewer(t *testing.T) {
	ctx := context.Background()
	reviewer := &mockReviewer{}
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true), reviewer: reviewer})

	req := creativesRequest()
	req.Creatives = append(req.Creatives, CreativeInput{
		CreativeID: "cr-fixed", Name: "Summer video", FormatID: "video_15s", URL: "https://cdn.acme.example/summer.mp4",
	})
	env, err := f.svc.SyncCreatives(ctx, f.principal, req)
	require.NoError(t, err)

	creatives := env.Payload["creatives"].([]any)
	require.Len(t, creatives, 2)
	for _, c := range creatives {
		assert.Equal(t, "requires_approval", c.(map[string]any)["status"])
	}
	assert.Equal(t, "cr-fixed", creatives[1].(map[string]any)["creative_id"])

	stored, err := f.store.GetCreative(ctx, "t1", "cr-fixed")
	require.NoError(t, err)
	assert.Equal(t, "Summer video", stored.Name)
	reviewer.AssertNotCalled(t, "ReviewCreative", mock.Anything, mock.Anything)
}

func TestSyncCreativesWithoutReviewerExecutes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(false)})

	env, err := f.svc.SyncCreatives(ctx, f.principal, creativesRequest())
	require.NoError(t, err)
	first := env.Payload["creatives"].([]any)[0].(map[string]any)
	assert.Equal(t, "working", first["status"])
	f.waitForStatus(t, first["task_id"].(string), models.StepStatusCompleted)
}

func TestConversationRecordsReplies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{humanReview: boolPtr(true)})

	env, err := f.svc.CreateMediaBuy(ctx, f.principal, mediaBuyRequest())
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, "t1", env.TaskID, "ops", "inventory sold out")
	require.NoError(t, err)

	conv, err := f.store.GetContext(ctx, env.ContextID)
	require.NoError(t, err)
	require.Len(t, conv.ConversationHistory, 2)
	assert.Equal(t, RoleAgent, conv.ConversationHistory[0].Role)
	assert.Contains(t, conv.ConversationHistory[0].Message, "awaiting publisher approval")
	assert.Equal(t, RolePublisher, conv.ConversationHistory[1].Role)
	assert.Equal(t, "create_media_buy rejected: inventory sold out", conv.ConversationHistory[1].Message)
}
