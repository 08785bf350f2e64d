package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adcp-sales-agent/pkg/models"
)

// runStoreContract exercises behavior every Repository implementation shares.
func runStoreContract(t *testing.T, store Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	tenant := &models.Tenant{
		Name:   "Acme Publishing",
		Domain: uuid.NewString() + ".example.com",
		Adapter: models.AdapterConfig{
			Type: models.AdapterTypeMock,
			Mock: &models.MockAdapterConfig{ManualApprovalOperations: []string{"create_media_buy"}},
		},
	}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	require.NotEmpty(t, tenant.TenantID)

	principal := &models.Principal{TenantID: tenant.TenantID, Name: "buyer", AccessToken: uuid.NewString()}
	require.NoError(t, store.CreatePrincipal(ctx, principal))

	contextID := "ctx_" + uuid.NewString()
	require.NoError(t, store.CreateContext(ctx, &models.Context{
		ContextID:      contextID,
		TenantID:       tenant.TenantID,
		PrincipalID:    principal.PrincipalID,
		CreatedAt:      now,
		LastActivityAt: now,
	}))

	newStep := func(objectID string) *models.WorkflowStep {
		return &models.WorkflowStep{
			StepID:      "step_" + uuid.NewString(),
			ContextID:   &contextID,
			TenantID:    tenant.TenantID,
			PrincipalID: principal.PrincipalID,
			StepType:    models.StepTypeToolCall,
			ToolName:    "create_media_buy",
			RequestData: json.RawMessage(`{"buyer_ref":"ref-1"}`),
			Status:      models.StepStatusPending,
			Owner:       models.StepOwnerSystem,
			CreatedAt:   now,
			UpdatedAt:   now,
			Objects:     []models.ObjectRef{{ObjectType: models.ObjectTypeMediaBuy, ObjectID: objectID}},
		}
	}

	t.Run("tenant lookups", func(t *testing.T) {
		got, err := store.GetTenant(ctx, tenant.TenantID)
		require.NoError(t, err)
		assert.Equal(t, tenant.Domain, got.Domain)
		assert.Equal(t, []string{"create_media_buy"}, got.Adapter.ManualApprovalOperations())

		byDomain, err := store.GetTenantByDomain(ctx, tenant.Domain)
		require.NoError(t, err)
		assert.Equal(t, tenant.TenantID, byDomain.TenantID)

		_, err = store.GetTenant(ctx, "missing")
		assert.True(t, IsNotFound(err))
	})

	t.Run("principal by token", func(t *testing.T) {
		got, err := store.GetPrincipalByToken(ctx, principal.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, principal.PrincipalID, got.PrincipalID)

		_, err = store.GetPrincipalByToken(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("conversation append", func(t *testing.T) {
		at := now.Add(time.Minute)
		require.NoError(t, store.AppendConversation(ctx, contextID, models.ConversationEntry{
			Role: "buyer", Message: "which packages?", CreatedAt: at,
		}))
		c, err := store.GetContext(ctx, contextID)
		require.NoError(t, err)
		require.Len(t, c.ConversationHistory, 1)
		assert.Equal(t, "which packages?", c.ConversationHistory[0].Message)
		assert.True(t, c.LastActivityAt.Equal(at))
	})

	t.Run("create step writes create mapping", func(t *testing.T) {
		step := newStep("mb_" + uuid.NewString())
		require.NoError(t, store.CreateStep(ctx, step))

		got, err := store.GetStep(ctx, step.StepID)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusPending, got.Status)
		assert.JSONEq(t, `{"buyer_ref":"ref-1"}`, string(got.RequestData))

		mappings, err := store.MappingsForStep(ctx, step.StepID)
		require.NoError(t, err)
		require.Len(t, mappings, 1)
		assert.Equal(t, models.ActionCreate, mappings[0].Action)

		assert.ErrorIs(t, store.CreateStep(ctx, step), ErrAlreadyExists)
	})

	t.Run("transition applies only from expected status", func(t *testing.T) {
		step := newStep("mb_" + uuid.NewString())
		require.NoError(t, store.CreateStep(ctx, step))

		at := now.Add(2 * time.Minute)
		updated, err := store.TransitionStep(ctx, StepTransition{
			StepID: step.StepID,
			From:   models.StepStatusPending,
			To:     models.StepStatusRequiresApproval,
			At:     at,
			Action: models.ActionUpdate,
			Owner:  models.StepOwnerPublisher,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusRequiresApproval, updated.Status)
		assert.Equal(t, models.StepOwnerPublisher, updated.Owner)
		assert.Nil(t, updated.CompletedAt)

		_, err = store.TransitionStep(ctx, StepTransition{
			StepID: step.StepID,
			From:   models.StepStatusPending,
			To:     models.StepStatusInProgress,
			At:     at,
			Action: models.ActionUpdate,
		})
		assert.ErrorIs(t, err, ErrStaleTransition)

		_, err = store.TransitionStep(ctx, StepTransition{StepID: "missing", From: models.StepStatusPending, To: models.StepStatusCanceled, At: at, Action: models.ActionCancel})
		assert.ErrorIs(t, err, ErrNotFound)

		rejected, err := store.TransitionStep(ctx, StepTransition{
			StepID:       step.StepID,
			From:         models.StepStatusRequiresApproval,
			To:           models.StepStatusFailed,
			At:           at.Add(time.Second),
			Action:       models.ActionReject,
			ErrorMessage: "budget too high",
			Comment:      &models.StepComment{Author: "ops@acme.example.com", Text: "budget too high", Action: models.ActionReject, CreatedAt: at},
			SetCompleted: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "budget too high", rejected.ErrorMessage)
		require.NotNil(t, rejected.LastComment())
		assert.Equal(t, models.ActionReject, rejected.LastComment().Action)
		assert.NotNil(t, rejected.CompletedAt)

		mappings, err := store.MappingsForStep(ctx, step.StepID)
		require.NoError(t, err)
		actions := make([]models.MappingAction, 0, len(mappings))
		for _, m := range mappings {
			actions = append(actions, m.Action)
		}
		assert.ElementsMatch(t, []models.MappingAction{models.ActionCreate, models.ActionUpdate, models.ActionReject}, actions)
	})

	t.Run("concurrent transitions have one winner", func(t *testing.T) {
		step := newStep("mb_" + uuid.NewString())
		require.NoError(t, store.CreateStep(ctx, step))

		const racers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			stale   int
			barrier = make(chan struct{})
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-barrier
				_, err := store.TransitionStep(ctx, StepTransition{
					StepID: step.StepID,
					From:   models.StepStatusPending,
					To:     models.StepStatusInProgress,
					At:     time.Now().UTC(),
					Action: models.ActionUpdate,
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case assert.ErrorIs(t, err, ErrStaleTransition):
					stale++
				}
			}()
		}
		close(barrier)
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, racers-1, stale)

		mappings, err := store.MappingsForStep(ctx, step.StepID)
		require.NoError(t, err)
		assert.Len(t, mappings, 2, "one create mapping plus exactly one update mapping")
	})

	t.Run("steps for object newest first", func(t *testing.T) {
		objectID := "mb_" + uuid.NewString()
		first := newStep(objectID)
		second := newStep(objectID)
		second.CreatedAt = now.Add(time.Hour)
		second.UpdatedAt = second.CreatedAt
		require.NoError(t, store.CreateStep(ctx, first))
		require.NoError(t, store.CreateStep(ctx, second))

		steps, err := store.StepsForObject(ctx, models.ObjectTypeMediaBuy, objectID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, second.StepID, steps[0].StepID)
		assert.Equal(t, first.StepID, steps[1].StepID)
	})

	t.Run("list steps by status", func(t *testing.T) {
		steps, err := store.ListSteps(ctx, StepFilter{
			TenantID: tenant.TenantID,
			Statuses: []models.StepStatus{models.StepStatusFailed},
		})
		require.NoError(t, err)
		require.NotEmpty(t, steps)
		for _, s := range steps {
			assert.Equal(t, models.StepStatusFailed, s.Status)
		}

		limited, err := store.ListSteps(ctx, StepFilter{TenantID: tenant.TenantID, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("media buys and creatives are tenant scoped", func(t *testing.T) {
		mb := &models.MediaBuy{
			MediaBuyID:  "mb_" + uuid.NewString(),
			TenantID:    tenant.TenantID,
			PrincipalID: principal.PrincipalID,
			ContextID:   contextID,
			BuyerRef:    "ref-1",
			Budget:      5000,
			Currency:    "USD",
			StartTime:   now,
			EndTime:     now.Add(30 * 24 * time.Hour),
			Packages:    []models.Package{{PackageID: "pkg-1", ProductID: "prod-1", Budget: 5000}},
			CreatedAt:   now,
		}
		require.NoError(t, store.CreateMediaBuy(ctx, mb))

		got, err := store.GetMediaBuy(ctx, tenant.TenantID, mb.MediaBuyID)
		require.NoError(t, err)
		assert.Equal(t, 5000.0, got.Budget)
		require.Len(t, got.Packages, 1)

		_, err = store.GetMediaBuy(ctx, "other-tenant", mb.MediaBuyID)
		assert.True(t, IsNotFound(err))

		cr := &models.Creative{
			CreativeID:  "cr_" + uuid.NewString(),
			TenantID:    tenant.TenantID,
			PrincipalID: principal.PrincipalID,
			Name:        "Banner",
			FormatID:    "display_300x250",
			URL:         "https://cdn.example.com/banner.png",
			CreatedAt:   now,
		}
		require.NoError(t, store.CreateCreative(ctx, cr))
		gotCr, err := store.GetCreative(ctx, tenant.TenantID, cr.CreativeID)
		require.NoError(t, err)
		assert.Equal(t, "Banner", gotCr.Name)
	})
}
