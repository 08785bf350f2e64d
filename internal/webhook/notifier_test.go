package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/events"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/internal/workflow"
	"adcp-sales-agent/pkg/models"
)

type capturingSender struct {
	mu   sync.Mutex
	sent []*envelope.Envelope
	done chan struct{}
}

func (s *capturingSender) Deliver(ctx context.Context, cfg *models.PushNotificationConfig, env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	return nil
}

func TestNotifierDeliversTransitionsOverBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(logging.NewNop())
	defer bus.Close()

	ledger, err := workflow.NewLedger(repository.NewMemoryStore(), bus, logging.NewNop())
	require.NoError(t, err)

	sender := &capturingSender{done: make(chan struct{})}
	delivered := sender.done
	require.NoError(t, NewNotifier(ledger, sender, logging.NewNop()).Start(ctx, bus))

	c, err := ledger.EnsureContext(ctx, "t1", "p1", "")
	require.NoError(t, err)
	step, err := ledger.CreateStep(ctx, workflow.NewStep{
		TenantID:         "t1",
		PrincipalID:      "p1",
		ContextID:        c.ContextID,
		ToolName:         "create_media_buy",
		PushNotification: &models.PushNotificationConfig{URL: "https://buyer.example.com/hook"},
	})
	require.NoError(t, err)
	_, err = ledger.RequireApproval(ctx, step.StepID)
	require.NoError(t, err)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 1, "creation is not pushed")
	env := sender.sent[0]
	assert.Equal(t, envelope.StatusSubmitted, env.Status)
	assert.Equal(t, step.StepID, env.TaskID)
	assert.Equal(t, c.ContextID, env.ContextID)
	assert.Contains(t, env.Message, "awaiting publisher approval")
}

func TestNotifierSkipsStepsWithoutPushConfig(t *testing.T) {
	ctx := context.Background()
	ledger, err := workflow.NewLedger(repository.NewMemoryStore(), nil, logging.NewNop())
	require.NoError(t, err)
	step, err := ledger.CreateStep(ctx, workflow.NewStep{TenantID: "t1", PrincipalID: "p1", ToolName: "sync_creatives"})
	require.NoError(t, err)

	sender := &capturingSender{}
	n := NewNotifier(ledger, sender, logging.NewNop())
	require.NoError(t, n.Handle(ctx, events.StepTransitioned{StepID: step.StepID, Action: models.ActionUpdate}))
	assert.Empty(t, sender.sent)
}

type missingSteps struct {
	mu    sync.Mutex
	calls int
}

func (m *missingSteps) Get(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return nil, repository.ErrNotFound
}

func (m *missingSteps) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestNotifierDropsEventsForUnreadableSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(logging.NewNop())
	defer bus.Close()

	steps := &missingSteps{}
	sender := &capturingSender{}
	require.NoError(t, NewNotifier(steps, sender, logging.NewNop()).Start(ctx, bus))

	require.NoError(t, bus.PublishStepTransitioned(ctx, events.StepTransitioned{
		StepID: "step_gone",
		To:     models.StepStatusInProgress,
		Action: models.ActionApprove,
	}))

	require.Eventually(t, func() bool { return steps.count() > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, steps.count(), "a failed read must not be redelivered")

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.sent)
}

func TestEnvelopeForRejectedStep(t *testing.T) {
	step := &models.WorkflowStep{
		StepID:       "step_1",
		ToolName:     "create_media_buy",
		Status:       models.StepStatusFailed,
		ErrorMessage: "budget exceeds cap",
		Comments:     []models.StepComment{{Action: models.ActionReject}},
		UpdatedAt:    fixedNow,
	}
	env, err := Envelope(step)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusRejected, env.Status)
	assert.Equal(t, "budget exceeds cap", env.Payload["error"])
}
