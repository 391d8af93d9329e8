package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/worker"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []domain.EscalationCommand
}

func (p *flakyPublisher) Publish(_ context.Context, cmd domain.EscalationCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker down")
	}
	p.sent = append(p.sent, cmd)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func escalationEvent(id string) events.Event {
	return events.Event{
		ID:   "ev-" + id,
		Type: events.EventEscalationIssued,
		Payload: events.EscalationIssuedPayload{Command: domain.EscalationCommand{
			ID: id, CaseID: "case-1", EscalationLevel: 1, ActionName: "notify_team_lead",
		}},
	}
}

func TestEscalationDeliveredInline(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	pub := &flakyPublisher{}
	NewNotificationService(dispatcher, pub, nil, nil, config.NotificationConfig{MaxAttempts: 3}).RegisterHandlers()

	require.NoError(t, dispatcher.Publish(context.Background(), escalationEvent("cmd-1")))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "notify_team_lead", pub.sent[0].ActionName)
}

func TestEscalationRetriedOnQueue(t *testing.T) {
	ctx := context.Background()
	queue := worker.NewQueue(worker.QueueConfig{Workers: 1, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}, nil)
	queue.Start(ctx)

	dispatcher := events.NewInMemoryDispatcher()
	pub := &flakyPublisher{failures: 2}
	NewNotificationService(dispatcher, pub, queue, nil, config.NotificationConfig{MaxAttempts: 5}).RegisterHandlers()

	require.NoError(t, dispatcher.Publish(ctx, escalationEvent("cmd-1")))
	queue.Stop()

	assert.Equal(t, 3, pub.calls)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "cmd-1", pub.sent[0].ID)
}

func TestEscalationGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	queue := worker.NewQueue(worker.QueueConfig{Workers: 1, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}, nil)
	var failed []string
	var mu sync.Mutex
	queue.OnFailure(func(job worker.Job, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, job.Name)
		assert.True(t, errors.Is(err, apperrors.ErrDispatch))
	})
	queue.Start(ctx)

	dispatcher := events.NewInMemoryDispatcher()
	pub := &flakyPublisher{failures: 100}
	NewNotificationService(dispatcher, pub, queue, nil, config.NotificationConfig{MaxAttempts: 2}).RegisterHandlers()

	require.NoError(t, dispatcher.Publish(ctx, escalationEvent("cmd-9")))
	queue.Stop()

	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, []string{"escalation:cmd-9"}, failed)
}
