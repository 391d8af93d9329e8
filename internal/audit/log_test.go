package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/clock"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/timer"
	"github.com/spec-kit/sla-engine/internal/worker"
)

var start = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

func policy() domain.TrackingPolicy {
	return domain.TrackingPolicy{
		ID:      "p1",
		Version: 1,
		Active:  true,
		Targets: map[domain.MetricType]int64{domain.MetricResponse: 30},
	}
}

func setup(t *testing.T, queue *worker.Queue) (*timer.Manager, *Log, Repositories, *clock.Fake) {
	t.Helper()
	repos := Repositories{
		Timers:     repository.NewMemoryTimerRepository(),
		Events:     repository.NewMemoryTimerEventRepository(),
		Violations: repository.NewMemoryViolationRepository(),
	}
	dispatcher := events.NewInMemoryDispatcher()
	log := NewLog(repos, queue, nil)
	log.RegisterHandlers(dispatcher)

	clk := clock.NewFake(start)
	m := timer.NewManager(timer.Config{}, timer.Dependencies{
		Clock:      clk,
		Store:      timer.NewStore(repos.Timers),
		Dispatcher: dispatcher,
	})
	return m, log, repos, clk
}

func TestLogPersistsTransitionsAndViolation(t *testing.T) {
	ctx := context.Background()
	m, log, repos, clk := setup(t, nil)

	_, err := m.ApplyEvent(ctx, domain.CaseEvent{
		ID: "e1", CaseID: "case-1", Type: domain.CaseCreated, Timestamp: start,
		Actor: domain.Actor{Type: domain.ActorCustomer, ID: "cust-1"},
	}, []domain.TrackingPolicy{policy()})
	require.NoError(t, err)

	clk.Advance(45 * time.Minute)
	_, err = m.Sweep(ctx)
	require.NoError(t, err)

	stored, err := repos.Timers.FindByKey(ctx, "case-1", domain.MetricResponse)
	require.NoError(t, err)
	assert.Equal(t, domain.TimerViolated, stored.Status)

	history, err := log.EventsForTimer(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.TimerEventStarted, history[0].Type)
	assert.Equal(t, domain.TimerEventViolated, history[1].Type)
	assert.Equal(t, domain.ReasonSystemTick, history[1].Reason)

	byCase, err := log.EventsForCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Len(t, byCase, 2)

	violations, err := repos.Violations.ListByCase(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, stored.ViolationID, violations[0].ID)
	assert.Equal(t, int64(15), violations[0].ViolationMinutes)
}

func TestLogWritesThroughQueue(t *testing.T) {
	ctx := context.Background()
	queue := worker.NewQueue(worker.QueueConfig{Workers: 2, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}, nil)
	queue.Start(ctx)
	m, log, repos, _ := setup(t, queue)

	_, err := m.ApplyEvent(ctx, domain.CaseEvent{
		ID: "e1", CaseID: "case-2", Type: domain.CaseCreated, Timestamp: start,
	}, []domain.TrackingPolicy{policy()})
	require.NoError(t, err)
	_, err = m.ApplyEvent(ctx, domain.CaseEvent{
		ID: "e2", CaseID: "case-2", Type: domain.CaseCommented, Timestamp: start.Add(10 * time.Minute),
		Actor: domain.Actor{Type: domain.ActorAgent, ID: "agent-7"},
	}, nil)
	require.NoError(t, err)
	queue.Stop()

	stored, err := repos.Timers.FindByKey(ctx, "case-2", domain.MetricResponse)
	require.NoError(t, err)
	assert.Equal(t, domain.TimerCompleted, stored.Status)
	assert.Equal(t, int64(2), stored.Revision)

	history, err := log.EventsForTimer(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "agent-7", history[1].Actor)
}
