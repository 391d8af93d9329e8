// Package audit persists engine outputs and answers historical queries about them.
package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/worker"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// Repositories groups the stores the log writes to.
type Repositories struct {
	Timers     repository.TimerRepository
	Events     repository.TimerEventRepository
	Violations repository.ViolationRepository
}

// Log records transitions, violations and timer snapshots. Writes go through the queue
// when one is set and are retried there; without a queue they run inline.
type Log struct {
	repos  Repositories
	queue  *worker.Queue
	logger *zap.Logger
}

// NewLog builds the audit log.
func NewLog(repos Repositories, queue *worker.Queue, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{repos: repos, queue: queue, logger: logger}
}

// RegisterHandlers subscribes to engine events.
func (l *Log) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTimerTransitioned, l.handleTransition)
	dispatcher.Subscribe(events.EventViolationRecorded, l.handleViolation)
	dispatcher.Subscribe(events.EventTimerUpdated, l.handleTimerUpdated)
}

func (l *Log) handleTransition(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TimerTransitionedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", apperrors.ErrPersistence, event.Payload)
	}
	te := payload.Event
	return l.submit(ctx, "timer_event:"+te.ID, func(ctx context.Context) error {
		return l.repos.Events.Append(ctx, te)
	})
}

func (l *Log) handleViolation(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ViolationRecordedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", apperrors.ErrPersistence, event.Payload)
	}
	v := payload.Violation
	return l.submit(ctx, "violation:"+v.ID, func(ctx context.Context) error {
		return l.repos.Violations.Create(ctx, v)
	})
}

func (l *Log) handleTimerUpdated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TimerUpdatedPayload)
	if !ok || payload.Timer == nil {
		return fmt.Errorf("%w: unexpected payload %T", apperrors.ErrPersistence, event.Payload)
	}
	snapshot := payload.Timer.Clone()
	return l.submit(ctx, "timer:"+snapshot.ID, func(ctx context.Context) error {
		return l.repos.Timers.Upsert(ctx, snapshot)
	})
}

func (l *Log) submit(ctx context.Context, name string, run func(context.Context) error) error {
	if l.queue == nil {
		if err := run(ctx); err != nil {
			return fmt.Errorf("%w: %s: %v", apperrors.ErrPersistence, name, err)
		}
		return nil
	}
	if err := l.queue.Enqueue(ctx, worker.Job{Name: name, Run: run}); err != nil {
		l.logger.Error("audit write dropped", zap.String("job", name), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", apperrors.ErrPersistence, name, err)
	}
	return nil
}

// EventsForTimer returns a timer's transitions ordered by sequence.
func (l *Log) EventsForTimer(ctx context.Context, timerID string) ([]domain.TimerEvent, error) {
	return l.repos.Events.ListByTimer(ctx, timerID)
}

// EventsForCase returns every transition of a case in occurrence order.
func (l *Log) EventsForCase(ctx context.Context, caseID string) ([]domain.TimerEvent, error) {
	return l.repos.Events.ListByCase(ctx, caseID)
}
