package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/timer"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 2, Size: 4, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}, nil)
	var retries atomic.Int32
	q.OnRetry(func(Job) { retries.Add(1) })
	q.Start(context.Background())

	var attempts atomic.Int32
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(context.Background(), Job{
		Name: "flaky",
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	q.Stop()
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int32(2), retries.Load())
}

func TestQueueReportsPermanentFailure(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}, nil)
	var (
		mu     sync.Mutex
		failed []string
	)
	q.OnFailure(func(job Job, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, job.Name)
	})
	q.Start(context.Background())

	var attempts atomic.Int32
	require.NoError(t, q.Enqueue(context.Background(), Job{
		Name: "bad-payload",
		Run: func(context.Context) error {
			attempts.Add(1)
			return backoff.Permanent(errors.New("cannot encode"))
		},
	}))
	q.Stop()

	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, []string{"bad-payload"}, failed)
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{Name: "late"}), ErrQueueClosed)
}

type fakeSweepable struct {
	calls atomic.Int32
}

func (f *fakeSweepable) Sweep(context.Context) (timer.SweepStats, error) {
	f.calls.Add(1)
	return timer.SweepStats{Scanned: 3, Violated: 1}, nil
}

func TestSweeperRunOnceReportsStats(t *testing.T) {
	target := &fakeSweepable{}
	s := NewSweeper(target, time.Minute, nil)
	var got timer.SweepStats
	s.OnSweep(func(stats timer.SweepStats, _ time.Duration) { got = stats })

	stats := s.RunOnce(context.Background())
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, stats, got)
	assert.Equal(t, int32(1), target.calls.Load())

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeHandler struct {
	calls    map[string]int
	failures map[string]int
	err      error
	onCall   func(id string, calls int)
}

func (h *fakeHandler) HandleCaseEvent(_ context.Context, event domain.CaseEvent) error {
	h.calls[event.ID]++
	if h.onCall != nil {
		h.onCall(event.ID, h.calls[event.ID])
	}
	if h.failures[event.ID] > 0 {
		h.failures[event.ID]--
		return fmt.Errorf("resolve: %w", apperrors.ErrCatalogUnavailable)
	}
	if event.ID == "partial" {
		return h.err
	}
	return nil
}

func message(t *testing.T, offset int64, event domain.CaseEvent) kafka.Message {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: body}
}

func TestCaseEventConsumerRetriesCatalogOutagesAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel}
	reader.messages = []kafka.Message{
		message(t, 1, domain.CaseEvent{ID: "e1", CaseID: "c1", Type: domain.CaseCreated}),
		{Offset: 2, Value: []byte("{not json")},
		message(t, 3, domain.CaseEvent{ID: "partial", CaseID: "c1", Type: domain.CaseCommented}),
		message(t, 4, domain.CaseEvent{ID: "no-case", Type: domain.CaseCommented}),
	}
	handler := &fakeHandler{
		calls:    map[string]int{},
		failures: map[string]int{"e1": 2},
		err:      errors.New("timer c1/response: persistence failure"),
	}
	consumer := newCaseEventConsumer(reader, handler, time.Millisecond, time.Second, nil)

	require.NoError(t, consumer.Run(ctx))
	assert.Equal(t, 3, handler.calls["e1"])
	assert.Equal(t, 1, handler.calls["partial"])
	assert.Zero(t, handler.calls["no-case"])
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
}

func TestCaseEventConsumerHoldsOffsetWhileCatalogStaysDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel}
	reader.messages = []kafka.Message{
		message(t, 7, domain.CaseEvent{ID: "e1", CaseID: "c1"}),
		message(t, 8, domain.CaseEvent{ID: "e2", CaseID: "c2"}),
	}
	handler := &fakeHandler{calls: map[string]int{}, failures: map[string]int{"e1": 1 << 30}}
	handler.onCall = func(id string, calls int) {
		// Well past several 5ms backoff rounds.
		if id == "e1" && calls == 40 {
			cancel()
		}
	}
	consumer := newCaseEventConsumer(reader, handler, time.Millisecond, 5*time.Millisecond, nil)

	require.NoError(t, consumer.Run(ctx))
	assert.Equal(t, 40, handler.calls["e1"])
	assert.Zero(t, handler.calls["e2"])
	assert.Empty(t, reader.committed)
}
