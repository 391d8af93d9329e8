package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	boom := errors.New("boom")

	d.Subscribe(EventTimerUpdated, func(context.Context, Event) error {
		calls = append(calls, "first")
		return boom
	})
	d.Subscribe(EventTimerUpdated, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventViolationRecorded, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTimerUpdated, CaseID: "case-1"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, calls)

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventEscalationIssued}))
}

func TestDispatcherIsolatesPanics(t *testing.T) {
	d := NewInMemoryDispatcher()
	delivered := false
	d.Subscribe(EventEscalationIssued, func(context.Context, Event) error {
		panic("subscriber bug")
	})
	d.Subscribe(EventEscalationIssued, func(context.Context, Event) error {
		delivered = true
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventEscalationIssued, CaseID: "case-9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case-9")
	assert.Contains(t, err.Error(), "subscriber bug")
	assert.True(t, delivered)
}
