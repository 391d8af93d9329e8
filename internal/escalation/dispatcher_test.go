package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/domain"
)

var now = time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)

func runningTimer(target, elapsedMinutes int64) *domain.TimerInstance {
	inst := &domain.TimerInstance{
		ID:            "timer-1",
		CaseID:        "case-1",
		Metric:        domain.MetricResolution,
		Status:        domain.TimerRunning,
		TargetMinutes: target,
		Elapsed:       time.Duration(elapsedMinutes) * time.Minute,
	}
	inst.SyncCounters()
	return inst
}

func twoStepPolicy() domain.TrackingPolicy {
	return domain.TrackingPolicy{
		ID: "gold",
		Escalation: domain.EscalationSettings{
			Enabled:          true,
			ThresholdPercent: 80,
			Actions: []domain.EscalationAction{
				{Name: "notify_lead", Payload: map[string]any{"channel": "email"}},
				{Name: "page_manager"},
			},
		},
	}
}

func TestAssessEscalatesOneLevelPerCall(t *testing.T) {
	d := NewDispatcher(nil)
	policy := twoStepPolicy()

	inst := runningTimer(100, 79)
	assert.True(t, d.Assess(inst, policy, false, now).Empty())

	inst = runningTimer(100, 95)
	first := d.Assess(inst, policy, false, now)
	require.NotNil(t, first.Command)
	assert.Equal(t, 1, inst.EscalationLevel)
	assert.Equal(t, 1, first.Command.EscalationLevel)
	assert.Equal(t, "notify_lead", first.Command.ActionName)
	assert.Equal(t, "email", first.Command.ActionPayload["channel"])

	second := d.Assess(inst, policy, false, now)
	require.NotNil(t, second.Command)
	assert.Equal(t, 2, inst.EscalationLevel)
	assert.Equal(t, "page_manager", second.Command.ActionName)

	assert.True(t, d.Assess(inst, policy, false, now).Empty(), "no actions left")
}

func TestAssessFiresLaterLevelsOncePastThreshold(t *testing.T) {
	d := NewDispatcher(nil)
	policy := twoStepPolicy()

	inst := runningTimer(100, 80)
	first := d.Assess(inst, policy, false, now)
	require.NotNil(t, first.Command)
	assert.Equal(t, "notify_lead", first.Command.ActionName)

	inst.Elapsed = 81 * time.Minute
	inst.SyncCounters()
	second := d.Assess(inst, policy, false, now)
	require.NotNil(t, second.Command)
	assert.Equal(t, "page_manager", second.Command.ActionName)
	assert.Equal(t, 2, inst.EscalationLevel)

	inst.Elapsed = 89 * time.Minute
	inst.SyncCounters()
	assert.True(t, d.Assess(inst, policy, false, now).Empty())
}

func TestAssessHonoursActionPercent(t *testing.T) {
	d := NewDispatcher(nil)
	policy := twoStepPolicy()
	policy.Escalation.Actions[1].AtPercent = 99

	inst := runningTimer(100, 95)
	require.NotNil(t, d.Assess(inst, policy, false, now).Command)
	assert.Nil(t, d.Assess(inst, policy, false, now).Command)
}

func TestAssessSkipsDisabledAndPaused(t *testing.T) {
	d := NewDispatcher(nil)
	policy := twoStepPolicy()
	policy.Escalation.Enabled = false

	assert.True(t, d.Assess(runningTimer(100, 99), policy, false, now).Empty())

	paused := runningTimer(100, 99)
	paused.Status = domain.TimerPaused
	assert.True(t, d.Assess(paused, twoStepPolicy(), false, now).Empty())
}

func TestAssessRecordsViolationOnce(t *testing.T) {
	d := NewDispatcher(nil)
	inst := runningTimer(100, 100)
	inst.Status = domain.TimerViolated

	first := d.Assess(inst, twoStepPolicy(), true, now)
	require.NotNil(t, first.Violation)
	assert.Nil(t, first.Command)
	assert.Equal(t, first.Violation.ID, inst.ViolationID)
	assert.True(t, inst.Breached)
	assert.Equal(t, int64(0), first.Violation.ViolationMinutes)
	assert.Equal(t, domain.SeverityLow, first.Violation.Severity)

	for i := 0; i < 3; i++ {
		assert.Nil(t, d.Assess(inst, twoStepPolicy(), true, now).Violation)
	}
}

func TestViolationSeverity(t *testing.T) {
	tests := []struct {
		elapsed int64
		want    domain.Severity
	}{
		{110, domain.SeverityLow},
		{125, domain.SeverityMedium},
		{174, domain.SeverityMedium},
		{175, domain.SeverityHigh},
		{249, domain.SeverityHigh},
		{250, domain.SeverityCritical},
	}
	for _, tc := range tests {
		inst := runningTimer(100, tc.elapsed)
		inst.Status = domain.TimerViolated
		rec := NewDispatcher(nil).Assess(inst, domain.TrackingPolicy{}, true, now).Violation
		require.NotNil(t, rec)
		assert.Equal(t, tc.want, rec.Severity, "elapsed %d", tc.elapsed)
		assert.Equal(t, tc.elapsed-100, rec.ViolationMinutes)
	}
}
