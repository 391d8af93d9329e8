package escalation

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// Assessment is what one threshold check produced.
type Assessment struct {
	Violation *domain.ViolationRecord
	Command   *domain.EscalationCommand
}

// Empty reports whether nothing fired.
func (a Assessment) Empty() bool {
	return a.Violation == nil && a.Command == nil
}

// Dispatcher compares timers against escalation thresholds and records violations.
// Assess mutates the instance and must run under the instance lock.
type Dispatcher struct {
	logger *zap.Logger
	newID  func() string
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}
}

// Assess runs after every recompute. A violated transition always yields the timer's single
// ViolationRecord; a running timer fires at most one due escalation level.
func (d *Dispatcher) Assess(inst *domain.TimerInstance, policy domain.TrackingPolicy, violated bool, now time.Time) Assessment {
	var out Assessment
	if inst.Status == domain.TimerViolated {
		if violated && inst.ViolationID == "" {
			out.Violation = d.recordViolation(inst, now)
		}
		return out
	}
	if inst.Status != domain.TimerRunning {
		return out
	}
	if cmd := d.nextEscalation(inst, policy, now); cmd != nil {
		out.Command = cmd
	}
	return out
}

func (d *Dispatcher) recordViolation(inst *domain.TimerInstance, now time.Time) *domain.ViolationRecord {
	actual := inst.ElapsedMinutes
	over := actual - inst.TargetMinutes
	if over < 0 {
		over = 0
	}
	var percent float64
	if inst.TargetMinutes > 0 {
		percent = float64(over) / float64(inst.TargetMinutes) * 100
	}

	record := &domain.ViolationRecord{
		ID:               d.newID(),
		TimerID:          inst.ID,
		CaseID:           inst.CaseID,
		TenantID:         inst.TenantID,
		Metric:           inst.Metric,
		PolicyID:         inst.PolicyID,
		PolicyVersion:    inst.PolicyVersion,
		TargetMinutes:    inst.TargetMinutes,
		ActualMinutes:    actual,
		ViolationMinutes: over,
		ViolationPercent: percent,
		Severity:         domain.ClassifySeverity(percent),
		CreatedAt:        now,
	}
	inst.ViolationID = record.ID
	inst.Breached = true

	d.logger.Info("violation recorded",
		zap.String("timer_id", inst.ID),
		zap.String("case_id", inst.CaseID),
		zap.String("metric", string(inst.Metric)),
		zap.Int64("violation_minutes", over),
		zap.String("severity", string(record.Severity)))
	return record
}

func (d *Dispatcher) nextEscalation(inst *domain.TimerInstance, policy domain.TrackingPolicy, now time.Time) *domain.EscalationCommand {
	settings := policy.Escalation
	if !settings.Enabled || inst.EscalationLevel >= len(settings.Actions) {
		return nil
	}
	if inst.ElapsedPercent() < settings.ThresholdPercent {
		return nil
	}
	level := inst.EscalationLevel
	if inst.ElapsedPercent() < settings.LevelThreshold(level) {
		return nil
	}

	action := settings.Actions[level]
	inst.EscalationLevel++
	cmd := &domain.EscalationCommand{
		ID:              d.newID(),
		TimerID:         inst.ID,
		CaseID:          inst.CaseID,
		TenantID:        inst.TenantID,
		Metric:          inst.Metric,
		EscalationLevel: inst.EscalationLevel,
		ActionName:      action.Name,
		ActionPayload:   copyPayload(action.Payload),
		IssuedAt:        now,
	}

	d.logger.Info("escalation issued",
		zap.String("timer_id", inst.ID),
		zap.String("case_id", inst.CaseID),
		zap.String("metric", string(inst.Metric)),
		zap.Int("level", inst.EscalationLevel),
		zap.String("action", action.Name))
	return cmd
}

func copyPayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
