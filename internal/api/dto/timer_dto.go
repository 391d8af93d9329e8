package dto

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// TimerResponse is the reporting view of a timer.
type TimerResponse struct {
	ID               string                  `json:"id"`
	CaseID           string                  `json:"case_id"`
	TenantID         string                  `json:"tenant_id,omitempty"`
	Metric           domain.MetricType       `json:"metric"`
	PolicyID         string                  `json:"policy_id"`
	PolicyVersion    int                     `json:"policy_version"`
	Status           domain.TimerStatus      `json:"status"`
	StartedAt        time.Time               `json:"started_at"`
	PausedAt         *time.Time              `json:"paused_at,omitempty"`
	ResumedAt        *time.Time              `json:"resumed_at,omitempty"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
	ViolatedAt       *time.Time              `json:"violated_at,omitempty"`
	DueAt            *time.Time              `json:"due_at,omitempty"`
	ElapsedMinutes   int64                   `json:"elapsed_minutes"`
	PausedMinutes    int64                   `json:"paused_minutes"`
	TargetMinutes    int64                   `json:"target_minutes"`
	RemainingMinutes int64                   `json:"remaining_minutes"`
	Breached         bool                    `json:"breached"`
	BreachPercent    float64                 `json:"breach_percent"`
	EscalationLevel  int                     `json:"escalation_level"`
	CompletionReason domain.TransitionReason `json:"completion_reason,omitempty"`
	ViolationID      string                  `json:"violation_id,omitempty"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// NewTimerResponse maps a timer instance.
func NewTimerResponse(t *domain.TimerInstance) TimerResponse {
	return TimerResponse{
		ID:               t.ID,
		CaseID:           t.CaseID,
		TenantID:         t.TenantID,
		Metric:           t.Metric,
		PolicyID:         t.PolicyID,
		PolicyVersion:    t.PolicyVersion,
		Status:           t.Status,
		StartedAt:        t.StartedAt,
		PausedAt:         t.PausedAt,
		ResumedAt:        t.ResumedAt,
		CompletedAt:      t.CompletedAt,
		ViolatedAt:       t.ViolatedAt,
		DueAt:            t.DueAt,
		ElapsedMinutes:   t.ElapsedMinutes,
		PausedMinutes:    t.PausedMinutes,
		TargetMinutes:    t.TargetMinutes,
		RemainingMinutes: t.RemainingMinutes,
		Breached:         t.Breached,
		BreachPercent:    t.BreachPercent,
		EscalationLevel:  t.EscalationLevel,
		CompletionReason: t.CompletionReason,
		ViolationID:      t.ViolationID,
		UpdatedAt:        t.UpdatedAt,
	}
}

// TimerEventResponse is one audited transition.
type TimerEventResponse struct {
	ID               string                  `json:"id"`
	TimerID          string                  `json:"timer_id"`
	CaseID           string                  `json:"case_id"`
	Metric           domain.MetricType       `json:"metric"`
	Sequence         int64                   `json:"sequence"`
	Type             domain.TimerEventType   `json:"event_type"`
	PreviousStatus   domain.TimerStatus      `json:"previous_status,omitempty"`
	NewStatus        domain.TimerStatus      `json:"new_status"`
	ElapsedMinutes   int64                   `json:"elapsed_minutes"`
	RemainingMinutes int64                   `json:"remaining_minutes"`
	EscalationLevel  int                     `json:"escalation_level"`
	Reason           domain.TransitionReason `json:"reason"`
	Actor            string                  `json:"actor"`
	OccurredAt       time.Time               `json:"occurred_at"`
}

// NewTimerEventResponses maps audit entries.
func NewTimerEventResponses(list []domain.TimerEvent) []TimerEventResponse {
	out := make([]TimerEventResponse, 0, len(list))
	for _, e := range list {
		out = append(out, TimerEventResponse{
			ID:               e.ID,
			TimerID:          e.TimerID,
			CaseID:           e.CaseID,
			Metric:           e.Metric,
			Sequence:         e.Sequence,
			Type:             e.Type,
			PreviousStatus:   e.PreviousStatus,
			NewStatus:        e.NewStatus,
			ElapsedMinutes:   e.ElapsedMinutes,
			RemainingMinutes: e.RemainingMinutes,
			EscalationLevel:  e.EscalationLevel,
			Reason:           e.Reason,
			Actor:            e.Actor,
			OccurredAt:       e.OccurredAt,
		})
	}
	return out
}
