package events

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTimerTransitioned EventType = "timer_transitioned"
	EventTimerUpdated      EventType = "timer_updated"
	EventViolationRecorded EventType = "violation_recorded"
	EventEscalationIssued  EventType = "escalation_issued"
)

// Event represents an engine output published after the instance lock is released.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	CaseID    string            `json:"case_id"`
	TimerID   string            `json:"timer_id,omitempty"`
	Metric    domain.MetricType `json:"metric,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   interface{}       `json:"payload"`
}

// TimerTransitionedPayload carries one audited transition.
type TimerTransitionedPayload struct {
	Event domain.TimerEvent `json:"event"`
}

// TimerUpdatedPayload carries the instance state after a recompute.
type TimerUpdatedPayload struct {
	Timer *domain.TimerInstance `json:"timer"`
}

// ViolationRecordedPayload carries a freshly created violation.
type ViolationRecordedPayload struct {
	Violation domain.ViolationRecord `json:"violation"`
}

// EscalationIssuedPayload carries a command for the workflow collaborator.
type EscalationIssuedPayload struct {
	Command domain.EscalationCommand `json:"command"`
}
