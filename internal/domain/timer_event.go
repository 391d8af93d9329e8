package domain

import "time"

// TimerEventType enumerates audited transitions.
type TimerEventType string

const (
	TimerEventStarted   TimerEventType = "started"
	TimerEventPaused    TimerEventType = "paused"
	TimerEventResumed   TimerEventType = "resumed"
	TimerEventCompleted TimerEventType = "completed"
	TimerEventViolated  TimerEventType = "violated"
	TimerEventEscalated TimerEventType = "escalated"
)

// TransitionReason explains what triggered a transition.
type TransitionReason string

const (
	ReasonSystemTick     TransitionReason = "system_tick"
	ReasonRuleMatch      TransitionReason = "rule_match"
	ReasonCaseEvent      TransitionReason = "case_event"
	ReasonExternalAction TransitionReason = "external_action"
	ReasonCancelled      TransitionReason = "cancelled"
)

// SystemActor is recorded when the engine itself caused a transition.
const SystemActor = "system"

// TimerEvent is an immutable audit entry for one timer transition.
type TimerEvent struct {
	ID               string
	TimerID          string
	CaseID           string
	Metric           MetricType
	Sequence         int64
	Type             TimerEventType
	PreviousStatus   TimerStatus
	NewStatus        TimerStatus
	ElapsedMinutes   int64
	RemainingMinutes int64
	EscalationLevel  int
	Reason           TransitionReason
	Actor            string
	OccurredAt       time.Time
}
