package dto

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// CaseEventRequest is the inbound case lifecycle event.
type CaseEventRequest struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"case_id"`
	TenantID  string         `json:"tenant_id"`
	Type      string         `json:"event_type"`
	Timestamp *time.Time     `json:"timestamp"`
	Actor     ActorPayload   `json:"actor"`
	Snapshot  map[string]any `json:"case_snapshot"`
}

// ActorPayload identifies who caused an event.
type ActorPayload struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ToDomain converts the request; a missing timestamp stays zero and is stamped by the engine.
func (r CaseEventRequest) ToDomain() domain.CaseEvent {
	event := domain.CaseEvent{
		ID:       r.ID,
		CaseID:   r.CaseID,
		TenantID: r.TenantID,
		Type:     domain.CaseEventType(r.Type),
		Actor:    domain.Actor{Type: domain.ActorType(r.Actor.Type), ID: r.Actor.ID},
		Snapshot: domain.CaseSnapshot(r.Snapshot),
	}
	if r.Timestamp != nil {
		event.Timestamp = r.Timestamp.UTC()
	}
	if event.Actor.Type == "" {
		event.Actor.Type = domain.ActorSystem
	}
	return event
}

// CaseEventResponse summarises what an event changed.
type CaseEventResponse struct {
	CaseID      string          `json:"case_id"`
	Timers      []TimerResponse `json:"timers"`
	Violations  []string        `json:"violation_ids,omitempty"`
	Escalations int             `json:"escalations"`
	Errors      []string        `json:"errors,omitempty"`
}

// CancelRequest carries the operator note for forced cancellation.
type CancelRequest struct {
	Reason string `json:"reason"`
}
