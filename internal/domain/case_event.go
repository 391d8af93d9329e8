package domain

import (
	"strings"
	"time"
)

// CaseEventType enumerates inbound case lifecycle events.
type CaseEventType string

const (
	CaseCreated       CaseEventType = "created"
	CaseAssigned      CaseEventType = "assigned"
	CaseStatusChanged CaseEventType = "status_changed"
	CaseCommented     CaseEventType = "commented"
	CaseClosed        CaseEventType = "closed"
	CaseDeleted       CaseEventType = "deleted"
)

// ActorType differentiates who caused a case event.
type ActorType string

const (
	ActorAgent    ActorType = "agent"
	ActorCustomer ActorType = "customer"
	ActorSystem   ActorType = "system"
)

// Actor identifies the originator of a case event.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// Label returns the id recorded on timer events.
func (a Actor) Label() string {
	if a.ID != "" {
		return a.ID
	}
	return SystemActor
}

// CaseSnapshot is the flat field map used for rule evaluation.
type CaseSnapshot map[string]any

// Status returns the lower-cased status field.
func (s CaseSnapshot) Status() string {
	v, _ := s["status"].(string)
	return strings.ToLower(strings.TrimSpace(v))
}

// Clone returns a shallow copy.
func (s CaseSnapshot) Clone() CaseSnapshot {
	out := make(CaseSnapshot, len(s)+8)
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CaseEvent is one lifecycle event with the case state after it happened.
type CaseEvent struct {
	ID        string        `json:"id"`
	CaseID    string        `json:"case_id"`
	TenantID  string        `json:"tenant_id"`
	Type      CaseEventType `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Actor     Actor         `json:"actor"`
	Snapshot  CaseSnapshot  `json:"case_snapshot"`
}

// resolvedStatuses end the resolution metric.
var resolvedStatuses = map[string]struct{}{
	"resolved": {},
	"closed":   {},
}

// IsResolution reports whether the event resolves the case.
func (e CaseEvent) IsResolution() bool {
	if e.Type == CaseClosed {
		return true
	}
	if e.Type != CaseStatusChanged {
		return false
	}
	_, ok := resolvedStatuses[e.Snapshot.Status()]
	return ok
}

// EndsMetric reports whether the event is the natural terminal event for metric.
func (e CaseEvent) EndsMetric(metric MetricType) bool {
	if e.Type == CaseClosed {
		return true
	}
	switch metric {
	case MetricResponse, MetricUpdate:
		return e.Type == CaseCommented && e.Actor.Type == ActorAgent
	case MetricResolution:
		return e.IsResolution()
	case MetricIdle:
		return e.Type == CaseCommented || e.Type == CaseStatusChanged
	}
	return false
}
