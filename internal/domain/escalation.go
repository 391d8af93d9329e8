package domain

import "time"

// EscalationCommand is handed to the external notification/workflow dispatcher.
type EscalationCommand struct {
	ID              string         `json:"id"`
	TimerID         string         `json:"timer_id"`
	CaseID          string         `json:"case_id"`
	TenantID        string         `json:"tenant_id"`
	Metric          MetricType     `json:"metric"`
	EscalationLevel int            `json:"escalation_level"`
	ActionName      string         `json:"action_name"`
	ActionPayload   map[string]any `json:"action_payload,omitempty"`
	IssuedAt        time.Time      `json:"issued_at"`
}
