package dto

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// ViolationResponse is the reporting view of a violation.
type ViolationResponse struct {
	ID               string            `json:"id"`
	TimerID          string            `json:"timer_id"`
	CaseID           string            `json:"case_id"`
	TenantID         string            `json:"tenant_id,omitempty"`
	Metric           domain.MetricType `json:"metric"`
	PolicyID         string            `json:"policy_id"`
	PolicyVersion    int               `json:"policy_version"`
	TargetMinutes    int64             `json:"target_minutes"`
	ActualMinutes    int64             `json:"actual_minutes"`
	ViolationMinutes int64             `json:"violation_minutes"`
	ViolationPercent float64           `json:"violation_percent"`
	Severity         domain.Severity   `json:"severity"`
	CreatedAt        time.Time         `json:"created_at"`
	RootCause        string            `json:"root_cause,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	AcknowledgedBy   *string           `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time        `json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
}

// NewViolationResponse maps a violation record.
func NewViolationResponse(v *domain.ViolationRecord) ViolationResponse {
	return ViolationResponse{
		ID:               v.ID,
		TimerID:          v.TimerID,
		CaseID:           v.CaseID,
		TenantID:         v.TenantID,
		Metric:           v.Metric,
		PolicyID:         v.PolicyID,
		PolicyVersion:    v.PolicyVersion,
		TargetMinutes:    v.TargetMinutes,
		ActualMinutes:    v.ActualMinutes,
		ViolationMinutes: v.ViolationMinutes,
		ViolationPercent: v.ViolationPercent,
		Severity:         v.Severity,
		CreatedAt:        v.CreatedAt,
		RootCause:        v.RootCause,
		Notes:            v.Notes,
		AcknowledgedBy:   v.AcknowledgedBy,
		AcknowledgedAt:   v.AcknowledgedAt,
		ResolvedAt:       v.ResolvedAt,
	}
}

// AcknowledgeRequest records a violation review.
type AcknowledgeRequest struct {
	RootCause string `json:"root_cause"`
	Notes     string `json:"notes"`
	Resolved  bool   `json:"resolved"`
}
