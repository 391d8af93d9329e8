package domain

import "time"

// Severity classifies how far past target a violation went.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ClassifySeverity maps a violation percentage to a severity.
func ClassifySeverity(violationPercent float64) Severity {
	switch {
	case violationPercent < 25:
		return SeverityLow
	case violationPercent < 75:
		return SeverityMedium
	case violationPercent < 150:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// ViolationRecord is created once per timer that transitions into violated.
// RootCause and the acknowledgement fields are written only by the external review workflow.
type ViolationRecord struct {
	ID               string
	TimerID          string
	CaseID           string
	TenantID         string
	Metric           MetricType
	PolicyID         string
	PolicyVersion    int
	TargetMinutes    int64
	ActualMinutes    int64
	ViolationMinutes int64
	ViolationPercent float64
	Severity         Severity
	CreatedAt        time.Time

	RootCause      string
	Notes          string
	AcknowledgedBy *string
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

// ViolationAnnotation is the external workflow's update to a violation.
type ViolationAnnotation struct {
	RootCause      string
	Notes          string
	AcknowledgedBy string
	AcknowledgedAt time.Time
	Resolved       bool
}
