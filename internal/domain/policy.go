package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/sla-engine/internal/rules"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// MetricType enumerates tracked commitments.
type MetricType string

const (
	MetricResponse   MetricType = "response"
	MetricResolution MetricType = "resolution"
	MetricUpdate     MetricType = "update"
	MetricIdle       MetricType = "idle"
)

// AllMetrics lists metrics in evaluation order.
var AllMetrics = []MetricType{MetricResponse, MetricResolution, MetricUpdate, MetricIdle}

// Valid reports whether m is a known metric.
func (m MetricType) Valid() bool {
	for _, known := range AllMetrics {
		if m == known {
			return true
		}
	}
	return false
}

// TimeOfDay is minutes since local midnight; 1440 means end of day.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24:00 allowed).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: time of day %q", apperrors.ErrInvalidCalendar, s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: time of day %q out of range", apperrors.ErrInvalidCalendar, s)
	}
	return TimeOfDay(h*60 + m), nil
}

// String renders HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Hour and Minute split the value for time.Date.
func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// WorkingHours is the daily business window [Start, End).
type WorkingHours struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Calendar describes when time counts against a target.
type Calendar struct {
	BusinessHoursOnly bool
	Timezone          string
	WorkingDays       []time.Weekday
	WorkingHours      WorkingHours
	// Holidays are local dates (YYYY-MM-DD) that never count as business time.
	Holidays []string
}

// Location resolves the calendar timezone; empty means UTC.
func (c Calendar) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", apperrors.ErrInvalidCalendar, c.Timezone, err)
	}
	return loc, nil
}

// Validate checks calendar configuration including the timezone.
func (c Calendar) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	return c.ValidateWindow()
}

// ValidateWindow checks working days, hours and holidays without loading the timezone.
func (c Calendar) ValidateWindow() error {
	if !c.BusinessHoursOnly {
		return nil
	}
	if len(c.WorkingDays) == 0 {
		return fmt.Errorf("%w: business hours calendar without working days", apperrors.ErrInvalidCalendar)
	}
	for _, d := range c.WorkingDays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: weekday %d", apperrors.ErrInvalidCalendar, d)
		}
	}
	if c.WorkingHours.Start < 0 || c.WorkingHours.End > 24*60 || c.WorkingHours.Start >= c.WorkingHours.End {
		return fmt.Errorf("%w: working hours %s-%s", apperrors.ErrInvalidCalendar, c.WorkingHours.Start, c.WorkingHours.End)
	}
	for _, h := range c.Holidays {
		if _, err := time.Parse(time.DateOnly, h); err != nil {
			return fmt.Errorf("%w: holiday %q", apperrors.ErrInvalidCalendar, h)
		}
	}
	return nil
}

// IsWorkingDay reports whether d is configured as a working day.
func (c Calendar) IsWorkingDay(d time.Weekday) bool {
	for _, wd := range c.WorkingDays {
		if wd == d {
			return true
		}
	}
	return false
}

// EscalationAction is an opaque command template handed to the workflow collaborator.
type EscalationAction struct {
	Name    string
	Payload map[string]any
	// AtPercent overrides the computed threshold for this level when > 0.
	AtPercent float64
}

// EscalationSettings configures pre-breach escalation.
type EscalationSettings struct {
	Enabled          bool
	ThresholdPercent float64
	Actions          []EscalationAction
}

// LevelThreshold returns the elapsed percentage at which escalation level (0-based) fires.
// Levels without an explicit AtPercent fire at ThresholdPercent, one level per assessment.
func (s EscalationSettings) LevelThreshold(level int) float64 {
	if level < 0 || level >= len(s.Actions) {
		return 0
	}
	if at := s.Actions[level].AtPercent; at > 0 {
		return at
	}
	return s.ThresholdPercent
}

// TrackingPolicy is an immutable, versioned commitment definition.
type TrackingPolicy struct {
	ID       string
	Version  int
	TenantID string
	Name     string
	Priority int
	Active   bool

	Targets  map[MetricType]int64
	Calendar Calendar

	ApplicationRule rules.Node
	PauseRule       rules.Node
	ResumeRule      rules.Node
	StopRule        rules.Node

	Escalation EscalationSettings

	EffectiveFrom  time.Time
	EffectiveUntil *time.Time
	CreatedAt      time.Time
}

// Ref identifies the exact policy version.
func (p TrackingPolicy) Ref() string {
	return PolicyRef(p.ID, p.Version)
}

// PolicyRef formats an id@version reference.
func PolicyRef(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// Tracks reports whether metric has a target.
func (p TrackingPolicy) Tracks(metric MetricType) bool {
	target, ok := p.Targets[metric]
	return ok && target > 0
}

// TrackedMetrics returns metrics with targets in AllMetrics order.
func (p TrackingPolicy) TrackedMetrics() []MetricType {
	out := make([]MetricType, 0, len(p.Targets))
	for _, m := range AllMetrics {
		if p.Tracks(m) {
			out = append(out, m)
		}
	}
	return out
}

// InValidityWindow reports whether at falls within [EffectiveFrom, EffectiveUntil).
func (p TrackingPolicy) InValidityWindow(at time.Time) bool {
	if !p.EffectiveFrom.IsZero() && at.Before(p.EffectiveFrom) {
		return false
	}
	if p.EffectiveUntil != nil && !at.Before(*p.EffectiveUntil) {
		return false
	}
	return true
}

// Validate enforces policy invariants.
func (p TrackingPolicy) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id required", apperrors.ErrInvalidPolicy)
	}
	if len(p.TrackedMetrics()) == 0 {
		return fmt.Errorf("%w: policy %s sets no target", apperrors.ErrInvalidPolicy, p.ID)
	}
	for metric, target := range p.Targets {
		if !metric.Valid() {
			return fmt.Errorf("%w: policy %s unknown metric %q", apperrors.ErrInvalidPolicy, p.ID, metric)
		}
		if target <= 0 {
			return fmt.Errorf("%w: policy %s target for %s must be positive", apperrors.ErrInvalidPolicy, p.ID, metric)
		}
	}
	if p.EffectiveUntil != nil && !p.EffectiveUntil.After(p.EffectiveFrom) {
		return fmt.Errorf("%w: policy %s validity window is empty", apperrors.ErrInvalidPolicy, p.ID)
	}
	if p.Escalation.Enabled {
		if p.Escalation.ThresholdPercent <= 0 {
			return fmt.Errorf("%w: policy %s escalation threshold must be positive", apperrors.ErrInvalidPolicy, p.ID)
		}
		if len(p.Escalation.Actions) == 0 {
			return fmt.Errorf("%w: policy %s escalation enabled without actions", apperrors.ErrInvalidPolicy, p.ID)
		}
	}
	if err := p.Calendar.Validate(); err != nil {
		return fmt.Errorf("policy %s: %w", p.ID, err)
	}
	return nil
}
