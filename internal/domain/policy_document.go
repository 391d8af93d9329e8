package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/sla-engine/internal/rules"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// PolicyDocument is the stored form of a TrackingPolicy (JSONB, TOML files, cache entries).
type PolicyDocument struct {
	ID              string             `json:"id" toml:"id"`
	Version         int                `json:"version" toml:"version"`
	TenantID        string             `json:"tenant_id,omitempty" toml:"tenant_id"`
	Name            string             `json:"name,omitempty" toml:"name"`
	Priority        int                `json:"priority,omitempty" toml:"priority"`
	Active          *bool              `json:"active,omitempty" toml:"active"`
	Targets         map[string]int64   `json:"targets" toml:"targets"`
	Calendar        CalendarDocument   `json:"calendar" toml:"calendar"`
	ApplicationRule any                `json:"application_rule,omitempty" toml:"application_rule"`
	PauseRule       any                `json:"pause_rule,omitempty" toml:"pause_rule"`
	ResumeRule      any                `json:"resume_rule,omitempty" toml:"resume_rule"`
	StopRule        any                `json:"stop_rule,omitempty" toml:"stop_rule"`
	Escalation      EscalationDocument `json:"escalation" toml:"escalation"`
	EffectiveFrom   time.Time          `json:"effective_from" toml:"effective_from"`
	EffectiveUntil  *time.Time         `json:"effective_until,omitempty" toml:"effective_until"`
	CreatedAt       time.Time          `json:"created_at,omitempty" toml:"created_at"`
}

// CalendarDocument is the stored calendar; days are weekday names, hours are "HH:MM".
type CalendarDocument struct {
	BusinessHoursOnly bool     `json:"business_hours_only" toml:"business_hours_only"`
	Timezone          string   `json:"timezone,omitempty" toml:"timezone"`
	WorkingDays       []string `json:"working_days,omitempty" toml:"working_days"`
	WorkingHoursStart string   `json:"working_hours_start,omitempty" toml:"working_hours_start"`
	WorkingHoursEnd   string   `json:"working_hours_end,omitempty" toml:"working_hours_end"`
	Holidays          []string `json:"holidays,omitempty" toml:"holidays"`
}

// EscalationDocument is the stored escalation configuration.
type EscalationDocument struct {
	Enabled          bool             `json:"enabled" toml:"enabled"`
	ThresholdPercent float64          `json:"threshold_percent,omitempty" toml:"threshold_percent"`
	Actions          []ActionDocument `json:"actions,omitempty" toml:"actions"`
}

// ActionDocument is one stored escalation action.
type ActionDocument struct {
	Name      string         `json:"name" toml:"name"`
	Payload   map[string]any `json:"payload,omitempty" toml:"payload"`
	AtPercent float64        `json:"at_percent,omitempty" toml:"at_percent"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ToPolicy parses rule trees and calendar values and validates the result.
func (d PolicyDocument) ToPolicy() (TrackingPolicy, error) {
	policy := TrackingPolicy{
		ID:             d.ID,
		Version:        d.Version,
		TenantID:       d.TenantID,
		Name:           d.Name,
		Priority:       d.Priority,
		Active:         d.Active == nil || *d.Active,
		Targets:        make(map[MetricType]int64, len(d.Targets)),
		EffectiveFrom:  d.EffectiveFrom,
		EffectiveUntil: d.EffectiveUntil,
		CreatedAt:      d.CreatedAt,
	}
	if policy.Version <= 0 {
		policy.Version = 1
	}
	for metric, minutes := range d.Targets {
		policy.Targets[MetricType(strings.ToLower(metric))] = minutes
	}

	cal, err := d.Calendar.ToCalendar()
	if err != nil {
		return TrackingPolicy{}, fmt.Errorf("policy %s: %w", d.ID, err)
	}
	policy.Calendar = cal

	for _, r := range []struct {
		name string
		raw  any
		dst  *rules.Node
	}{
		{"application_rule", d.ApplicationRule, &policy.ApplicationRule},
		{"pause_rule", d.PauseRule, &policy.PauseRule},
		{"resume_rule", d.ResumeRule, &policy.ResumeRule},
		{"stop_rule", d.StopRule, &policy.StopRule},
	} {
		node, err := rules.FromValue(r.raw)
		if err != nil {
			return TrackingPolicy{}, fmt.Errorf("%w: policy %s %s: %v", apperrors.ErrInvalidPolicy, d.ID, r.name, err)
		}
		*r.dst = node
	}

	policy.Escalation = EscalationSettings{
		Enabled:          d.Escalation.Enabled,
		ThresholdPercent: d.Escalation.ThresholdPercent,
	}
	for _, a := range d.Escalation.Actions {
		policy.Escalation.Actions = append(policy.Escalation.Actions, EscalationAction{
			Name:      a.Name,
			Payload:   a.Payload,
			AtPercent: a.AtPercent,
		})
	}

	if err := policy.Validate(); err != nil {
		return TrackingPolicy{}, err
	}
	return policy, nil
}

// ToCalendar parses weekday names and "HH:MM" hours.
func (c CalendarDocument) ToCalendar() (Calendar, error) {
	cal := Calendar{
		BusinessHoursOnly: c.BusinessHoursOnly,
		Timezone:          c.Timezone,
		Holidays:          c.Holidays,
	}
	for _, name := range c.WorkingDays {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return Calendar{}, fmt.Errorf("%w: unknown weekday %q", apperrors.ErrInvalidCalendar, name)
		}
		cal.WorkingDays = append(cal.WorkingDays, day)
	}
	if c.WorkingHoursStart != "" {
		start, err := ParseTimeOfDay(c.WorkingHoursStart)
		if err != nil {
			return Calendar{}, err
		}
		cal.WorkingHours.Start = start
	}
	if c.WorkingHoursEnd != "" {
		end, err := ParseTimeOfDay(c.WorkingHoursEnd)
		if err != nil {
			return Calendar{}, err
		}
		cal.WorkingHours.End = end
	}
	return cal, nil
}

// DocumentFromPolicy renders policy back into its stored form.
func DocumentFromPolicy(p TrackingPolicy) PolicyDocument {
	active := p.Active
	doc := PolicyDocument{
		ID:              p.ID,
		Version:         p.Version,
		TenantID:        p.TenantID,
		Name:            p.Name,
		Priority:        p.Priority,
		Active:          &active,
		Targets:         make(map[string]int64, len(p.Targets)),
		ApplicationRule: rules.ToValue(p.ApplicationRule),
		PauseRule:       rules.ToValue(p.PauseRule),
		ResumeRule:      rules.ToValue(p.ResumeRule),
		StopRule:        rules.ToValue(p.StopRule),
		Escalation: EscalationDocument{
			Enabled:          p.Escalation.Enabled,
			ThresholdPercent: p.Escalation.ThresholdPercent,
		},
		EffectiveFrom:  p.EffectiveFrom,
		EffectiveUntil: p.EffectiveUntil,
		CreatedAt:      p.CreatedAt,
		Calendar: CalendarDocument{
			BusinessHoursOnly: p.Calendar.BusinessHoursOnly,
			Timezone:          p.Calendar.Timezone,
			Holidays:          p.Calendar.Holidays,
		},
	}
	for metric, minutes := range p.Targets {
		doc.Targets[string(metric)] = minutes
	}
	for _, day := range p.Calendar.WorkingDays {
		doc.Calendar.WorkingDays = append(doc.Calendar.WorkingDays, strings.ToLower(day.String()))
	}
	if p.Calendar.BusinessHoursOnly {
		doc.Calendar.WorkingHoursStart = p.Calendar.WorkingHours.Start.String()
		doc.Calendar.WorkingHoursEnd = p.Calendar.WorkingHours.End.String()
	}
	for _, a := range p.Escalation.Actions {
		doc.Escalation.Actions = append(doc.Escalation.Actions, ActionDocument{
			Name:      a.Name,
			Payload:   a.Payload,
			AtPercent: a.AtPercent,
		})
	}
	return doc
}
