package dto

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// BusinessMinutesRequest asks how much business time lies in [Start, End) and, optionally,
// when a target measured from Start falls due.
type BusinessMinutesRequest struct {
	Start         time.Time               `json:"start"`
	End           *time.Time              `json:"end"`
	TargetMinutes int64                   `json:"target_minutes"`
	Calendar      domain.CalendarDocument `json:"calendar"`
}

// BusinessMinutesResponse answers a BusinessMinutesRequest.
type BusinessMinutesResponse struct {
	BusinessMinutes *float64   `json:"business_minutes,omitempty"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	InBusinessTime  bool       `json:"start_in_business_time"`
}
