package calendar

import (
	"fmt"
	"sync"
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// maxProjectionDays bounds AddBusinessDuration walks.
const maxProjectionDays = 3660

// Resolver answers business-time questions for calendars.
type Resolver struct {
	mu        sync.RWMutex
	locations map[string]*time.Location
}

// NewResolver builds a Resolver with an empty location cache.
func NewResolver() *Resolver {
	return &Resolver{locations: make(map[string]*time.Location)}
}

// Validate reports InvalidCalendar problems.
func (r *Resolver) Validate(cal domain.Calendar) error {
	if err := cal.ValidateWindow(); err != nil {
		return err
	}
	_, err := r.location(cal)
	return err
}

// IsBusinessTime reports whether instant falls within business time.
func (r *Resolver) IsBusinessTime(instant time.Time, cal domain.Calendar) (bool, error) {
	if err := r.Validate(cal); err != nil {
		return false, err
	}
	if !cal.BusinessHoursOnly {
		return true, nil
	}
	loc, err := r.location(cal)
	if err != nil {
		return false, err
	}
	local := instant.In(loc)
	if !r.workingDate(local, cal) {
		return false, nil
	}
	opening, closing := window(local, cal)
	return !local.Before(opening) && local.Before(closing), nil
}

// BusinessMinutesBetween returns business minutes in [start, end); zero when end precedes start.
func (r *Resolver) BusinessMinutesBetween(start, end time.Time, cal domain.Calendar) (float64, error) {
	d, err := r.BusinessDurationBetween(start, end, cal)
	if err != nil {
		return 0, err
	}
	return d.Minutes(), nil
}

// BusinessDurationBetween returns the exact business duration in [start, end).
func (r *Resolver) BusinessDurationBetween(start, end time.Time, cal domain.Calendar) (time.Duration, error) {
	if err := r.Validate(cal); err != nil {
		return 0, err
	}
	if !end.After(start) {
		return 0, nil
	}
	if !cal.BusinessHoursOnly {
		return end.Sub(start), nil
	}
	loc, err := r.location(cal)
	if err != nil {
		return 0, err
	}

	var total time.Duration
	localStart := start.In(loc)
	day := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, loc)
	for !day.After(end) {
		if r.workingDate(day, cal) {
			opening, closing := window(day, cal)
			total += overlap(opening, closing, start, end)
		}
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}
	return total, nil
}

// AddBusinessDuration returns the instant at which d business time has elapsed after start.
func (r *Resolver) AddBusinessDuration(start time.Time, d time.Duration, cal domain.Calendar) (time.Time, error) {
	if err := r.Validate(cal); err != nil {
		return time.Time{}, err
	}
	if d <= 0 {
		return start, nil
	}
	if !cal.BusinessHoursOnly {
		return start.Add(d), nil
	}
	loc, err := r.location(cal)
	if err != nil {
		return time.Time{}, err
	}

	remaining := d
	localStart := start.In(loc)
	day := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, loc)
	for i := 0; i < maxProjectionDays; i++ {
		if r.workingDate(day, cal) {
			opening, closing := window(day, cal)
			if opening.Before(start) {
				opening = start
			}
			if closing.After(opening) {
				avail := closing.Sub(opening)
				if remaining <= avail {
					return opening.Add(remaining).UTC(), nil
				}
				remaining -= avail
			}
		}
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}
	return time.Time{}, fmt.Errorf("%w: no business time within %d days", apperrors.ErrInvalidCalendar, maxProjectionDays)
}

func (r *Resolver) workingDate(local time.Time, cal domain.Calendar) bool {
	if !cal.IsWorkingDay(local.Weekday()) {
		return false
	}
	date := local.Format(time.DateOnly)
	for _, h := range cal.Holidays {
		if h == date {
			return false
		}
	}
	return true
}

func (r *Resolver) location(cal domain.Calendar) (*time.Location, error) {
	r.mu.RLock()
	loc, ok := r.locations[cal.Timezone]
	r.mu.RUnlock()
	if ok {
		return loc, nil
	}
	loc, err := cal.Location()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.locations[cal.Timezone] = loc
	r.mu.Unlock()
	return loc, nil
}

// window returns the wall-clock business window of the local day containing t.
func window(t time.Time, cal domain.Calendar) (time.Time, time.Time) {
	loc := t.Location()
	y, m, d := t.Date()
	opening := time.Date(y, m, d, cal.WorkingHours.Start.Hour(), cal.WorkingHours.Start.Minute(), 0, 0, loc)
	closing := time.Date(y, m, d, cal.WorkingHours.End.Hour(), cal.WorkingHours.End.Minute(), 0, 0, loc)
	return opening, closing
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}
