package domain

import "time"

// TimerStatus enumerates timer lifecycle states.
type TimerStatus string

const (
	TimerRunning   TimerStatus = "running"
	TimerPaused    TimerStatus = "paused"
	TimerCompleted TimerStatus = "completed"
	TimerViolated  TimerStatus = "violated"
)

// Terminal reports whether no transition may leave s.
func (s TimerStatus) Terminal() bool {
	return s == TimerCompleted || s == TimerViolated
}

// TimerKey is the unique identity of a timer.
type TimerKey struct {
	CaseID string
	Metric MetricType
}

func (k TimerKey) String() string {
	return k.CaseID + "/" + string(k.Metric)
}

// TimerInstance tracks one metric of one case against the policy version that created it.
type TimerInstance struct {
	ID            string
	CaseID        string
	TenantID      string
	Metric        MetricType
	PolicyID      string
	PolicyVersion int
	Status        TimerStatus

	StartedAt   time.Time
	PausedAt    *time.Time
	ResumedAt   *time.Time
	CompletedAt *time.Time
	ViolatedAt  *time.Time

	// Elapsed is the exact business time counted so far and Paused the exact wall-clock time
	// spent paused; the minute fields derive from them.
	Elapsed          time.Duration
	Paused           time.Duration
	AccruedUntil     time.Time
	ElapsedMinutes   int64
	PausedMinutes    int64
	TargetMinutes    int64
	RemainingMinutes int64

	Breached        bool
	BreachPercent   float64
	EscalationLevel int
	DueAt           *time.Time

	LastActivityAt         *time.Time
	LastAgentActivityAt    *time.Time
	LastCustomerActivityAt *time.Time

	CompletionReason TransitionReason
	ViolationID      string
	Sequence         int64
	// Revision increments on every mutation so stale snapshots never overwrite newer ones.
	Revision  int64
	UpdatedAt time.Time
}

// Key returns the timer identity.
func (t *TimerInstance) Key() TimerKey {
	return TimerKey{CaseID: t.CaseID, Metric: t.Metric}
}

// Target returns the target as a duration.
func (t *TimerInstance) Target() time.Duration {
	return time.Duration(t.TargetMinutes) * time.Minute
}

// SyncCounters recomputes the derived minute fields from Elapsed and Paused.
func (t *TimerInstance) SyncCounters() {
	t.ElapsedMinutes = int64(t.Elapsed / time.Minute)
	t.PausedMinutes = int64(t.Paused / time.Minute)
	t.RemainingMinutes = t.TargetMinutes - t.ElapsedMinutes
	if t.TargetMinutes > 0 {
		t.BreachPercent = float64(t.Elapsed) / float64(t.Target()) * 100
	}
}

// ElapsedPercent returns elapsed/target as a percentage.
func (t *TimerInstance) ElapsedPercent() float64 {
	if t.TargetMinutes <= 0 {
		return 0
	}
	return float64(t.Elapsed) / float64(t.Target()) * 100
}

// Clone returns a deep copy safe to hand outside the instance lock.
func (t *TimerInstance) Clone() *TimerInstance {
	if t == nil {
		return nil
	}
	c := *t
	c.PausedAt = cloneTime(t.PausedAt)
	c.ResumedAt = cloneTime(t.ResumedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.ViolatedAt = cloneTime(t.ViolatedAt)
	c.DueAt = cloneTime(t.DueAt)
	c.LastActivityAt = cloneTime(t.LastActivityAt)
	c.LastAgentActivityAt = cloneTime(t.LastAgentActivityAt)
	c.LastCustomerActivityAt = cloneTime(t.LastCustomerActivityAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
