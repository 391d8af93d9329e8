package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/sla-engine/internal/calendar"
	"github.com/spec-kit/sla-engine/internal/clock"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/escalation"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/rules"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// PolicySource resolves the exact policy version a timer was created from.
type PolicySource interface {
	PolicyVersion(ctx context.Context, id string, version int) (domain.TrackingPolicy, error)
}

// Config tunes sweeping and memory retention.
type Config struct {
	SweepConcurrency  int
	TerminalRetention time.Duration
}

// Dependencies wires the manager's collaborators.
type Dependencies struct {
	Clock      clock.Clock
	Calendars  *calendar.Resolver
	Evaluator  *rules.Evaluator
	Escalator  *escalation.Dispatcher
	Store      *Store
	Policies   PolicySource
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// Outcome describes what one recompute of one timer produced.
type Outcome struct {
	Timer     *domain.TimerInstance
	Events    []domain.TimerEvent
	Violation *domain.ViolationRecord
	Commands  []domain.EscalationCommand
}

// SweepStats summarises a sweep.
type SweepStats struct {
	Scanned   int
	Violated  int
	Escalated int
	Failed    int
	Evicted   int
}

// Manager owns the lifecycle of every (case, metric) timer.
type Manager struct {
	cfg        Config
	clock      clock.Clock
	calendars  *calendar.Resolver
	evaluator  *rules.Evaluator
	escalator  *escalation.Dispatcher
	store      *Store
	locks      *KeyedMutex
	policies   PolicySource
	dispatcher events.Dispatcher
	logger     *zap.Logger

	policyMu    sync.RWMutex
	policyCache map[string]domain.TrackingPolicy
}

// NewManager creates a Manager.
func NewManager(cfg Config, deps Dependencies) *Manager {
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 8
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:         cfg,
		clock:       deps.Clock,
		calendars:   deps.Calendars,
		evaluator:   deps.Evaluator,
		escalator:   deps.Escalator,
		store:       deps.Store,
		locks:       NewKeyedMutex(),
		policies:    deps.Policies,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		policyCache: make(map[string]domain.TrackingPolicy),
	}
	if m.clock == nil {
		m.clock = clock.RealClock{}
	}
	if m.calendars == nil {
		m.calendars = calendar.NewResolver()
	}
	if m.evaluator == nil {
		m.evaluator = rules.NewEvaluator(logger)
	}
	if m.escalator == nil {
		m.escalator = escalation.NewDispatcher(logger)
	}
	if m.store == nil {
		m.store = NewStore(nil)
	}
	return m
}

// Warm loads non-terminal timers from storage.
func (m *Manager) Warm(ctx context.Context) (int, error) {
	return m.store.Warm(ctx)
}

// ApplyEvent recomputes every timer of the event's case. applicable lists the policies whose
// application rules match, highest priority first; the first policy tracking a metric wins.
func (m *Manager) ApplyEvent(ctx context.Context, event domain.CaseEvent, applicable []domain.TrackingPolicy) ([]Outcome, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = m.clock.Now()
	}
	if event.Type == domain.CaseDeleted {
		return m.cancelKeys(ctx, m.store.CaseKeys(event.CaseID), event.Actor.Label(), event.Timestamp)
	}

	chosen := make(map[domain.MetricType]domain.TrackingPolicy)
	for _, policy := range applicable {
		m.rememberPolicy(policy)
		for _, metric := range policy.TrackedMetrics() {
			if _, taken := chosen[metric]; !taken {
				chosen[metric] = policy
			}
		}
	}
	existing := make(map[domain.MetricType]bool)
	for _, key := range m.store.CaseKeys(event.CaseID) {
		existing[key.Metric] = true
	}

	var (
		outcomes []Outcome
		errs     []error
	)
	for _, metric := range domain.AllMetrics {
		policy, ok := chosen[metric]
		if !ok && !existing[metric] {
			continue
		}
		var candidate *domain.TrackingPolicy
		if ok {
			candidate = &policy
		}
		key := domain.TimerKey{CaseID: event.CaseID, Metric: metric}
		out, err := m.applyToTimer(ctx, key, event, candidate)
		if err != nil {
			m.logger.Warn("timer recompute failed",
				zap.String("case_id", event.CaseID),
				zap.String("metric", string(metric)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("timer %s: %w", key, err))
			continue
		}
		if out != nil {
			m.publish(ctx, *out)
			outcomes = append(outcomes, *out)
		}
	}
	return outcomes, errors.Join(errs...)
}

func (m *Manager) applyToTimer(ctx context.Context, key domain.TimerKey, event domain.CaseEvent, candidate *domain.TrackingPolicy) (*Outcome, error) {
	unlock := m.locks.Lock(key)
	defer unlock()

	actor := event.Actor.Label()
	inst, err := m.store.Get(ctx, key)
	created := false
	switch {
	case errors.Is(err, apperrors.ErrTimerNotFound):
		if candidate == nil || !opensTimers(event) || event.EndsMetric(key.Metric) {
			return nil, nil
		}
		if err := m.calendars.Validate(candidate.Calendar); err != nil {
			m.logger.Warn("policy skipped for case",
				zap.String("policy_id", candidate.ID),
				zap.String("case_id", key.CaseID),
				zap.Error(err))
			return nil, nil
		}
		inst = m.newInstance(key, event, *candidate)
		created = true
	case err != nil:
		return nil, err
	}
	if inst.Status.Terminal() {
		return nil, nil
	}

	var policy domain.TrackingPolicy
	if created {
		policy = *candidate
	} else if policy, err = m.policyFor(ctx, inst); err != nil {
		return nil, err
	}

	c := &change{inst: inst}
	if created {
		c.record("", domain.TimerEventStarted, domain.ReasonCaseEvent, actor, inst.StartedAt)
	}

	at := effectiveInstant(event.Timestamp, inst.AccruedUntil)
	touchActivity(inst, event, at)
	if err := m.accrue(inst, policy, at); err != nil {
		return nil, err
	}

	snapshot := m.enrich(event.Snapshot, inst, at)
	violated := m.checkViolation(c, at, domain.ReasonCaseEvent, actor)
	if !violated {
		switch {
		case event.EndsMetric(inst.Metric):
			m.complete(c, domain.ReasonCaseEvent, actor, at)
		case m.evaluator.Evaluate(policy.StopRule, snapshot):
			m.complete(c, domain.ReasonRuleMatch, actor, at)
		case inst.Status == domain.TimerRunning && m.evaluator.Evaluate(policy.PauseRule, snapshot):
			m.pause(c, actor, at)
		case inst.Status == domain.TimerPaused && m.shouldResume(policy, snapshot):
			m.resume(c, actor, at)
		}
	}
	m.assess(c, policy, violated, domain.ReasonCaseEvent, actor, at)
	m.project(inst, policy)
	return m.commit(c), nil
}

// Recompute accrues a running timer up to now and checks thresholds.
func (m *Manager) Recompute(ctx context.Context, key domain.TimerKey) (*Outcome, error) {
	out, err := m.recompute(ctx, key)
	if out != nil {
		m.publish(ctx, *out)
	}
	return out, err
}

func (m *Manager) recompute(ctx context.Context, key domain.TimerKey) (*Outcome, error) {
	unlock := m.locks.Lock(key)
	defer unlock()

	inst, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.TimerRunning {
		return nil, nil
	}
	policy, err := m.policyFor(ctx, inst)
	if err != nil {
		return nil, err
	}

	c := &change{inst: inst}
	at := effectiveInstant(m.clock.Now(), inst.AccruedUntil)
	if err := m.accrue(inst, policy, at); err != nil {
		return nil, err
	}
	violated := m.checkViolation(c, at, domain.ReasonSystemTick, domain.SystemActor)
	m.assess(c, policy, violated, domain.ReasonSystemTick, domain.SystemActor, at)
	m.project(inst, policy)
	return m.commit(c), nil
}

// Sweep recomputes every running timer. A failing timer is counted and logged and never
// stops the others.
func (m *Manager) Sweep(ctx context.Context) (SweepStats, error) {
	keys := m.store.Keys(func(status domain.TimerStatus, _ string) bool {
		return status == domain.TimerRunning
	})

	var (
		stats SweepStats
		mu    sync.Mutex
		g     errgroup.Group
	)
	g.SetLimit(m.cfg.SweepConcurrency)
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := m.Recompute(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			stats.Scanned++
			if err != nil {
				stats.Failed++
				m.logger.Warn("sweep recompute failed", zap.String("timer", key.String()), zap.Error(err))
				return nil
			}
			if out != nil {
				if out.Violation != nil {
					stats.Violated++
				}
				stats.Escalated += len(out.Commands)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Evicted = m.store.Evict(m.clock.Now().Add(-m.cfg.TerminalRetention))
	return stats, ctx.Err()
}

// CancelCase force-completes every non-terminal timer of a case with reason cancelled.
func (m *Manager) CancelCase(ctx context.Context, caseID, actor string) ([]Outcome, error) {
	return m.cancelKeys(ctx, m.store.CaseKeys(caseID), actor, time.Time{})
}

// CancelPolicy force-completes every non-terminal timer created from any version of policyID.
func (m *Manager) CancelPolicy(ctx context.Context, policyID, actor string) ([]Outcome, error) {
	keys := m.store.Keys(func(status domain.TimerStatus, pid string) bool {
		return !status.Terminal() && pid == policyID
	})
	return m.cancelKeys(ctx, keys, actor, time.Time{})
}

func (m *Manager) cancelKeys(ctx context.Context, keys []domain.TimerKey, actor string, at time.Time) ([]Outcome, error) {
	if actor == "" {
		actor = domain.SystemActor
	}
	var (
		outcomes []Outcome
		errs     []error
	)
	for _, key := range keys {
		out, err := m.cancel(ctx, key, actor, at)
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", key, err))
			continue
		}
		if out != nil {
			m.publish(ctx, *out)
			outcomes = append(outcomes, *out)
		}
	}
	return outcomes, errors.Join(errs...)
}

func (m *Manager) cancel(ctx context.Context, key domain.TimerKey, actor string, at time.Time) (*Outcome, error) {
	unlock := m.locks.Lock(key)
	defer unlock()

	inst, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if inst.Status.Terminal() {
		return nil, nil
	}
	if at.IsZero() {
		at = m.clock.Now()
	}
	at = effectiveInstant(at, inst.AccruedUntil)

	if policy, err := m.policyFor(ctx, inst); err == nil {
		if err := m.accrue(inst, policy, at); err != nil {
			m.logger.Warn("accrual skipped on cancel", zap.String("timer_id", inst.ID), zap.Error(err))
		}
	} else {
		m.logger.Warn("policy unavailable on cancel", zap.String("timer_id", inst.ID), zap.Error(err))
	}

	c := &change{inst: inst}
	m.complete(c, domain.ReasonCancelled, actor, at)
	return m.commit(c), nil
}

// Timer returns a copy of the live timer for key.
func (m *Manager) Timer(ctx context.Context, key domain.TimerKey) (*domain.TimerInstance, error) {
	unlock := m.locks.Lock(key)
	defer unlock()
	inst, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

// CaseTimers returns copies of the in-memory timers of a case.
func (m *Manager) CaseTimers(ctx context.Context, caseID string) ([]*domain.TimerInstance, error) {
	var out []*domain.TimerInstance
	for _, key := range m.store.CaseKeys(caseID) {
		inst, err := m.Timer(ctx, key)
		if err != nil {
			if errors.Is(err, apperrors.ErrTimerNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// ActiveTimers counts indexed non-terminal timers.
func (m *Manager) ActiveTimers() int {
	return len(m.store.Keys(func(status domain.TimerStatus, _ string) bool {
		return !status.Terminal()
	}))
}

func (m *Manager) newInstance(key domain.TimerKey, event domain.CaseEvent, policy domain.TrackingPolicy) *domain.TimerInstance {
	tenant := event.TenantID
	if tenant == "" {
		tenant = policy.TenantID
	}
	inst := &domain.TimerInstance{
		ID:            uuid.NewString(),
		CaseID:        key.CaseID,
		TenantID:      tenant,
		Metric:        key.Metric,
		PolicyID:      policy.ID,
		PolicyVersion: policy.Version,
		Status:        domain.TimerRunning,
		StartedAt:     event.Timestamp,
		AccruedUntil:  event.Timestamp,
		TargetMinutes: policy.Targets[key.Metric],
	}
	inst.SyncCounters()
	m.logger.Debug("timer started",
		zap.String("timer_id", inst.ID),
		zap.String("case_id", inst.CaseID),
		zap.String("metric", string(inst.Metric)),
		zap.String("policy", policy.Ref()))
	return inst
}

// accrue adds business time between the accrual cursor and at while running.
func (m *Manager) accrue(inst *domain.TimerInstance, policy domain.TrackingPolicy, at time.Time) error {
	if !at.After(inst.AccruedUntil) {
		return nil
	}
	if inst.Status == domain.TimerRunning {
		d, err := m.calendars.BusinessDurationBetween(inst.AccruedUntil, at, policy.Calendar)
		if err != nil {
			return err
		}
		inst.Elapsed += d
	}
	inst.AccruedUntil = at
	inst.SyncCounters()
	return nil
}

func (m *Manager) checkViolation(c *change, at time.Time, reason domain.TransitionReason, actor string) bool {
	inst := c.inst
	if inst.Status != domain.TimerRunning || inst.Elapsed < inst.Target() {
		return false
	}
	violatedAt := at
	if inst.DueAt != nil && !inst.DueAt.After(at) {
		violatedAt = *inst.DueAt
	}
	prev := inst.Status
	inst.Status = domain.TimerViolated
	inst.ViolatedAt = domain.TimePtr(violatedAt)
	inst.Breached = true
	inst.SyncCounters()
	c.record(prev, domain.TimerEventViolated, reason, actor, at)
	return true
}

func (m *Manager) complete(c *change, reason domain.TransitionReason, actor string, at time.Time) {
	inst := c.inst
	prev := inst.Status
	inst.Status = domain.TimerCompleted
	inst.CompletedAt = domain.TimePtr(at)
	inst.CompletionReason = reason
	inst.DueAt = nil
	c.record(prev, domain.TimerEventCompleted, reason, actor, at)
}

func (m *Manager) pause(c *change, actor string, at time.Time) {
	inst := c.inst
	inst.Status = domain.TimerPaused
	inst.PausedAt = domain.TimePtr(at)
	inst.DueAt = nil
	c.record(domain.TimerRunning, domain.TimerEventPaused, domain.ReasonRuleMatch, actor, at)
}

func (m *Manager) resume(c *change, actor string, at time.Time) {
	inst := c.inst
	if inst.PausedAt != nil && at.After(*inst.PausedAt) {
		inst.Paused += at.Sub(*inst.PausedAt)
		inst.SyncCounters()
	}
	inst.Status = domain.TimerRunning
	inst.ResumedAt = domain.TimePtr(at)
	c.record(domain.TimerPaused, domain.TimerEventResumed, domain.ReasonRuleMatch, actor, at)
}

// shouldResume uses the resume rule, or the pause rule no longer matching when none is set.
func (m *Manager) shouldResume(policy domain.TrackingPolicy, snapshot domain.CaseSnapshot) bool {
	if policy.ResumeRule != nil {
		return m.evaluator.Evaluate(policy.ResumeRule, snapshot)
	}
	return !m.evaluator.Evaluate(policy.PauseRule, snapshot)
}

func (m *Manager) assess(c *change, policy domain.TrackingPolicy, violated bool, reason domain.TransitionReason, actor string, at time.Time) {
	result := m.escalator.Assess(c.inst, policy, violated, m.clock.Now())
	if result.Violation != nil {
		c.out.Violation = result.Violation
	}
	if result.Command != nil {
		c.out.Commands = append(c.out.Commands, *result.Command)
		c.record(c.inst.Status, domain.TimerEventEscalated, reason, actor, at)
	}
}

// project refreshes the breach instant of a running timer.
func (m *Manager) project(inst *domain.TimerInstance, policy domain.TrackingPolicy) {
	if inst.Status != domain.TimerRunning {
		if inst.Status != domain.TimerViolated {
			inst.DueAt = nil
		}
		return
	}
	due, err := m.calendars.AddBusinessDuration(inst.AccruedUntil, inst.Target()-inst.Elapsed, policy.Calendar)
	if err != nil {
		m.logger.Debug("due date projection failed", zap.String("timer_id", inst.ID), zap.Error(err))
		inst.DueAt = nil
		return
	}
	inst.DueAt = domain.TimePtr(due)
}

func (m *Manager) commit(c *change) *Outcome {
	inst := c.inst
	inst.Revision++
	inst.UpdatedAt = m.clock.Now()
	m.store.Put(inst)
	c.out.Timer = inst.Clone()
	return &c.out
}

func (m *Manager) enrich(base domain.CaseSnapshot, inst *domain.TimerInstance, at time.Time) domain.CaseSnapshot {
	snapshot := base.Clone()
	setIfAbsent(snapshot, "timer_status", string(inst.Status))
	setIfAbsent(snapshot, "metric", string(inst.Metric))
	if inst.LastActivityAt != nil {
		setIfAbsent(snapshot, "last_activity_at", *inst.LastActivityAt)
		setIfAbsent(snapshot, "minutes_since_last_activity", at.Sub(*inst.LastActivityAt).Minutes())
	}
	if inst.LastAgentActivityAt != nil {
		setIfAbsent(snapshot, "last_agent_activity_at", *inst.LastAgentActivityAt)
	}
	if inst.LastCustomerActivityAt != nil {
		setIfAbsent(snapshot, "last_customer_activity_at", *inst.LastCustomerActivityAt)
	}
	return snapshot
}

func (m *Manager) policyFor(ctx context.Context, inst *domain.TimerInstance) (domain.TrackingPolicy, error) {
	ref := domain.PolicyRef(inst.PolicyID, inst.PolicyVersion)
	m.policyMu.RLock()
	policy, ok := m.policyCache[ref]
	m.policyMu.RUnlock()
	if ok {
		return policy, nil
	}
	if m.policies == nil {
		return domain.TrackingPolicy{}, fmt.Errorf("%w: policy %s not cached", apperrors.ErrCatalogUnavailable, ref)
	}
	policy, err := m.policies.PolicyVersion(ctx, inst.PolicyID, inst.PolicyVersion)
	if err != nil {
		return domain.TrackingPolicy{}, fmt.Errorf("resolve policy %s: %w", ref, err)
	}
	m.rememberPolicy(policy)
	return policy, nil
}

func (m *Manager) rememberPolicy(policy domain.TrackingPolicy) {
	m.policyMu.Lock()
	m.policyCache[policy.Ref()] = policy
	m.policyMu.Unlock()
}

func (m *Manager) publish(ctx context.Context, out Outcome) {
	if m.dispatcher == nil {
		return
	}
	now := m.clock.Now()
	emit := func(t events.EventType, payload interface{}) {
		event := events.Event{
			ID:        uuid.NewString(),
			Type:      t,
			Timestamp: now,
			Payload:   payload,
		}
		if out.Timer != nil {
			event.CaseID = out.Timer.CaseID
			event.TimerID = out.Timer.ID
			event.Metric = out.Timer.Metric
		}
		if err := m.dispatcher.Publish(ctx, event); err != nil {
			m.logger.Warn("publish failed", zap.String("event_type", string(t)), zap.Error(err))
		}
	}

	for _, ev := range out.Events {
		emit(events.EventTimerTransitioned, events.TimerTransitionedPayload{Event: ev})
	}
	if out.Violation != nil {
		emit(events.EventViolationRecorded, events.ViolationRecordedPayload{Violation: *out.Violation})
	}
	for _, cmd := range out.Commands {
		emit(events.EventEscalationIssued, events.EscalationIssuedPayload{Command: cmd})
	}
	if out.Timer != nil {
		emit(events.EventTimerUpdated, events.TimerUpdatedPayload{Timer: out.Timer})
	}
}

// change accumulates the audit trail of one locked recompute.
type change struct {
	inst *domain.TimerInstance
	out  Outcome
}

func (c *change) record(prev domain.TimerStatus, typ domain.TimerEventType, reason domain.TransitionReason, actor string, at time.Time) {
	c.inst.Sequence++
	c.out.Events = append(c.out.Events, domain.TimerEvent{
		ID:               uuid.NewString(),
		TimerID:          c.inst.ID,
		CaseID:           c.inst.CaseID,
		Metric:           c.inst.Metric,
		Sequence:         c.inst.Sequence,
		Type:             typ,
		PreviousStatus:   prev,
		NewStatus:        c.inst.Status,
		ElapsedMinutes:   c.inst.ElapsedMinutes,
		RemainingMinutes: c.inst.RemainingMinutes,
		EscalationLevel:  c.inst.EscalationLevel,
		Reason:           reason,
		Actor:            actor,
		OccurredAt:       at,
	})
}

// opensTimers reports whether an event may start new timers.
func opensTimers(event domain.CaseEvent) bool {
	return event.Type != domain.CaseClosed && event.Type != domain.CaseDeleted
}

// effectiveInstant clamps out-of-order timestamps to the accrual cursor.
func effectiveInstant(ts, cursor time.Time) time.Time {
	if ts.Before(cursor) {
		return cursor
	}
	return ts
}

func touchActivity(inst *domain.TimerInstance, event domain.CaseEvent, at time.Time) {
	switch event.Type {
	case domain.CaseCreated, domain.CaseAssigned, domain.CaseStatusChanged, domain.CaseCommented:
		inst.LastActivityAt = domain.TimePtr(at)
	default:
		return
	}
	if event.Type != domain.CaseCommented {
		return
	}
	switch event.Actor.Type {
	case domain.ActorAgent:
		inst.LastAgentActivityAt = domain.TimePtr(at)
	case domain.ActorCustomer:
		inst.LastCustomerActivityAt = domain.TimePtr(at)
	}
}

func setIfAbsent(snapshot domain.CaseSnapshot, key string, value any) {
	if _, ok := snapshot[key]; !ok {
		snapshot[key] = value
	}
}
