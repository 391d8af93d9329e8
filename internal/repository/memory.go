package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// The memory repositories back the engine when no DSN is configured and in tests.
// They follow the same conflict rules as their postgres counterparts.

type memoryPolicyRepository struct {
	mu   sync.RWMutex
	docs map[string]map[int]domain.PolicyDocument
}

// NewMemoryPolicyRepository builds an in-process policy store.
func NewMemoryPolicyRepository() PolicyRepository {
	return &memoryPolicyRepository{docs: make(map[string]map[int]domain.PolicyDocument)}
}

func (r *memoryPolicyRepository) Create(_ context.Context, doc domain.PolicyDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.docs[doc.ID]
	if !ok {
		versions = make(map[int]domain.PolicyDocument)
		r.docs[doc.ID] = versions
	}
	if _, exists := versions[doc.Version]; exists {
		return nil
	}
	active := doc.Active == nil || *doc.Active
	doc.Active = &active
	versions[doc.Version] = doc
	return nil
}

func (r *memoryPolicyRepository) ListActive(_ context.Context, tenantID string) ([]domain.PolicyDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.PolicyDocument
	for _, versions := range r.docs {
		for _, doc := range versions {
			if doc.Active != nil && !*doc.Active {
				continue
			}
			if doc.TenantID != "" && doc.TenantID != tenantID {
				continue
			}
			result = append(result, doc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		if result[i].ID != result[j].ID {
			return result[i].ID < result[j].ID
		}
		return result[i].Version > result[j].Version
	})
	return result, nil
}

func (r *memoryPolicyRepository) GetVersion(_ context.Context, id string, version int) (domain.PolicyDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id][version]
	if !ok {
		return domain.PolicyDocument{}, apperrors.ErrPolicyNotFound
	}
	return doc, nil
}

func (r *memoryPolicyRepository) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.docs[id]
	if !ok {
		return apperrors.ErrPolicyNotFound
	}
	for v, doc := range versions {
		inactive := false
		doc.Active = &inactive
		versions[v] = doc
	}
	return nil
}

type memoryTimerRepository struct {
	mu     sync.RWMutex
	timers map[domain.TimerKey]*domain.TimerInstance
}

// NewMemoryTimerRepository builds an in-process timer store.
func NewMemoryTimerRepository() TimerRepository {
	return &memoryTimerRepository{timers: make(map[domain.TimerKey]*domain.TimerInstance)}
}

func (r *memoryTimerRepository) Upsert(_ context.Context, inst *domain.TimerInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.timers[inst.Key()]; ok && current.Revision >= inst.Revision {
		return nil
	}
	r.timers[inst.Key()] = inst.Clone()
	return nil
}

func (r *memoryTimerRepository) FindByKey(_ context.Context, caseID string, metric domain.MetricType) (*domain.TimerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.timers[domain.TimerKey{CaseID: caseID, Metric: metric}]
	if !ok {
		return nil, apperrors.ErrTimerNotFound
	}
	return inst.Clone(), nil
}

func (r *memoryTimerRepository) GetByID(_ context.Context, id string) (*domain.TimerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.timers {
		if inst.ID == id {
			return inst.Clone(), nil
		}
	}
	return nil, apperrors.ErrTimerNotFound
}

func (r *memoryTimerRepository) ListByCase(_ context.Context, caseID string) ([]*domain.TimerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.TimerInstance
	for _, metric := range domain.AllMetrics {
		if inst, ok := r.timers[domain.TimerKey{CaseID: caseID, Metric: metric}]; ok {
			result = append(result, inst.Clone())
		}
	}
	return result, nil
}

func (r *memoryTimerRepository) ListNonTerminal(_ context.Context) ([]*domain.TimerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.TimerInstance
	for _, inst := range r.timers {
		if !inst.Status.Terminal() {
			result = append(result, inst.Clone())
		}
	}
	return result, nil
}

type memoryTimerEventRepository struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	events []domain.TimerEvent
}

// NewMemoryTimerEventRepository builds an in-process transition log.
func NewMemoryTimerEventRepository() TimerEventRepository {
	return &memoryTimerEventRepository{seen: make(map[string]struct{})}
}

func (r *memoryTimerEventRepository) Append(_ context.Context, event domain.TimerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[event.ID]; ok {
		return nil
	}
	for _, existing := range r.events {
		if existing.TimerID == event.TimerID && existing.Sequence == event.Sequence {
			return nil
		}
	}
	r.seen[event.ID] = struct{}{}
	r.events = append(r.events, event)
	return nil
}

func (r *memoryTimerEventRepository) ListByTimer(_ context.Context, timerID string) ([]domain.TimerEvent, error) {
	return r.filter(func(e domain.TimerEvent) bool { return e.TimerID == timerID }, func(a, b domain.TimerEvent) bool {
		return a.Sequence < b.Sequence
	}), nil
}

func (r *memoryTimerEventRepository) ListByCase(_ context.Context, caseID string) ([]domain.TimerEvent, error) {
	return r.filter(func(e domain.TimerEvent) bool { return e.CaseID == caseID }, func(a, b domain.TimerEvent) bool {
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.Sequence < b.Sequence
	}), nil
}

func (r *memoryTimerEventRepository) filter(match func(domain.TimerEvent) bool, less func(a, b domain.TimerEvent) bool) []domain.TimerEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.TimerEvent
	for _, e := range r.events {
		if match(e) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

type memoryViolationRepository struct {
	mu         sync.RWMutex
	violations map[string]*domain.ViolationRecord
	byTimer    map[string]string
}

// NewMemoryViolationRepository builds an in-process violation store.
func NewMemoryViolationRepository() ViolationRepository {
	return &memoryViolationRepository{
		violations: make(map[string]*domain.ViolationRecord),
		byTimer:    make(map[string]string),
	}
}

func (r *memoryViolationRepository) Create(_ context.Context, v domain.ViolationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTimer[v.TimerID]; ok {
		return nil
	}
	r.violations[v.ID] = &v
	r.byTimer[v.TimerID] = v.ID
	return nil
}

func (r *memoryViolationRepository) GetByID(_ context.Context, id string) (*domain.ViolationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.violations[id]
	if !ok {
		return nil, apperrors.ErrViolationNotFound
	}
	out := *v
	return &out, nil
}

func (r *memoryViolationRepository) ListByCase(_ context.Context, caseID string) ([]domain.ViolationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.ViolationRecord
	for _, v := range r.violations {
		if v.CaseID == caseID {
			result = append(result, *v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *memoryViolationRepository) Annotate(_ context.Context, id string, ann domain.ViolationAnnotation) (*domain.ViolationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.violations[id]
	if !ok {
		return nil, apperrors.ErrViolationNotFound
	}
	if ann.RootCause != "" {
		v.RootCause = ann.RootCause
	}
	if ann.Notes != "" {
		v.Notes = ann.Notes
	}
	if ann.AcknowledgedBy != "" {
		by := ann.AcknowledgedBy
		v.AcknowledgedBy = &by
		if v.AcknowledgedAt == nil {
			at := ann.AcknowledgedAt
			v.AcknowledgedAt = &at
		}
	}
	if ann.Resolved && v.ResolvedAt == nil {
		at := ann.AcknowledgedAt
		v.ResolvedAt = &at
	}
	out := *v
	return &out, nil
}
