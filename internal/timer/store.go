package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// Repository is the durable side of the instance store.
type Repository interface {
	FindByKey(ctx context.Context, caseID string, metric domain.MetricType) (*domain.TimerInstance, error)
	ListNonTerminal(ctx context.Context) ([]*domain.TimerInstance, error)
}

type storeEntry struct {
	inst       *domain.TimerInstance
	status     domain.TimerStatus
	policyID   string
	terminalAt time.Time
}

// Store holds live instances in memory and reads through to the repository on a miss.
// Instance contents are only touched under the key lock; the store lock guards the index.
type Store struct {
	mu      sync.RWMutex
	entries map[domain.TimerKey]*storeEntry
	repo    Repository
}

// NewStore creates a Store; repo may be nil.
func NewStore(repo Repository) *Store {
	return &Store{
		entries: make(map[domain.TimerKey]*storeEntry),
		repo:    repo,
	}
}

// Get returns the instance for key, or ErrTimerNotFound.
func (s *Store) Get(ctx context.Context, key domain.TimerKey) (*domain.TimerInstance, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return entry.inst, nil
	}
	if s.repo == nil {
		return nil, apperrors.ErrTimerNotFound
	}

	inst, err := s.repo.FindByKey(ctx, key.CaseID, key.Metric)
	if err != nil {
		if errors.Is(err, apperrors.ErrTimerNotFound) {
			return nil, apperrors.ErrTimerNotFound
		}
		return nil, fmt.Errorf("%w: load timer %s: %v", apperrors.ErrPersistence, key, err)
	}
	s.Put(inst)
	return inst, nil
}

// Put indexes inst; call it after every mutation.
func (s *Store) Put(inst *domain.TimerInstance) {
	entry := &storeEntry{inst: inst, status: inst.Status, policyID: inst.PolicyID}
	if inst.Status.Terminal() {
		entry.terminalAt = inst.UpdatedAt
	}
	s.mu.Lock()
	s.entries[inst.Key()] = entry
	s.mu.Unlock()
}

// Keys returns keys whose indexed status and policy satisfy match.
func (s *Store) Keys(match func(status domain.TimerStatus, policyID string) bool) []domain.TimerKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.TimerKey, 0, len(s.entries))
	for key, entry := range s.entries {
		if match == nil || match(entry.status, entry.policyID) {
			keys = append(keys, key)
		}
	}
	return keys
}

// CaseKeys returns the in-memory keys of one case in metric order.
func (s *Store) CaseKeys(caseID string) []domain.TimerKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []domain.TimerKey
	for _, metric := range domain.AllMetrics {
		key := domain.TimerKey{CaseID: caseID, Metric: metric}
		if _, ok := s.entries[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Warm loads every non-terminal instance from the repository.
func (s *Store) Warm(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	list, err := s.repo.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: warm timers: %v", apperrors.ErrPersistence, err)
	}
	for _, inst := range list {
		s.Put(inst)
	}
	return len(list), nil
}

// Evict drops terminal instances that finished before cutoff; they remain in the repository.
func (s *Store) Evict(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if entry.status.Terminal() && entry.terminalAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of indexed instances.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
