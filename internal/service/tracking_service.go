package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/timer"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// PolicyCatalog resolves and retires tracking policies.
type PolicyCatalog interface {
	ResolveApplicablePolicies(ctx context.Context, event domain.CaseEvent) ([]domain.TrackingPolicy, error)
	Deactivate(ctx context.Context, id string) error
}

// TrackingService feeds case events into the timer engine and answers timer queries.
type TrackingService struct {
	catalog PolicyCatalog
	manager *timer.Manager
	timers  repository.TimerRepository
	logger  *zap.Logger
}

// NewTrackingService builds the service. timers may be nil when nothing is persisted.
func NewTrackingService(catalog PolicyCatalog, manager *timer.Manager, timers repository.TimerRepository, logger *zap.Logger) *TrackingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingService{catalog: catalog, manager: manager, timers: timers, logger: logger}
}

var validEventTypes = map[domain.CaseEventType]struct{}{
	domain.CaseCreated: {}, domain.CaseAssigned: {}, domain.CaseStatusChanged: {},
	domain.CaseCommented: {}, domain.CaseClosed: {}, domain.CaseDeleted: {},
}

// HandleCaseEvent recomputes every timer of the event's case. Catalog failures surface as
// ErrCatalogUnavailable so the caller can retry the event; per-timer failures are joined.
func (s *TrackingService) HandleCaseEvent(ctx context.Context, event domain.CaseEvent) ([]timer.Outcome, error) {
	if strings.TrimSpace(event.CaseID) == "" {
		return nil, apperrors.NewValidationError("case_id is required", nil)
	}
	if _, ok := validEventTypes[event.Type]; !ok {
		return nil, apperrors.NewValidationError("unsupported event_type", map[string]any{"event_type": event.Type})
	}

	var applicable []domain.TrackingPolicy
	if event.Type != domain.CaseDeleted && event.Type != domain.CaseClosed {
		policies, err := s.catalog.ResolveApplicablePolicies(ctx, event)
		if err != nil {
			return nil, err
		}
		applicable = policies
	}

	outcomes, err := s.manager.ApplyEvent(ctx, event, applicable)
	s.logger.Debug("case event applied",
		zap.String("case_id", event.CaseID),
		zap.String("event_type", string(event.Type)),
		zap.Int("policies", len(applicable)),
		zap.Int("outcomes", len(outcomes)),
		zap.Error(err))
	return outcomes, err
}

// CaseTimers merges live timers with persisted ones evicted from memory.
func (s *TrackingService) CaseTimers(ctx context.Context, caseID string) ([]*domain.TimerInstance, error) {
	live, err := s.manager.CaseTimers(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if s.timers == nil {
		return live, nil
	}
	stored, err := s.timers.ListByCase(ctx, caseID)
	if err != nil {
		return nil, errors.Join(apperrors.ErrPersistence, err)
	}
	seen := make(map[domain.MetricType]bool, len(live))
	for _, inst := range live {
		seen[inst.Metric] = true
	}
	for _, inst := range stored {
		if !seen[inst.Metric] {
			live = append(live, inst)
		}
	}
	return live, nil
}

// CancelCase force-completes the open timers of a case.
func (s *TrackingService) CancelCase(ctx context.Context, caseID, actor string) ([]timer.Outcome, error) {
	return s.manager.CancelCase(ctx, caseID, actor)
}

// DeactivatePolicy retires a policy and cancels the open timers created from it.
func (s *TrackingService) DeactivatePolicy(ctx context.Context, policyID, actor string) ([]timer.Outcome, error) {
	if err := s.catalog.Deactivate(ctx, policyID); err != nil {
		return nil, err
	}
	return s.manager.CancelPolicy(ctx, policyID, actor)
}
