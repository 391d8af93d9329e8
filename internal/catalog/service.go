package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/rules"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// Settings tunes the circuit breaker around the source.
type Settings struct {
	BreakerTimeout  time.Duration
	BreakerFailures int
}

// Service answers which tracking policies apply to a case.
type Service struct {
	source    Source
	cache     Cache
	breaker   *gobreaker.CircuitBreaker
	evaluator *rules.Evaluator
	logger    *zap.Logger
}

// NewService builds the catalog. cache may be nil.
func NewService(source Source, cache Cache, evaluator *rules.Evaluator, settings Settings, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if evaluator == nil {
		evaluator = rules.NewEvaluator(logger)
	}
	failures := settings.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	s := &Service{
		source:    source,
		cache:     cache,
		evaluator: evaluator,
		logger:    logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "policy-catalog",
		MaxRequests: 1,
		Timeout:     settings.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperrors.ErrPolicyNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("policy catalog breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return s
}

// ResolveApplicablePolicies returns the active policies whose validity window contains the
// event and whose application rule matches its snapshot, highest priority first.
// A policy without an application rule applies to every case.
func (s *Service) ResolveApplicablePolicies(ctx context.Context, event domain.CaseEvent) ([]domain.TrackingPolicy, error) {
	policies, err := s.ActivePolicies(ctx, event.TenantID)
	if err != nil {
		return nil, err
	}
	at := event.Timestamp
	var result []domain.TrackingPolicy
	for _, p := range policies {
		if !p.Active || !p.InValidityWindow(at) {
			continue
		}
		if p.ApplicationRule != nil && !s.evaluator.Evaluate(p.ApplicationRule, event.Snapshot) {
			continue
		}
		result = append(result, p)
	}
	sort.SliceStable(result, func(i, j int) bool {
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

// ActivePolicies lists the valid active policies visible to tenantID.
// Documents that fail validation are skipped and logged.
func (s *Service) ActivePolicies(ctx context.Context, tenantID string) ([]domain.TrackingPolicy, error) {
	key := activeKey(tenantID)
	var docs []domain.PolicyDocument
	hit, err := s.cacheGet(ctx, key, &docs)
	if !hit || err != nil {
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.source.ListActive(ctx, tenantID)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)
		}
		docs = res.([]domain.PolicyDocument)
		s.cacheSet(ctx, key, docs)
	}

	policies := make([]domain.TrackingPolicy, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.ToPolicy()
		if err != nil {
			s.logger.Warn("invalid policy skipped", zap.String("policy_id", doc.ID), zap.Int("version", doc.Version), zap.Error(err))
			continue
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// PolicyVersion loads one exact version, active or not.
func (s *Service) PolicyVersion(ctx context.Context, id string, version int) (domain.TrackingPolicy, error) {
	key := versionKey(id, version)
	var doc domain.PolicyDocument
	hit, err := s.cacheGet(ctx, key, &doc)
	if !hit || err != nil {
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.source.GetVersion(ctx, id, version)
		})
		switch {
		case errors.Is(err, apperrors.ErrPolicyNotFound):
			return domain.TrackingPolicy{}, err
		case err != nil:
			return domain.TrackingPolicy{}, fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)
		}
		doc = res.(domain.PolicyDocument)
		s.cacheSet(ctx, key, doc)
	}
	return doc.ToPolicy()
}

// Deactivate marks every version of a policy inactive and drops cached listings.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.source.Deactivate(ctx, id)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrPolicyNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidatePrefix(ctx, "active:"); err != nil {
			s.logger.Warn("policy cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}

// Ready reports whether the breaker currently lets source calls through.
func (s *Service) Ready() bool {
	return s.breaker.State() != gobreaker.StateOpen
}

func (s *Service) cacheGet(ctx context.Context, key string, dst any) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	hit, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Debug("policy cache read failed", zap.String("key", key), zap.Error(err))
	}
	return hit, err
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.logger.Debug("policy cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func activeKey(tenantID string) string {
	return "active:" + tenantID
}

func versionKey(id string, version int) string {
	return "version:" + id + ":" + strconv.Itoa(version)
}
