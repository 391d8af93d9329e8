package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/repository"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

var eventTime = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func caseEvent(snapshot domain.CaseSnapshot) domain.CaseEvent {
	return domain.CaseEvent{
		ID:        "evt-1",
		CaseID:    "case-1",
		Type:      domain.CaseCreated,
		Timestamp: eventTime,
		Snapshot:  snapshot,
	}
}

func TestFileSourceLoadsPolicies(t *testing.T) {
	src, err := NewFileSource("testdata/policies")
	require.NoError(t, err)

	doc, err := src.GetVersion(context.Background(), "standard", 2)
	require.NoError(t, err)
	policy, err := doc.ToPolicy()
	require.NoError(t, err)

	assert.Equal(t, int64(60), policy.Targets[domain.MetricResponse])
	assert.Equal(t, int64(480), policy.Targets[domain.MetricResolution])
	assert.True(t, policy.Calendar.BusinessHoursOnly)
	assert.Equal(t, "Europe/Berlin", policy.Calendar.Timezone)
	assert.Len(t, policy.Calendar.WorkingDays, 5)
	assert.Equal(t, "09:00", policy.Calendar.WorkingHours.Start.String())
	assert.NotNil(t, policy.PauseRule)
	require.Len(t, policy.Escalation.Actions, 1)
	assert.Equal(t, "email", policy.Escalation.Actions[0].Payload["channel"])

	_, err = src.GetVersion(context.Background(), "standard", 9)
	assert.ErrorIs(t, err, apperrors.ErrPolicyNotFound)
}

func TestResolveApplicablePoliciesFiltersAndOrders(t *testing.T) {
	src, err := NewFileSource("testdata/policies")
	require.NoError(t, err)
	svc := NewService(src, nil, nil, Settings{}, nil)

	policies, err := svc.ResolveApplicablePolicies(context.Background(), caseEvent(domain.CaseSnapshot{"priority": "normal"}))
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "standard", policies[0].ID)

	policies, err = svc.ResolveApplicablePolicies(context.Background(), caseEvent(domain.CaseSnapshot{
		"priority":      "urgent",
		"customer_tier": "VIP",
	}))
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "vip", policies[0].ID)

	policies, err = svc.ResolveApplicablePolicies(context.Background(), caseEvent(domain.CaseSnapshot{"priority": "urgent"}))
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestResolveApplicablePoliciesHonoursValidityWindowAndPriority(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryPolicyRepository()
	until := eventTime.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{
		ID: "expired", Version: 1, Priority: 100,
		Targets:        map[string]int64{"response": 10},
		EffectiveFrom:  eventTime.Add(-48 * time.Hour),
		EffectiveUntil: &until,
	}))
	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{
		ID: "low", Version: 1, Priority: 1,
		Targets:       map[string]int64{"response": 30},
		EffectiveFrom: eventTime.Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{
		ID: "high", Version: 1, Priority: 5,
		Targets:       map[string]int64{"response": 20},
		EffectiveFrom: eventTime.Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{
		ID: "future", Version: 1, Priority: 50,
		Targets:       map[string]int64{"response": 20},
		EffectiveFrom: eventTime.Add(time.Hour),
	}))

	svc := NewService(repo, nil, nil, Settings{}, nil)
	policies, err := svc.ResolveApplicablePolicies(ctx, caseEvent(domain.CaseSnapshot{}))
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "high", policies[0].ID)
	assert.Equal(t, "low", policies[1].ID)
}

func TestActivePoliciesSkipsInvalidDocuments(t *testing.T) {
	src, err := NewFileSource("testdata/policies")
	require.NoError(t, err)
	svc := NewService(src, nil, nil, Settings{}, nil)

	policies, err := svc.ActivePolicies(context.Background(), "")
	require.NoError(t, err)
	for _, p := range policies {
		assert.NotEqual(t, "broken", p.ID)
	}
	assert.Len(t, policies, 2)
}

type failingSource struct {
	calls int
}

func (f *failingSource) ListActive(context.Context, string) ([]domain.PolicyDocument, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func (f *failingSource) GetVersion(context.Context, string, int) (domain.PolicyDocument, error) {
	f.calls++
	return domain.PolicyDocument{}, apperrors.ErrPolicyNotFound
}

func (f *failingSource) Deactivate(context.Context, string) error {
	return errors.New("connection refused")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	src := &failingSource{}
	svc := NewService(src, nil, nil, Settings{BreakerFailures: 2, BreakerTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.ActivePolicies(ctx, "")
		assert.ErrorIs(t, err, apperrors.ErrCatalogUnavailable)
	}
	assert.False(t, svc.Ready())

	_, err := svc.ActivePolicies(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrCatalogUnavailable)
	assert.Equal(t, 2, src.calls)
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	src := &failingSource{}
	svc := NewService(src, nil, nil, Settings{BreakerFailures: 1, BreakerTimeout: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.PolicyVersion(context.Background(), "gone", 1)
		assert.ErrorIs(t, err, apperrors.ErrPolicyNotFound)
	}
	assert.True(t, svc.Ready())
}

func TestRedisCacheServesAndInvalidates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(client, "test:", time.Minute)

	ctx := context.Background()
	repo := repository.NewMemoryPolicyRepository()
	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{
		ID: "p1", Version: 1,
		Targets:       map[string]int64{"response": 30},
		EffectiveFrom: eventTime.Add(-time.Hour),
	}))
	svc := NewService(repo, cache, nil, Settings{}, nil)

	policies, err := svc.ActivePolicies(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.True(t, mr.Exists("test:active:acme"))

	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{
		ID: "p2", Version: 1,
		Targets:       map[string]int64{"response": 30},
		EffectiveFrom: eventTime.Add(-time.Hour),
	}))
	policies, err = svc.ActivePolicies(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, policies, 1, "served from cache")

	require.NoError(t, svc.Deactivate(ctx, "p1"))
	assert.False(t, mr.Exists("test:active:acme"))

	policies, err = svc.ActivePolicies(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "p2", policies[0].ID)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("test:active:acme"))
}

func TestPolicyVersionRoundTripsThroughCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	src, err := NewFileSource("testdata/policies")
	require.NoError(t, err)
	svc := NewService(src, NewRedisCache(client, "", time.Minute), nil, Settings{}, nil)

	first, err := svc.PolicyVersion(context.Background(), "vip", 1)
	require.NoError(t, err)
	second, err := svc.PolicyVersion(context.Background(), "vip", 1)
	require.NoError(t, err)

	assert.True(t, mr.Exists("sla:policies:version:vip:1"))
	assert.Equal(t, first.Targets, second.Targets)
	assert.True(t, svc.evaluator.Evaluate(second.ApplicationRule, map[string]any{"priority": "urgent", "customer_tier": "vip"}))
}
