package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

func TestMemoryTimerRepositoryIgnoresStaleRevisions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTimerRepository()

	newer := &domain.TimerInstance{ID: "t1", CaseID: "c1", Metric: domain.MetricResponse, Status: domain.TimerPaused, Revision: 3}
	older := &domain.TimerInstance{ID: "t1", CaseID: "c1", Metric: domain.MetricResponse, Status: domain.TimerRunning, Revision: 2}

	require.NoError(t, repo.Upsert(ctx, newer))
	require.NoError(t, repo.Upsert(ctx, older))

	got, err := repo.FindByKey(ctx, "c1", domain.MetricResponse)
	require.NoError(t, err)
	assert.Equal(t, domain.TimerPaused, got.Status)
	assert.Equal(t, int64(3), got.Revision)

	_, err = repo.FindByKey(ctx, "c1", domain.MetricIdle)
	assert.ErrorIs(t, err, apperrors.ErrTimerNotFound)
}

func TestMemoryTimerRepositoryListNonTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTimerRepository()
	require.NoError(t, repo.Upsert(ctx, &domain.TimerInstance{ID: "a", CaseID: "c1", Metric: domain.MetricResponse, Status: domain.TimerRunning, Revision: 1}))
	require.NoError(t, repo.Upsert(ctx, &domain.TimerInstance{ID: "b", CaseID: "c1", Metric: domain.MetricResolution, Status: domain.TimerCompleted, Revision: 1}))
	require.NoError(t, repo.Upsert(ctx, &domain.TimerInstance{ID: "c", CaseID: "c2", Metric: domain.MetricIdle, Status: domain.TimerPaused, Revision: 1}))

	open, err := repo.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	byCase, err := repo.ListByCase(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, byCase, 2)
	assert.Equal(t, domain.MetricResponse, byCase[0].Metric)

	byID, err := repo.GetByID(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "c2", byID.CaseID)
}

func TestMemoryTimerEventRepositoryDeduplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTimerEventRepository()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, domain.TimerEvent{ID: "e2", TimerID: "t1", CaseID: "c1", Sequence: 2, OccurredAt: base.Add(time.Minute)}))
	require.NoError(t, repo.Append(ctx, domain.TimerEvent{ID: "e1", TimerID: "t1", CaseID: "c1", Sequence: 1, OccurredAt: base}))
	require.NoError(t, repo.Append(ctx, domain.TimerEvent{ID: "e1", TimerID: "t1", CaseID: "c1", Sequence: 1, OccurredAt: base}))
	require.NoError(t, repo.Append(ctx, domain.TimerEvent{ID: "e3", TimerID: "t1", CaseID: "c1", Sequence: 2, OccurredAt: base}))

	events, err := repo.ListByTimer(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)

	byCase, err := repo.ListByCase(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, byCase, 2)
}

func TestMemoryViolationRepositoryOnePerTimer(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryViolationRepository()
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, domain.ViolationRecord{ID: "v1", TimerID: "t1", CaseID: "c1", CreatedAt: at}))
	require.NoError(t, repo.Create(ctx, domain.ViolationRecord{ID: "v2", TimerID: "t1", CaseID: "c1", CreatedAt: at}))

	list, err := repo.ListByCase(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "v1", list[0].ID)

	annotated, err := repo.Annotate(ctx, "v1", domain.ViolationAnnotation{
		RootCause:      "staffing",
		AcknowledgedBy: "lead-1",
		AcknowledgedAt: at.Add(time.Hour),
		Resolved:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "staffing", annotated.RootCause)
	require.NotNil(t, annotated.AcknowledgedBy)
	assert.Equal(t, "lead-1", *annotated.AcknowledgedBy)
	require.NotNil(t, annotated.ResolvedAt)

	_, err = repo.Annotate(ctx, "missing", domain.ViolationAnnotation{})
	assert.ErrorIs(t, err, apperrors.ErrViolationNotFound)
}

func TestMemoryPolicyRepositoryFiltersTenantAndActive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPolicyRepository()
	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{ID: "global", Version: 1, Priority: 1}))
	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{ID: "acme", Version: 1, TenantID: "acme", Priority: 5}))
	require.NoError(t, repo.Create(ctx, domain.PolicyDocument{ID: "other", Version: 1, TenantID: "other", Priority: 9}))

	docs, err := repo.ListActive(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "acme", docs[0].ID)
	assert.Equal(t, "global", docs[1].ID)

	require.NoError(t, repo.Deactivate(ctx, "acme"))
	docs, err = repo.ListActive(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = repo.GetVersion(ctx, "acme", 2)
	assert.ErrorIs(t, err, apperrors.ErrPolicyNotFound)
	assert.ErrorIs(t, repo.Deactivate(ctx, "missing"), apperrors.ErrPolicyNotFound)
}
