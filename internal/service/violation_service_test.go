package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/clock"
	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/repository"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

func TestAcknowledgeViolation(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryViolationRepository()
	require.NoError(t, repo.Create(ctx, domain.ViolationRecord{
		ID: "v1", TimerID: "t1", CaseID: "case-1", Metric: domain.MetricResponse,
		TargetMinutes: 30, ActualMinutes: 45, ViolationMinutes: 15, ViolationPercent: 50,
		Severity: domain.SeverityMedium, CreatedAt: start,
	}))
	clk := clock.NewFake(start.Add(2 * time.Hour))
	svc := NewViolationService(repo, clk)

	_, err := svc.Acknowledge(ctx, "v1", " ", AcknowledgeInput{})
	require.Error(t, err)

	got, err := svc.Acknowledge(ctx, "v1", "lead-1", AcknowledgeInput{RootCause: " staffing ", Notes: "weekend gap", Resolved: true})
	require.NoError(t, err)
	assert.Equal(t, "staffing", got.RootCause)
	require.NotNil(t, got.AcknowledgedBy)
	assert.Equal(t, "lead-1", *got.AcknowledgedBy)
	require.NotNil(t, got.AcknowledgedAt)
	assert.True(t, got.AcknowledgedAt.Equal(clk.Now()))
	assert.NotNil(t, got.ResolvedAt)

	list, err := svc.ListByCase(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.Get(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrViolationNotFound))
}

func TestIssueToken(t *testing.T) {
	hash, err := auth.HashSecret("s3cret", 4)
	require.NoError(t, err)
	svc := NewAuthService(config.Config{Auth: config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 15,
		Clients:               []config.AuthClient{{ID: "helpdesk", SecretHash: hash, Role: "ingest"}},
	}})
	ctx := context.Background()

	token, exp, role, err := svc.IssueToken(ctx, "helpdesk", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleIngest, role)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, time.Minute)

	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "helpdesk", claims.ClientID)

	_, _, _, err = svc.IssueToken(ctx, "helpdesk", "wrong")
	assert.Equal(t, "UNAUTHORIZED", apperrors.ToDomainError(err).Code)
	_, _, _, err = svc.IssueToken(ctx, "nobody", "s3cret")
	assert.Equal(t, "UNAUTHORIZED", apperrors.ToDomainError(err).Code)
}
