package service

import (
	"context"
	"strings"

	"github.com/spec-kit/sla-engine/internal/clock"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/repository"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// AcknowledgeInput is the external review outcome for a violation.
type AcknowledgeInput struct {
	RootCause string
	Notes     string
	Resolved  bool
}

// ViolationService serves violation queries and the acknowledgement workflow.
type ViolationService struct {
	violations repository.ViolationRepository
	clock      clock.Clock
}

// NewViolationService builds the service.
func NewViolationService(violations repository.ViolationRepository, clk clock.Clock) *ViolationService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &ViolationService{violations: violations, clock: clk}
}

// Get returns one violation.
func (s *ViolationService) Get(ctx context.Context, id string) (*domain.ViolationRecord, error) {
	return s.violations.GetByID(ctx, id)
}

// ListByCase returns the violations of a case.
func (s *ViolationService) ListByCase(ctx context.Context, caseID string) ([]domain.ViolationRecord, error) {
	return s.violations.ListByCase(ctx, caseID)
}

// Acknowledge records who reviewed a violation and what they found.
func (s *ViolationService) Acknowledge(ctx context.Context, id, actor string, in AcknowledgeInput) (*domain.ViolationRecord, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, apperrors.NewValidationError("acknowledging actor is required", nil)
	}
	return s.violations.Annotate(ctx, id, domain.ViolationAnnotation{
		RootCause:      strings.TrimSpace(in.RootCause),
		Notes:          strings.TrimSpace(in.Notes),
		AcknowledgedBy: actor,
		AcknowledgedAt: s.clock.Now(),
		Resolved:       in.Resolved,
	})
}
