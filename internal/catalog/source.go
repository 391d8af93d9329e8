package catalog

import (
	"context"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// Source is the backing store of policy documents.
// repository.PolicyRepository and FileSource both satisfy it.
type Source interface {
	ListActive(ctx context.Context, tenantID string) ([]domain.PolicyDocument, error)
	GetVersion(ctx context.Context, id string, version int) (domain.PolicyDocument, error)
	Deactivate(ctx context.Context, id string) error
}
