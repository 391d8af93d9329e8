package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// PolicyRepository persists versioned tracking policy documents.
type PolicyRepository interface {
	Create(ctx context.Context, doc domain.PolicyDocument) error
	ListActive(ctx context.Context, tenantID string) ([]domain.PolicyDocument, error)
	GetVersion(ctx context.Context, id string, version int) (domain.PolicyDocument, error)
	Deactivate(ctx context.Context, id string) error
}

type policyRepository struct {
	pool DBTX
}

// NewPolicyRepository builds repository.
func NewPolicyRepository(pool *pgxpool.Pool) PolicyRepository {
	return &policyRepository{pool: pool}
}

func (r *policyRepository) Create(ctx context.Context, doc domain.PolicyDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode policy %s: %w", doc.ID, err)
	}
	active := doc.Active == nil || *doc.Active
	const query = `
        INSERT INTO tracking_policies (id, version, tenant_id, name, priority, active, document, effective_from, effective_until)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id, version) DO NOTHING`
	_, err = r.pool.Exec(ctx, query,
		doc.ID,
		doc.Version,
		doc.TenantID,
		doc.Name,
		doc.Priority,
		active,
		body,
		doc.EffectiveFrom,
		doc.EffectiveUntil,
	)
	return err
}

func (r *policyRepository) ListActive(ctx context.Context, tenantID string) ([]domain.PolicyDocument, error) {
	const query = `
        SELECT document, active, created_at
        FROM tracking_policies
        WHERE active AND (tenant_id = $1 OR tenant_id = '')
        ORDER BY priority DESC, id ASC, version DESC`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PolicyDocument
	for rows.Next() {
		doc, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

func (r *policyRepository) GetVersion(ctx context.Context, id string, version int) (domain.PolicyDocument, error) {
	const query = `
        SELECT document, active, created_at
        FROM tracking_policies
        WHERE id = $1 AND version = $2`
	doc, err := scanPolicy(r.pool.QueryRow(ctx, query, id, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PolicyDocument{}, apperrors.ErrPolicyNotFound
	}
	return doc, err
}

func (r *policyRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE tracking_policies SET active = FALSE WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.ErrPolicyNotFound
	}
	return nil
}

func scanPolicy(row pgx.Row) (domain.PolicyDocument, error) {
	var (
		body   []byte
		active bool
		doc    domain.PolicyDocument
	)
	if err := row.Scan(&body, &active, &doc.CreatedAt); err != nil {
		return domain.PolicyDocument{}, err
	}
	createdAt := doc.CreatedAt
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.PolicyDocument{}, fmt.Errorf("decode policy document: %w", err)
	}
	doc.Active = &active
	doc.CreatedAt = createdAt
	return doc, nil
}
