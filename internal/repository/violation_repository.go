package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// ViolationRepository stores violation records.
type ViolationRepository interface {
	Create(ctx context.Context, v domain.ViolationRecord) error
	GetByID(ctx context.Context, id string) (*domain.ViolationRecord, error)
	ListByCase(ctx context.Context, caseID string) ([]domain.ViolationRecord, error)
	Annotate(ctx context.Context, id string, ann domain.ViolationAnnotation) (*domain.ViolationRecord, error)
}

type violationRepository struct {
	pool DBTX
}

// NewViolationRepository builds repository.
func NewViolationRepository(pool *pgxpool.Pool) ViolationRepository {
	return &violationRepository{pool: pool}
}

const violationColumns = `
        id, timer_id, case_id, tenant_id, metric, policy_id, policy_version,
        target_minutes, actual_minutes, violation_minutes, violation_percent, severity, created_at,
        root_cause, notes, acknowledged_by, acknowledged_at, resolved_at`

// Create keeps at most one record per timer; a repeated insert is a no-op.
func (r *violationRepository) Create(ctx context.Context, v domain.ViolationRecord) error {
	const query = `
        INSERT INTO sla_violations (
            id, timer_id, case_id, tenant_id, metric, policy_id, policy_version,
            target_minutes, actual_minutes, violation_minutes, violation_percent, severity, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (timer_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		v.ID,
		v.TimerID,
		v.CaseID,
		v.TenantID,
		string(v.Metric),
		v.PolicyID,
		v.PolicyVersion,
		v.TargetMinutes,
		v.ActualMinutes,
		v.ViolationMinutes,
		v.ViolationPercent,
		string(v.Severity),
		v.CreatedAt,
	)
	return err
}

func (r *violationRepository) GetByID(ctx context.Context, id string) (*domain.ViolationRecord, error) {
	query := `SELECT ` + violationColumns + ` FROM sla_violations WHERE id = $1`
	v, err := scanViolation(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrViolationNotFound
	}
	return v, err
}

func (r *violationRepository) ListByCase(ctx context.Context, caseID string) ([]domain.ViolationRecord, error) {
	query := `SELECT ` + violationColumns + ` FROM sla_violations WHERE case_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ViolationRecord
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}

// Annotate records the external review outcome; it never touches engine-owned columns.
func (r *violationRepository) Annotate(ctx context.Context, id string, ann domain.ViolationAnnotation) (*domain.ViolationRecord, error) {
	query := `
        UPDATE sla_violations SET
            root_cause = COALESCE(NULLIF($2, ''), root_cause),
            notes = COALESCE(NULLIF($3, ''), notes),
            acknowledged_by = COALESCE(NULLIF($4, ''), acknowledged_by),
            acknowledged_at = CASE WHEN $4 <> '' THEN COALESCE(acknowledged_at, $5) ELSE acknowledged_at END,
            resolved_at = CASE WHEN $6 THEN COALESCE(resolved_at, $5) ELSE resolved_at END
        WHERE id = $1
        RETURNING ` + violationColumns
	v, err := scanViolation(r.pool.QueryRow(ctx, query,
		id,
		ann.RootCause,
		ann.Notes,
		ann.AcknowledgedBy,
		ann.AcknowledgedAt,
		ann.Resolved,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrViolationNotFound
	}
	return v, err
}

func scanViolation(row pgx.Row) (*domain.ViolationRecord, error) {
	var (
		v                domain.ViolationRecord
		metric, severity string
	)
	if err := row.Scan(
		&v.ID,
		&v.TimerID,
		&v.CaseID,
		&v.TenantID,
		&metric,
		&v.PolicyID,
		&v.PolicyVersion,
		&v.TargetMinutes,
		&v.ActualMinutes,
		&v.ViolationMinutes,
		&v.ViolationPercent,
		&severity,
		&v.CreatedAt,
		&v.RootCause,
		&v.Notes,
		&v.AcknowledgedBy,
		&v.AcknowledgedAt,
		&v.ResolvedAt,
	); err != nil {
		return nil, err
	}
	v.Metric = domain.MetricType(metric)
	v.Severity = domain.Severity(severity)
	return &v, nil
}
