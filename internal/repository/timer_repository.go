package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// TimerRepository stores the latest snapshot of every timer instance.
type TimerRepository interface {
	Upsert(ctx context.Context, inst *domain.TimerInstance) error
	FindByKey(ctx context.Context, caseID string, metric domain.MetricType) (*domain.TimerInstance, error)
	GetByID(ctx context.Context, id string) (*domain.TimerInstance, error)
	ListByCase(ctx context.Context, caseID string) ([]*domain.TimerInstance, error)
	ListNonTerminal(ctx context.Context) ([]*domain.TimerInstance, error)
}

type timerRepository struct {
	pool DBTX
}

// NewTimerRepository builds repository.
func NewTimerRepository(pool *pgxpool.Pool) TimerRepository {
	return &timerRepository{pool: pool}
}

const timerColumns = `
        id, case_id, tenant_id, metric, policy_id, policy_version, status,
        started_at, paused_at, resumed_at, completed_at, violated_at,
        elapsed_ns, accrued_until, paused_ns, target_minutes,
        breached, escalation_level, due_at,
        last_activity_at, last_agent_activity_at, last_customer_activity_at,
        completion_reason, violation_id, sequence, revision, updated_at`

// Upsert writes inst unless a newer revision is already stored.
func (r *timerRepository) Upsert(ctx context.Context, inst *domain.TimerInstance) error {
	const query = `
        INSERT INTO sla_timers (
            id, case_id, tenant_id, metric, policy_id, policy_version, status,
            started_at, paused_at, resumed_at, completed_at, violated_at,
            elapsed_ns, elapsed_minutes, accrued_until, paused_ns, paused_minutes, target_minutes, remaining_minutes,
            breached, breach_percent, escalation_level, due_at,
            last_activity_at, last_agent_activity_at, last_customer_activity_at,
            completion_reason, violation_id, sequence, revision, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
        ON CONFLICT (case_id, metric) DO UPDATE SET
            status = EXCLUDED.status,
            paused_at = EXCLUDED.paused_at,
            resumed_at = EXCLUDED.resumed_at,
            completed_at = EXCLUDED.completed_at,
            violated_at = EXCLUDED.violated_at,
            elapsed_ns = EXCLUDED.elapsed_ns,
            elapsed_minutes = EXCLUDED.elapsed_minutes,
            accrued_until = EXCLUDED.accrued_until,
            paused_ns = EXCLUDED.paused_ns,
            paused_minutes = EXCLUDED.paused_minutes,
            remaining_minutes = EXCLUDED.remaining_minutes,
            breached = EXCLUDED.breached,
            breach_percent = EXCLUDED.breach_percent,
            escalation_level = EXCLUDED.escalation_level,
            due_at = EXCLUDED.due_at,
            last_activity_at = EXCLUDED.last_activity_at,
            last_agent_activity_at = EXCLUDED.last_agent_activity_at,
            last_customer_activity_at = EXCLUDED.last_customer_activity_at,
            completion_reason = EXCLUDED.completion_reason,
            violation_id = EXCLUDED.violation_id,
            sequence = EXCLUDED.sequence,
            revision = EXCLUDED.revision,
            updated_at = EXCLUDED.updated_at
        WHERE sla_timers.revision < EXCLUDED.revision`
	_, err := r.pool.Exec(ctx, query,
		inst.ID,
		inst.CaseID,
		inst.TenantID,
		string(inst.Metric),
		inst.PolicyID,
		inst.PolicyVersion,
		string(inst.Status),
		inst.StartedAt,
		inst.PausedAt,
		inst.ResumedAt,
		inst.CompletedAt,
		inst.ViolatedAt,
		int64(inst.Elapsed),
		inst.ElapsedMinutes,
		inst.AccruedUntil,
		int64(inst.Paused),
		inst.PausedMinutes,
		inst.TargetMinutes,
		inst.RemainingMinutes,
		inst.Breached,
		inst.BreachPercent,
		inst.EscalationLevel,
		inst.DueAt,
		inst.LastActivityAt,
		inst.LastAgentActivityAt,
		inst.LastCustomerActivityAt,
		string(inst.CompletionReason),
		inst.ViolationID,
		inst.Sequence,
		inst.Revision,
		inst.UpdatedAt,
	)
	return err
}

func (r *timerRepository) FindByKey(ctx context.Context, caseID string, metric domain.MetricType) (*domain.TimerInstance, error) {
	query := `SELECT ` + timerColumns + ` FROM sla_timers WHERE case_id = $1 AND metric = $2`
	inst, err := scanTimer(r.pool.QueryRow(ctx, query, caseID, string(metric)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrTimerNotFound
	}
	return inst, err
}

func (r *timerRepository) GetByID(ctx context.Context, id string) (*domain.TimerInstance, error) {
	query := `SELECT ` + timerColumns + ` FROM sla_timers WHERE id = $1`
	inst, err := scanTimer(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrTimerNotFound
	}
	return inst, err
}

func (r *timerRepository) ListByCase(ctx context.Context, caseID string) ([]*domain.TimerInstance, error) {
	query := `SELECT ` + timerColumns + ` FROM sla_timers WHERE case_id = $1 ORDER BY started_at ASC`
	return r.list(ctx, query, caseID)
}

func (r *timerRepository) ListNonTerminal(ctx context.Context) ([]*domain.TimerInstance, error) {
	query := `SELECT ` + timerColumns + ` FROM sla_timers WHERE status IN ('running', 'paused')`
	return r.list(ctx, query)
}

func (r *timerRepository) list(ctx context.Context, query string, args ...any) ([]*domain.TimerInstance, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.TimerInstance
	for rows.Next() {
		inst, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func scanTimer(row pgx.Row) (*domain.TimerInstance, error) {
	var (
		inst             domain.TimerInstance
		metric, status   string
		completionReason string
		elapsedNS        int64
		pausedNS         int64
		updatedAt        time.Time
	)
	if err := row.Scan(
		&inst.ID,
		&inst.CaseID,
		&inst.TenantID,
		&metric,
		&inst.PolicyID,
		&inst.PolicyVersion,
		&status,
		&inst.StartedAt,
		&inst.PausedAt,
		&inst.ResumedAt,
		&inst.CompletedAt,
		&inst.ViolatedAt,
		&elapsedNS,
		&inst.AccruedUntil,
		&pausedNS,
		&inst.TargetMinutes,
		&inst.Breached,
		&inst.EscalationLevel,
		&inst.DueAt,
		&inst.LastActivityAt,
		&inst.LastAgentActivityAt,
		&inst.LastCustomerActivityAt,
		&completionReason,
		&inst.ViolationID,
		&inst.Sequence,
		&inst.Revision,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	inst.Metric = domain.MetricType(metric)
	inst.Status = domain.TimerStatus(status)
	inst.CompletionReason = domain.TransitionReason(completionReason)
	inst.Elapsed = time.Duration(elapsedNS)
	inst.Paused = time.Duration(pausedNS)
	inst.UpdatedAt = updatedAt
	inst.SyncCounters()
	return &inst, nil
}
