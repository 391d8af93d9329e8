package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// TimerEventRepository stores the append-only transition log.
type TimerEventRepository interface {
	Append(ctx context.Context, event domain.TimerEvent) error
	ListByTimer(ctx context.Context, timerID string) ([]domain.TimerEvent, error)
	ListByCase(ctx context.Context, caseID string) ([]domain.TimerEvent, error)
}

type timerEventRepository struct {
	pool DBTX
}

// NewTimerEventRepository builds repository.
func NewTimerEventRepository(pool *pgxpool.Pool) TimerEventRepository {
	return &timerEventRepository{pool: pool}
}

// Append ignores events already stored under the same id or timer sequence.
func (r *timerEventRepository) Append(ctx context.Context, event domain.TimerEvent) error {
	const query = `
        INSERT INTO sla_timer_events (
            id, timer_id, case_id, metric, sequence, event_type, previous_status, new_status,
            elapsed_minutes, remaining_minutes, escalation_level, reason, actor, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.TimerID,
		event.CaseID,
		string(event.Metric),
		event.Sequence,
		string(event.Type),
		string(event.PreviousStatus),
		string(event.NewStatus),
		event.ElapsedMinutes,
		event.RemainingMinutes,
		event.EscalationLevel,
		string(event.Reason),
		event.Actor,
		event.OccurredAt,
	)
	return err
}

func (r *timerEventRepository) ListByTimer(ctx context.Context, timerID string) ([]domain.TimerEvent, error) {
	const query = `
        SELECT id, timer_id, case_id, metric, sequence, event_type, previous_status, new_status,
               elapsed_minutes, remaining_minutes, escalation_level, reason, actor, occurred_at
        FROM sla_timer_events WHERE timer_id = $1 ORDER BY sequence ASC`
	return r.list(ctx, query, timerID)
}

func (r *timerEventRepository) ListByCase(ctx context.Context, caseID string) ([]domain.TimerEvent, error) {
	const query = `
        SELECT id, timer_id, case_id, metric, sequence, event_type, previous_status, new_status,
               elapsed_minutes, remaining_minutes, escalation_level, reason, actor, occurred_at
        FROM sla_timer_events WHERE case_id = $1 ORDER BY occurred_at ASC, sequence ASC`
	return r.list(ctx, query, caseID)
}

func (r *timerEventRepository) list(ctx context.Context, query string, args ...any) ([]domain.TimerEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TimerEvent
	for rows.Next() {
		var (
			event                             domain.TimerEvent
			metric, typ, prev, next, reason string
		)
		if err := rows.Scan(
			&event.ID,
			&event.TimerID,
			&event.CaseID,
			&metric,
			&event.Sequence,
			&typ,
			&prev,
			&next,
			&event.ElapsedMinutes,
			&event.RemainingMinutes,
			&event.EscalationLevel,
			&reason,
			&event.Actor,
			&event.OccurredAt,
		); err != nil {
			return nil, err
		}
		event.Metric = domain.MetricType(metric)
		event.Type = domain.TimerEventType(typ)
		event.PreviousStatus = domain.TimerStatus(prev)
		event.NewStatus = domain.TimerStatus(next)
		event.Reason = domain.TransitionReason(reason)
		result = append(result, event)
	}
	return result, rows.Err()
}
