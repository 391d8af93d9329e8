package repository

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

type statement struct {
	sql  string
	args []any
}

// recordingDB captures statements and answers every row lookup with rowErr.
type recordingDB struct {
	statements []statement
	rowErr     error
}

func (d *recordingDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.statements = append(d.statements, statement{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *recordingDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.statements = append(d.statements, statement{sql: sql, args: args})
	return nil, errors.New("query not supported")
}

func (d *recordingDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.statements = append(d.statements, statement{sql: sql, args: args})
	return errRow{err: d.rowErr}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

var placeholder = regexp.MustCompile(`\$(\d+)`)

func highestPlaceholder(sql string) int {
	highest := 0
	for _, m := range placeholder.FindAllStringSubmatch(sql, -1) {
		if n, _ := strconv.Atoi(m[1]); n > highest {
			highest = n
		}
	}
	return highest
}

func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func TestTimerUpsertOnlyOverwritesOlderRevisions(t *testing.T) {
	db := &recordingDB{}
	repo := &timerRepository{pool: db}
	inst := &domain.TimerInstance{
		ID:            "timer-1",
		CaseID:        "case-1",
		Metric:        domain.MetricResolution,
		Status:        domain.TimerRunning,
		StartedAt:     time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		Elapsed:       61 * time.Second,
		Paused:        3 * time.Minute,
		TargetMinutes: 60,
		Revision:      4,
	}
	inst.SyncCounters()

	require.NoError(t, repo.Upsert(context.Background(), inst))
	require.Len(t, db.statements, 1)

	stmt := db.statements[0]
	sql := normalizeSQL(stmt.sql)
	assert.Contains(t, sql, "ON CONFLICT (case_id, metric) DO UPDATE SET")
	assert.Contains(t, sql, "WHERE sla_timers.revision < EXCLUDED.revision")
	assert.Contains(t, sql, "paused_ns = EXCLUDED.paused_ns")
	assert.Len(t, stmt.args, highestPlaceholder(sql), "every placeholder is bound")

	assert.Equal(t, int64(61*time.Second), stmt.args[12], "elapsed_ns")
	assert.Equal(t, int64(1), stmt.args[13], "elapsed_minutes")
	assert.Equal(t, int64(3*time.Minute), stmt.args[15], "paused_ns")
	assert.Equal(t, int64(3), stmt.args[16], "paused_minutes")
	assert.Equal(t, int64(4), stmt.args[29], "revision")
}

func TestTimerLookupsMapMissingRows(t *testing.T) {
	db := &recordingDB{rowErr: pgx.ErrNoRows}
	repo := &timerRepository{pool: db}

	_, err := repo.FindByKey(context.Background(), "case-1", domain.MetricIdle)
	assert.ErrorIs(t, err, apperrors.ErrTimerNotFound)
	require.Len(t, db.statements, 1)
	assert.Equal(t, []any{"case-1", string(domain.MetricIdle)}, db.statements[0].args)
	assert.Contains(t, db.statements[0].sql, "paused_ns")

	_, err = repo.GetByID(context.Background(), "timer-9")
	assert.ErrorIs(t, err, apperrors.ErrTimerNotFound)

	db.rowErr = errors.New("connection reset")
	_, err = repo.GetByID(context.Background(), "timer-9")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrTimerNotFound)
}

func TestViolationCreateKeepsOneRecordPerTimer(t *testing.T) {
	db := &recordingDB{}
	repo := &violationRepository{pool: db}
	v := domain.ViolationRecord{
		ID:            "v-1",
		TimerID:       "timer-1",
		CaseID:        "case-1",
		Metric:        domain.MetricResolution,
		TargetMinutes: 60,
		ActualMinutes: 75,
		Severity:      domain.SeverityMedium,
	}

	require.NoError(t, repo.Create(context.Background(), v))
	require.Len(t, db.statements, 1)

	sql := normalizeSQL(db.statements[0].sql)
	assert.Contains(t, sql, "ON CONFLICT (timer_id) DO NOTHING")
	assert.Len(t, db.statements[0].args, highestPlaceholder(sql))
	assert.Equal(t, "timer-1", db.statements[0].args[1])
}

func TestViolationAnnotateMapsMissingRows(t *testing.T) {
	db := &recordingDB{rowErr: pgx.ErrNoRows}
	repo := &violationRepository{pool: db}

	_, err := repo.Annotate(context.Background(), "v-404", domain.ViolationAnnotation{Notes: "late"})
	assert.ErrorIs(t, err, apperrors.ErrViolationNotFound)

	sql := normalizeSQL(db.statements[0].sql)
	assert.NotContains(t, sql, "severity =", "annotations never rewrite engine-owned columns")
	assert.Len(t, db.statements[0].args, highestPlaceholder(sql))
}
