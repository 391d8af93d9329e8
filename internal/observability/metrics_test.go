package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/timer"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

func TestMetricsCountEngineEvents(t *testing.T) {
	m := NewMetrics(func() int { return 3 })
	dispatcher := events.NewInMemoryDispatcher()
	m.RegisterHandlers(dispatcher)
	ctx := context.Background()

	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type: events.EventTimerTransitioned,
		Payload: events.TimerTransitionedPayload{Event: domain.TimerEvent{
			Metric: domain.MetricResponse, Type: domain.TimerEventPaused,
		}},
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type: events.EventViolationRecorded,
		Payload: events.ViolationRecordedPayload{Violation: domain.ViolationRecord{
			Metric: domain.MetricResolution, Severity: domain.SeverityHigh,
		}},
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type: events.EventEscalationIssued,
		Payload: events.EscalationIssuedPayload{Command: domain.EscalationCommand{
			Metric: domain.MetricResolution, ActionName: "page_manager",
		}},
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("response", "paused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.violations.WithLabelValues("resolution", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations.WithLabelValues("resolution", "page_manager")))

	m.ObserveSweep(timer.SweepStats{Scanned: 10, Violated: 2}, 20*time.Millisecond)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.sweepTimers.WithLabelValues("scanned")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweepTimers.WithLabelValues("violated")))

	m.RecordJobRetry("violation")
	m.RecordJobFailure("escalation")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRetries.WithLabelValues("violation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobFailures.WithLabelValues("escalation")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordError("/", "GET", "X")
		m.ObserveSweep(timer.SweepStats{}, 0)
	})
}

func TestRequestLoggerRecordsRoute(t *testing.T) {
	m := NewMetrics(nil)
	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop(), m))
	app.Get("/v1/violations/:id", func(c *fiber.Ctx) error {
		if c.Params("id") == "missing" {
			return apperrors.ErrViolationNotFound
		}
		return c.SendString("ok")
	})
	app.Get("/metrics", func(c *fiber.Ctx) error {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		return c.Status(rec.Code).Send(rec.Body.Bytes())
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/violations/v1", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	_, err = app.Test(httptest.NewRequest("GET", "/v1/violations/missing", nil))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/v1/violations/:id", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/v1/violations/:id", "GET", "404")))

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sla_engine_http_requests_total")
}
