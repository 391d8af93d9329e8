package service

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/notify"
	"github.com/spec-kit/sla-engine/internal/worker"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// NotificationService delivers escalation commands to the workflow collaborator.
// Delivery runs on the queue after the timer lock is released; failures never roll back
// the escalation level already recorded on the timer.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  notify.Publisher
	queue      *worker.Queue
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, publisher notify.Publisher, queue *worker.Queue, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		queue:      queue,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventEscalationIssued, n.handleEscalationIssued)
	n.dispatcher.Subscribe(events.EventViolationRecorded, n.handleViolationRecorded)
}

func (n *NotificationService) handleEscalationIssued(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.EscalationIssuedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", apperrors.ErrDispatch, event.Payload)
	}
	cmd := payload.Command
	attempts := 0
	deliver := func(ctx context.Context) error {
		attempts++
		if err := n.publisher.Publish(ctx, cmd); err != nil {
			if n.cfg.MaxAttempts > 0 && attempts >= n.cfg.MaxAttempts {
				return backoff.Permanent(fmt.Errorf("%w: %v", apperrors.ErrDispatch, err))
			}
			return err
		}
		return nil
	}

	if n.queue == nil {
		if err := deliver(ctx); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrDispatch, err)
		}
		return nil
	}
	if err := n.queue.Enqueue(ctx, worker.Job{Name: "escalation:" + cmd.ID, Run: deliver}); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDispatch, err)
	}
	return nil
}

func (n *NotificationService) handleViolationRecorded(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ViolationRecordedPayload)
	if !ok {
		return nil
	}
	v := payload.Violation
	n.logger.Info("ViolationRecorded",
		zap.String("violation_id", v.ID),
		zap.String("case_id", v.CaseID),
		zap.String("metric", string(v.Metric)),
		zap.Int64("violation_minutes", v.ViolationMinutes),
		zap.String("severity", string(v.Severity)))
	return nil
}
