package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// CaseEventHandler processes one decoded case event.
type CaseEventHandler interface {
	HandleCaseEvent(ctx context.Context, event domain.CaseEvent) error
}

// CaseEventHandlerFunc adapts a function to CaseEventHandler.
type CaseEventHandlerFunc func(ctx context.Context, event domain.CaseEvent) error

func (f CaseEventHandlerFunc) HandleCaseEvent(ctx context.Context, event domain.CaseEvent) error {
	return f(ctx, event)
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CaseEventConsumer reads case events from Kafka and commits each message once handled.
// Messages are retried with backoff for as long as the policy catalog is unavailable;
// malformed messages and per-timer failures are logged and committed.
type CaseEventConsumer struct {
	reader  kafkaReader
	handler CaseEventHandler
	logger  *zap.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

// NewCaseEventConsumer builds a consumer for the configured topic and group.
func NewCaseEventConsumer(cfg config.KafkaConfig, engine config.EngineConfig, handler CaseEventHandler, logger *zap.Logger) (*CaseEventConsumer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newCaseEventConsumer(reader, handler, engine.RetryInitialInterval, engine.RetryMaxElapsed, logger), nil
}

func newCaseEventConsumer(reader kafkaReader, handler CaseEventHandler, retryInitial, retryMax time.Duration, logger *zap.Logger) *CaseEventConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryInitial <= 0 {
		retryInitial = 200 * time.Millisecond
	}
	return &CaseEventConsumer{
		reader:       reader,
		handler:      handler,
		logger:       logger,
		retryInitial: retryInitial,
		retryMax:     retryMax,
	}
}

// Run consumes until ctx is done. It returns nil on cancellation and an error only when
// Kafka itself fails.
func (c *CaseEventConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch case event: %w", err)
		}
		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit case event: %w", err)
		}
	}
}

// Close closes the underlying reader.
func (c *CaseEventConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// handle returns an error only when the message must not be committed.
func (c *CaseEventConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var event domain.CaseEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Warn("malformed case event skipped",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	if event.CaseID == "" {
		c.logger.Warn("case event without case id skipped", zap.Int64("offset", msg.Offset))
		return nil
	}

	// A catalog outage never ends the consumer: the offset is held and the event retried,
	// one backoff round after another, until ctx is cancelled.
	for round := 1; ; round++ {
		err := c.retryRound(ctx, event)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, apperrors.ErrCatalogUnavailable):
			c.logger.Error("policy catalog still unavailable; holding case event",
				zap.String("case_id", event.CaseID),
				zap.String("event_id", event.ID),
				zap.Int64("offset", msg.Offset),
				zap.Int("round", round),
				zap.Error(err))
		default:
			c.logger.Warn("case event partially applied",
				zap.String("case_id", event.CaseID),
				zap.String("event_id", event.ID),
				zap.Error(err))
			return nil
		}
	}
}

// retryRound retries catalog outages with exponential backoff for at most retryMax.
func (c *CaseEventConsumer) retryRound(ctx context.Context, event domain.CaseEvent) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	if c.retryMax > 0 {
		policy.MaxElapsedTime = c.retryMax
	}

	return backoff.RetryNotify(func() error {
		err := c.handler.HandleCaseEvent(ctx, event)
		if err == nil || !errors.Is(err, apperrors.ErrCatalogUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.logger.Warn("case event retry scheduled",
			zap.String("case_id", event.CaseID),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}
