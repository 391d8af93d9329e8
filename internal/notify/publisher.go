package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/domain"
)

const escalationStreamMaxAge = 7 * 24 * time.Hour

// Publisher hands escalation commands to the workflow collaborator.
type Publisher interface {
	Publish(ctx context.Context, cmd domain.EscalationCommand) error
	Close() error
}

// jetStream is the part of nats.JetStreamContext the publisher uses.
type jetStream interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher publishes commands into a JetStream stream; the command id is the
// Nats-Msg-Id so redelivered commands are deduplicated by the broker.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetStream
	subject string
}

// NewNATSPublisher connects and ensures the escalation stream exists.
func NewNATSPublisher(cfg config.NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("sla-engine"))
	if err != nil {
		return nil, fmt.Errorf("connect escalation nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for escalations: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, subject: cfg.Subject}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, cmd domain.EscalationCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal escalation command: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = body
	msg.Header.Set("Nats-Msg-Id", cmd.ID)
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish escalation command: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}

func ensureStream(js jetStream, name, subject string) error {
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", name, err)
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    escalationStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", name, err)
	}
	return nil
}

// LogPublisher writes commands to the log when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher builds a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, cmd domain.EscalationCommand) error {
	p.logger.Info("EscalationIssued",
		zap.String("command_id", cmd.ID),
		zap.String("case_id", cmd.CaseID),
		zap.String("timer_id", cmd.TimerID),
		zap.String("metric", string(cmd.Metric)),
		zap.Int("level", cmd.EscalationLevel),
		zap.String("action", cmd.ActionName),
		zap.Any("payload", cmd.ActionPayload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
