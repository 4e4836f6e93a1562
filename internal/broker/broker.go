// Package broker forwards committed domain event envelopes to an external
// message broker. It is the drop-in seam behind the event bus: the same
// envelopes the in-process handlers saw are serialized onto NATS.
//
// Import Path: procurement.io/orchestrator/internal/broker
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/domain"
	"procurement.io/orchestrator/internal/pkg/logger"
)

// Publisher delivers one envelope. Implementations must be safe for
// concurrent use; delivery is at-least-once, consumers dedupe on EventID.
type Publisher interface {
	Publish(ctx context.Context, env domain.Envelope) error
	Close() error
}

// Subject returns the subject an envelope is published on, for example
// procurement.events.purchase_order.purchase_order_created.
func Subject(prefix string, env domain.Envelope) string {
	return fmt.Sprintf("%s.%s.%s", prefix, env.AggregateType, strings.ToLower(string(env.EventType)))
}

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	JetStream     bool
	// Name identifies the connection on the server.
	Name string
}

// NATSPublisher publishes envelopes as JSON on NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSPublisher connects to the server. Reconnects are handled by the
// client and logged.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	name := cfg.Name
	if name == "" {
		name = "procurement-orchestrator"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	p := &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix}
	if cfg.JetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("jetstream context: %w", err)
		}
		p.js = js
	}
	logger.Info("NATS publisher connected",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("subject_prefix", cfg.SubjectPrefix),
		zap.Bool("jetstream", cfg.JetStream),
	)
	return p, nil
}

// Publish sends env and waits for the server to accept it.
func (p *NATSPublisher) Publish(ctx context.Context, env domain.Envelope) error {
	msg, err := newMsg(p.prefix, env)
	if err != nil {
		return err
	}

	if p.js != nil {
		if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", msg.Subject, err)
		}
	} else {
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish %s: %w", msg.Subject, err)
		}
		if err := p.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", msg.Subject, err)
		}
	}

	logger.Debug("Event published to broker",
		zap.String("subject", msg.Subject),
		zap.String("event_id", env.EventID),
	)
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

func newMsg(prefix string, env domain.Envelope) (*nats.Msg, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", env.EventID, err)
	}
	msg := nats.NewMsg(Subject(prefix, env))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, env.EventID)
	msg.Header.Set("Event-Type", string(env.EventType))
	return msg, nil
}

// LogPublisher logs envelopes instead of sending them. Used when no broker
// is configured.
type LogPublisher struct {
	prefix string
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(prefix string) *LogPublisher {
	return &LogPublisher{prefix: prefix}
}

// Publish logs env at info level.
func (p *LogPublisher) Publish(ctx context.Context, env domain.Envelope) error {
	logger.Ctx(ctx).Info("Event relayed",
		zap.String("subject", Subject(p.prefix, env)),
		zap.String("event_id", env.EventID),
		zap.String("aggregate_id", env.AggregateID),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
