package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/imtypes"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("fanout bus closed")

// NatsBus publishes events on one NATS subject. Every gateway instance
// subscribes without a queue group so each one sees every event.
type NatsBus struct {
	conn    *nats.Conn
	subject string
	log     *logrus.Entry

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsBus connects to cfg.URL and keeps reconnecting in the background.
func NewNatsBus(cfg config.NATSConfig, clientName string) (*NatsBus, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	log := logrus.WithFields(logrus.Fields{"component": "nats_bus", "subject": cfg.Subject})
	conn, err := nats.Connect(cfg.URL,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithField("error", err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	log.WithField("url", conn.ConnectedUrl()).Info("connected to nats")
	return &NatsBus{conn: conn, subject: cfg.Subject, log: log}, nil
}

func (b *NatsBus) Publish(ctx context.Context, ev imtypes.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("publish to %s: %w", b.subject, err)
	}
	return nil
}

func (b *NatsBus) Subscribe(h Handler) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		ev, err := Decode(msg.Data)
		if err != nil {
			b.log.WithField("error", err).Warn("discarding malformed event")
			return
		}
		h(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close drains the subscriptions so in-flight events are still handled.
func (b *NatsBus) Close() error {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
	if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
