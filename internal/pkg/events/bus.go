// Package events carries ledger events over NATS core subjects.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	SubjectEntryCreated   = "ledger.entry.created"
	SubjectPremiumChanged = "ledger.premium.changed"
	SubjectNotification   = "ledger.notification"
)

// Connect dials NATS. An empty URL disables the bus and returns a nil conn.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		log.Warn().Msg("NATS URL not configured, event bus disabled")
		return nil, nil
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	return nc, nil
}

// Bus publishes JSON payloads. A Bus over a nil conn drops everything.
type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Enabled() bool {
	return b != nil && b.nc != nil
}

// Publish encodes v and publishes it on subject.
func (b *Bus) Publish(_ context.Context, subject string, v any) error {
	if !b.Enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	return b.nc.Publish(subject, data)
}

// Close drains pending publishes before closing the connection.
func (b *Bus) Close() {
	if !b.Enabled() {
		return
	}
	if err := b.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain failed")
	}
}

// Consume queue-subscribes handle to subject and blocks until ctx is done,
// then drains the subscription.
func Consume(ctx context.Context, nc *nats.Conn, subject, queue string, handle func(context.Context, []byte) error) error {
	sub, err := nc.QueueSubscribe(subject, queue, func(m *nats.Msg) {
		if err := handle(ctx, m.Data); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("Event handler failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Info().Str("subject", subject).Str("queue", queue).Msg("Event consumer running")
	<-ctx.Done()
	return sub.Drain()
}
