// Package natsbus forwards lifecycle events to NATS so other systems can
// follow staged updates as they happen.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/example/stagehand/internal/core/event"
	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/ports/secondary"
)

const defaultPrefix = "stagehand"

var errNilConn = errors.New("nats publisher not initialized")

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher publishes every lifecycle event as JSON on <prefix>.<event>.
// It never vetoes: publish failures are logged and reported as warnings.
type Publisher struct {
	conn   Conn
	prefix string
	logger zerolog.Logger
}

// Connect dials NATS at url and returns a publisher.
func Connect(url, prefix string, logger zerolog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("stagehand"),
		nats.MaxReconnects(3),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewPublisher(nc, prefix, logger), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, logger zerolog.Logger) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event kind is published on.
func (p *Publisher) Subject(kind event.Kind) string {
	return p.prefix + "." + string(kind)
}

// Name identifies the subscriber in logs.
func (p *Publisher) Name() string { return "nats_publisher" }

// OnEvent publishes evt. Publishing is best effort.
func (p *Publisher) OnEvent(ctx context.Context, evt event.Event) []policy.Result {
	if err := p.Publish(evt); err != nil {
		p.logger.Warn().Err(err).Str("event", string(evt.Kind)).Msg("failed to publish event")
		return []policy.Result{policy.NewWarning("", "Event not published", err.Error())}
	}
	return nil
}

// Publish encodes and sends one event and waits for the server to take it.
func (p *Publisher) Publish(evt event.Event) error {
	if p == nil || p.conn == nil {
		return errNilConn
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(evt.Kind), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	// The CLI exits right after an operation; flush so nothing is lost.
	return p.conn.FlushTimeout(2 * time.Second)
}

// Close shuts down the underlying connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}

var _ secondary.EventSubscriber = (*Publisher)(nil)
