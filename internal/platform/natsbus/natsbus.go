// Package natsbus publishes scheduler events to NATS JetStream so that
// observers outside the process can follow task progress.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/phrazzld/rhqueue/internal/events"
)

// StreamName is the JetStream stream that captures every task event.
const StreamName = "RHQUEUE"

type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher implements events.EventHandler by publishing each event as
// JSON on <prefix>.<event type>.
type Publisher struct {
	nc     *nats.Conn
	js     streamPublisher
	prefix string
	logger *slog.Logger
}

// Connect establishes a connection to NATS and ensures the stream exists.
func Connect(ctx context.Context, url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if prefix == "" {
		return nil, errors.New("subject prefix must not be empty")
	}

	nc, err := nats.Connect(url, nats.Name("rhqueue"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	logger = logger.With("component", "nats_publisher")
	logger.Info("nats connected", "url", url, "stream", StreamName, "prefix", prefix)
	return &Publisher{nc: nc, js: js, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + strings.ToLower(eventType)
}

// HandleEvent publishes the event. The event ID doubles as the JetStream
// message ID so redeliveries are deduplicated by the server.
func (p *Publisher) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if event == nil {
		return errors.New("nil event")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	subject := p.Subject(event.Type)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID.String())); err != nil {
		p.logger.Warn("event publish failed", "subject", subject, "seq", event.Seq, "error", err)
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

var _ events.EventHandler = (*Publisher)(nil)
