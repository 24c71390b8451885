package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "station.events"

// Conn is the subset of *nats.Conn used by NATSPublisher.
type Conn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes msgpack-encoded events to <prefix>.<phase>.
type NATSPublisher struct {
	conn   Conn
	prefix string
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event for phase is published on.
func (p *NATSPublisher) Subject(phase string) string {
	return p.prefix + "." + phase
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	payload, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.Phase), payload); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Decode parses a payload produced by NATSPublisher.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return ev, nil
}

// ConnectNATS dials NATS with reconnect handling suited to a long-lived publisher.
func ConnectNATS(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("betelgeus-station-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1 * time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

var _ Publisher = (*NATSPublisher)(nil)
