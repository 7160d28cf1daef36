package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// subjectPrefix namespaces every channel on a shared NATS server.
const subjectPrefix = "helmforge."

// NATSBroker publishes and subscribes through core NATS subjects. Core NATS
// is at-most-once, which matches the wake-up contract of the queue.
type NATSBroker struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSBroker connects to the NATS server at url.
func NewNATSBroker(url string, logger *slog.Logger) (*NATSBroker, error) {
	conn, err := nats.Connect(url,
		nats.Name("helmforge"),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &NATSBroker{conn: conn, logger: logger}, nil
}

func (b *NATSBroker) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(subjectPrefix+channel, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)
	var mu sync.Mutex
	closed := false

	sub, err := b.conn.Subscribe(subjectPrefix+channel, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg.Data:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Debug("nats unsubscribe", "channel", channel, "error", err)
			}
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Close drains pending publishes and closes the connection.
func (b *NATSBroker) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}
