package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokerClosed is returned by a broker after Close.
var ErrBrokerClosed = errors.New("broker closed")

// Broker is a named-channel publish/subscribe primitive. Delivery is best
// effort: a message may be dropped and callers must not treat a publish as
// the unit of work.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte) error
	// Subscribe returns a stream of messages for channel and a function
	// that ends the subscription and closes the stream.
	Subscribe(channel string) (<-chan []byte, func(), error)
	Close() error
}

// subscriberBuffer bounds how far a slow subscriber may lag before the
// local broker starts dropping its messages.
const subscriberBuffer = 64

// LocalBroker fans messages out to in-process subscribers.
type LocalBroker struct {
	mu     sync.Mutex
	subs   map[string]map[chan []byte]struct{}
	closed bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *LocalBroker) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for ch := range b.subs[channel] {
		msg := append([]byte(nil), data...)
		select {
		case ch <- msg:
		default:
			// subscriber is full; the message is dropped for it only
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(channel string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBrokerClosed
	}
	ch := make(chan []byte, subscriberBuffer)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[channel][ch]; !ok {
				return // already closed by Close
			}
			delete(b.subs[channel], ch)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, channel)
	}
	return nil
}
