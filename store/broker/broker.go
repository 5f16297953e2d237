// Package broker is an in-process stand-in for a realtime database: writes
// are fanned out asynchronously to every subscriber of the key, the writer
// included, in the order the writes were applied.
package broker

import (
	"context"
	"sync"

	"github.com/Seednode/santabox/store"
)

type Broker struct {
	mu     sync.Mutex
	values map[store.Key][]byte
	subs   map[store.Key]map[*subscription]struct{}
	closed bool
}

var (
	_ store.Store      = (*Broker)(nil)
	_ store.Subscriber = (*Broker)(nil)
)

func New() *Broker {
	return &Broker{
		values: make(map[store.Key][]byte),
		subs:   make(map[store.Key]map[*subscription]struct{}),
	}
}

func (b *Broker) Read(ctx context.Context, key store.Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, store.ErrClosed
	}

	return clone(b.values[key]), nil
}

func (b *Broker) Write(ctx context.Context, key store.Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return store.ErrClosed
	}

	b.values[key] = clone(value)

	// Enqueue under the lock so every subscriber observes writes in the
	// same order.
	for sub := range b.subs[key] {
		sub.push(clone(value))
	}

	return nil
}

func (b *Broker) Subscribe(ctx context.Context, key store.Key, onChange func([]byte)) (func(), error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, store.ErrClosed
	}

	sub := newSubscription(onChange)
	if b.subs[key] == nil {
		b.subs[key] = make(map[*subscription]struct{})
	}
	b.subs[key][sub] = struct{}{}
	sub.push(clone(b.values[key]))
	b.mu.Unlock()

	go sub.run()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[key], sub)
			b.mu.Unlock()
			sub.stop()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()

	return cancel, nil
}

// Close stops every subscription. Pending notifications are dropped.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for key, subs := range b.subs {
		for sub := range subs {
			sub.stop()
		}
		delete(b.subs, key)
	}

	return nil
}

// subscription is an unbounded FIFO drained by a single goroutine, so a
// slow callback never blocks writers.
type subscription struct {
	onChange func([]byte)

	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscription(onChange func([]byte)) *subscription {
	return &subscription{
		onChange: onChange,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (s *subscription) push(value []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, value)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			value := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}

			s.onChange(value)
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
