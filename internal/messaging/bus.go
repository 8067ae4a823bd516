package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/feral-file/ff-marketplace/internal/domain"
)

// ErrBusClosed is returned when publishing to a closed bus
var ErrBusClosed = errors.New("bus closed")

// Bus is an in-process broker implementing both Publisher and Subscriber.
// Subscribers only see events published after they subscribed; fromBlock is ignored.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]chan *domain.LedgerEvent
	nextID   int
	sequence uint64
	buffer   int
	closed   bool
	done     chan struct{}
}

// NewBus creates a new bus; buffer is the per-subscriber queue length
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]chan *domain.LedgerEvent),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

// PublishEvent delivers the event to every current subscriber, blocking on full queues until ctx is done
func (b *Bus) PublishEvent(ctx context.Context, event *domain.LedgerEvent) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.sequence++
	targets := make([]chan *domain.LedgerEvent, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		case <-b.done:
			return ErrBusClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SubscribeEvents blocks delivering events to handler until ctx is done or the bus is closed.
// Handler errors are returned to the caller and end the subscription.
func (b *Bus) SubscribeEvents(ctx context.Context, _ uint64, handler EventHandler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	ch := make(chan *domain.LedgerEvent, b.buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case event := <-ch:
			if err := handler(event); err != nil {
				return err
			}
		}
	}
}

// GetLatestBlock returns the number of events published so far
func (b *Bus) GetLatestBlock(_ context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence, nil
}

// Subscribers returns the number of active subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops all subscriptions; it is safe to call more than once
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// MultiPublisher fans an event out to several publishers, returning the first error
type MultiPublisher []Publisher

// PublishEvent publishes to every publisher in order
func (m MultiPublisher) PublishEvent(ctx context.Context, event *domain.LedgerEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher
func (m MultiPublisher) Close() {
	for _, p := range m {
		p.Close()
	}
}
