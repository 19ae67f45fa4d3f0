package notify

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker for tests and single-instance runs
// without redis.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
	closed bool
}

// NewMemoryBroker creates an empty in-process broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]chan Event)}
}

// Publish delivers the event to current subscribers without blocking;
// subscribers with full buffers miss the event
func (b *MemoryBroker) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[event.PoolID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a watcher for one pool's events
func (b *MemoryBroker) Subscribe(ctx context.Context, poolID string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[poolID] == nil {
		b.subs[poolID] = make(map[int]chan Event)
	}

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 16)
	b.subs[poolID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[poolID][id]; ok {
			delete(b.subs[poolID], id)
			close(sub)
		}
	}

	return ch, cancel, nil
}

// Close drops all subscriptions
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
	}
	return nil
}
