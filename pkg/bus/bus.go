// Package bus provides typed, non-blocking publish/subscribe topics used to
// fan tracker state out to views and hosts.
package bus

import (
	"sync"
	"sync/atomic"
)

// Topic broadcasts values of type T to every current subscriber. Delivery
// is at-most-once: a subscriber whose buffer is full misses the value.
type Topic[T any] struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan T
	dropped atomic.Uint64
	closed  bool
}

// NewTopic returns an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a receiver with the given buffer size. The returned
// function removes the subscription and closes the channel.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
			t.mu.Unlock()
		})
	}
}

// Publish delivers v to every subscriber that has room for it.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- v:
		default:
			t.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (t *Topic[T]) Dropped() uint64 {
	return t.dropped.Load()
}

// Subscribers reports the current subscriber count.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
