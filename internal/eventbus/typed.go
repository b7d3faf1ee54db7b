package eventbus

import (
	"sync"
	"sync/atomic"
)

// Fanout copies every published value to each subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the value.
type Fanout[T any] struct {
	mu      sync.RWMutex
	subs    []chan T
	closed  bool
	dropped atomic.Int64
}

// NewFanout creates an empty fan-out.
func NewFanout[T any]() *Fanout[T] { return &Fanout[T]{} }

// Publish offers v to every subscriber.
func (b *Fanout[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber buffering up to size values.
func (b *Fanout[T]) Subscribe(size int) <-chan T {
	if size <= 0 {
		size = 1
	}
	ch := make(chan T, size)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Fanout[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Dropped counts values lost to full subscriber buffers.
func (b *Fanout[T]) Dropped() int64 { return b.dropped.Load() }

// Close closes every subscriber channel.
func (b *Fanout[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
