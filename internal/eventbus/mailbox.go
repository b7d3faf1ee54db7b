package eventbus

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNoMailbox is returned when delivering to an id nobody opened.
	ErrNoMailbox = errors.New("no mailbox for id")
	// ErrMailboxExists is returned when an id is opened twice.
	ErrMailboxExists = errors.New("mailbox already open")
	// ErrBusClosed is returned after Close.
	ErrBusClosed = errors.New("bus closed")
)

// Mailboxes routes values of type T to per-id FIFO queues. Deliver never
// blocks on a slow reader: each mailbox buffers without bound and a pump
// goroutine feeds its channel in arrival order.
type Mailboxes[T any] struct {
	mu     sync.RWMutex
	boxes  map[string]*mailbox[T]
	closed bool
}

type mailbox[T any] struct {
	in   chan T
	out  chan T
	done chan struct{}
	once sync.Once
}

// NewMailboxes creates an empty keyed bus.
func NewMailboxes[T any]() *Mailboxes[T] {
	return &Mailboxes[T]{boxes: make(map[string]*mailbox[T])}
}

// Open registers id and returns its receive channel. The channel is closed
// when the mailbox is removed or the bus is closed.
func (b *Mailboxes[T]) Open(id string) (<-chan T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.boxes[id]; ok {
		return nil, ErrMailboxExists
	}
	mb := &mailbox[T]{in: make(chan T), out: make(chan T), done: make(chan struct{})}
	b.boxes[id] = mb
	go mb.pump()
	return mb.out, nil
}

// Deliver appends v to the mailbox of id.
func (b *Mailboxes[T]) Deliver(id string, v T) error {
	b.mu.RLock()
	mb, ok := b.boxes[id]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	if !ok {
		return ErrNoMailbox
	}
	select {
	case mb.in <- v:
		return nil
	case <-mb.done:
		return ErrBusClosed
	}
}

// IDs lists open mailboxes.
func (b *Mailboxes[T]) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.boxes))
	for id := range b.boxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove closes and forgets one mailbox. Queued values are dropped.
func (b *Mailboxes[T]) Remove(id string) {
	b.mu.Lock()
	mb, ok := b.boxes[id]
	delete(b.boxes, id)
	b.mu.Unlock()
	if ok {
		mb.stop()
	}
}

// Close closes every mailbox.
func (b *Mailboxes[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	boxes := b.boxes
	b.boxes = make(map[string]*mailbox[T])
	b.mu.Unlock()
	for _, mb := range boxes {
		mb.stop()
	}
}

func (m *mailbox[T]) stop() { m.once.Do(func() { close(m.done) }) }

func (m *mailbox[T]) pump() {
	defer close(m.out)
	var queue []T
	for {
		var (
			send chan T
			next T
		)
		if len(queue) > 0 {
			send = m.out
			next = queue[0]
		}
		select {
		case v := <-m.in:
			queue = append(queue, v)
		case send <- next:
			var zero T
			queue[0] = zero
			queue = queue[1:]
		case <-m.done:
			return
		}
	}
}
