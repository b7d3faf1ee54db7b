package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxesFIFO(t *testing.T) {
	b := NewMailboxes[int]()
	defer b.Close()
	ch, err := b.Open("a")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Deliver("a", i))
	}
	for i := 0; i < 100; i++ {
		select {
		case v := <-ch:
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("missing value %d", i)
		}
	}
}

func TestMailboxesDeliverDoesNotBlock(t *testing.T) {
	b := NewMailboxes[string]()
	defer b.Close()
	_, err := b.Open("slow")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = b.Deliver("slow", "x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliver blocked on unread mailbox")
	}
}

func TestMailboxesErrors(t *testing.T) {
	b := NewMailboxes[int]()
	_, err := b.Open("a")
	require.NoError(t, err)
	_, err = b.Open("a")
	assert.ErrorIs(t, err, ErrMailboxExists)
	assert.ErrorIs(t, b.Deliver("nobody", 1), ErrNoMailbox)
	assert.Equal(t, []string{"a"}, b.IDs())

	b.Close()
	assert.ErrorIs(t, b.Deliver("a", 1), ErrBusClosed)
	_, err = b.Open("b")
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMailboxesCloseClosesChannels(t *testing.T) {
	b := NewMailboxes[int]()
	ch1, _ := b.Open("a")
	ch2, _ := b.Open("b")
	b.Close()
	b.Close()
	for _, ch := range []<-chan int{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("channel not closed")
		}
	}
}

func TestMailboxesRemove(t *testing.T) {
	b := NewMailboxes[int]()
	defer b.Close()
	ch, _ := b.Open("a")
	b.Remove("a")
	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, b.Deliver("a", 1), ErrNoMailbox)
}

func TestMailboxesConcurrentSenders(t *testing.T) {
	b := NewMailboxes[int]()
	defer b.Close()
	ch, _ := b.Open("sink")
	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = b.Deliver("sink", i)
			}
		}()
	}
	wg.Wait()
	got := 0
	for got < 200 {
		select {
		case <-ch:
			got++
		case <-time.After(time.Second):
			t.Fatalf("received %d of 200", got)
		}
	}
}
