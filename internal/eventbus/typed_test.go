package eventbus

import "testing"

func TestFanoutPublishSubscribe(t *testing.T) {
	bus := NewFanout[string]()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)
	bus.Publish("hello")
	for _, ch := range []<-chan string{a, b} {
		if v := <-ch; v != "hello" {
			t.Fatalf("expected hello got %v", v)
		}
	}
	bus.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Fatal("expected a closed after unsubscribe")
	}
}

func TestFanoutDropsWhenFull(t *testing.T) {
	bus := NewFanout[int]()
	ch := bus.Subscribe(2)
	for i := 0; i < 5; i++ {
		bus.Publish(i)
	}
	if got := bus.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped, got %d", got)
	}
	if v := <-ch; v != 0 {
		t.Fatalf("expected oldest value kept, got %d", v)
	}
}

func TestFanoutClose(t *testing.T) {
	bus := NewFanout[int]()
	ch1 := bus.Subscribe(1)
	ch2 := bus.Subscribe(1)
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
	if _, ok := <-bus.Subscribe(1); ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}

func TestFanoutUnsubscribeAfterClose(t *testing.T) {
	bus := NewFanout[float64]()
	ch := bus.Subscribe(1)
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}
