package player

import (
	"testing"
	"time"
)

func recvDisposition(t *testing.T, ch <-chan Disposition) Disposition {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatal("disposition channel closed unexpectedly")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disposition")
	}
	return Disposition{}
}

func TestHubFanOut(t *testing.T) {
	h := newHub()
	a, cancelA := h.subscribe()
	b, cancelB := h.subscribe()
	defer cancelA()
	defer cancelB()

	want := []Disposition{
		{Position: 100 * time.Millisecond, Duration: time.Second},
		{Position: 200 * time.Millisecond, Duration: time.Second},
		{Position: 300 * time.Millisecond, Duration: time.Second},
	}
	for _, d := range want {
		h.publish(d)
	}

	for _, ch := range []<-chan Disposition{a, b} {
		for i, w := range want {
			got := recvDisposition(t, ch)
			if got != w {
				t.Fatalf("disposition %d = %+v, want %+v", i, got, w)
			}
		}
	}
}

func TestHubSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := newHub()
	slow, cancelSlow := h.subscribe() // never read
	defer cancelSlow()
	_ = slow

	fast, cancelFast := h.subscribe()
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.publish(Disposition{Position: time.Duration(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The fast subscriber still sees everything, in order.
	for i := 0; i < 100; i++ {
		got := recvDisposition(t, fast)
		if got.Position != time.Duration(i) {
			t.Fatalf("disposition %d out of order: %+v", i, got)
		}
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe()
	defer cancel()

	h.close()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received disposition after hub close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel not closed by hub close")
	}

	// Publishing after close is a no-op, and a late subscribe gets a closed
	// channel immediately.
	h.publish(Disposition{})
	late, lateCancel := h.subscribe()
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Fatal("late subscriber got a live channel from a closed hub")
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe()
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received disposition after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel not closed by cancel")
	}
}
