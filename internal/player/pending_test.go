package player

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSlotResolve(t *testing.T) {
	slot := opSlot[int]{name: "test"}
	pend := slot.begin()
	if !slot.resolve(42, nil) {
		t.Fatal("resolve reported no pending operation")
	}
	got, err := pend.await(context.Background(), 0)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if got != 42 {
		t.Fatalf("await returned %d, want 42", got)
	}
}

func TestSlotSupersede(t *testing.T) {
	slot := opSlot[int]{name: "test"}
	first := slot.begin()
	second := slot.begin()

	if _, err := first.await(context.Background(), 0); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first await returned %v, want ErrSuperseded", err)
	}

	slot.resolve(7, nil)
	got, err := second.await(context.Background(), 0)
	if err != nil {
		t.Fatalf("second await failed: %v", err)
	}
	if got != 7 {
		t.Fatalf("second await returned %d, want 7", got)
	}
}

func TestSlotDiscardOldGeneration(t *testing.T) {
	slot := opSlot[int]{name: "test"}
	first := slot.begin()
	second := slot.begin()
	<-first.ch // drain the supersede outcome

	// Discarding the superseded op must not clear the live one.
	slot.discard(first)
	if !slot.resolve(9, nil) {
		t.Fatal("stale discard cleared the live operation")
	}
	if got, _ := second.await(context.Background(), 0); got != 9 {
		t.Fatalf("await returned %d, want 9", got)
	}
}

func TestSlotResolveWithoutPending(t *testing.T) {
	slot := opSlot[int]{name: "test"}
	if slot.resolve(1, nil) {
		t.Fatal("resolve succeeded with nothing pending")
	}
	if slot.fail(errors.New("nope")) {
		t.Fatal("fail succeeded with nothing pending")
	}
}

func TestAwaitTimeout(t *testing.T) {
	slot := opSlot[int]{name: "test"}
	pend := slot.begin()
	_, err := pend.await(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("await returned %v, want ErrTimedOut", err)
	}
}

func TestAwaitContextCancel(t *testing.T) {
	slot := opSlot[int]{name: "test"}
	pend := slot.begin()

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()
	_, err := pend.await(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("await returned %v, want context.Canceled", err)
	}
}

func TestSlotAbort(t *testing.T) {
	slot := opSlot[struct{}]{name: "test"}
	pend := slot.begin()
	slot.abort(ErrShutdown)
	_, err := pend.await(context.Background(), 0)
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("await returned %v, want ErrShutdown", err)
	}
}
