package player

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// outcome carries the result of one engine round trip.
type outcome[T any] struct {
	val T
	err error
}

// pendingOp is a single-resolution future bridging an issued engine request
// to its callback-delivered result. The channel is buffered so the callback
// side never blocks on delivery.
type pendingOp[T any] struct {
	ch  chan outcome[T]
	gen uint64
}

// await blocks until the operation resolves, the context is cancelled, or
// the optional timeout elapses (timeout <= 0 waits forever).
func (p *pendingOp[T]) await(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case out := <-p.ch:
		return out.val, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-expired:
		return zero, ErrTimedOut
	}
}

// opSlot holds at most one pending operation of a given verb kind. Opening a
// new operation while one is outstanding force-fails the old one with
// ErrSuperseded; the generation counter prevents a late callback from
// resolving a slot that has since been reused.
type opSlot[T any] struct {
	name string
	mu   sync.Mutex
	cur  *pendingOp[T]
	gen  uint64
}

// begin installs a fresh pending operation, superseding any outstanding one.
func (s *opSlot[T]) begin() *pendingOp[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil {
		slog.Debug("superseding pending operation", "op", s.name, "generation", s.cur.gen)
		s.cur.ch <- outcome[T]{err: ErrSuperseded}
	}
	s.gen++
	s.cur = &pendingOp[T]{ch: make(chan outcome[T], 1), gen: s.gen}
	return s.cur
}

// resolve delivers the result to the outstanding operation, if any, and
// clears the slot. Returns false when no operation was pending; callers on
// the callback path log and no-op in that case rather than raising.
func (s *opSlot[T]) resolve(val T, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return false
	}
	s.cur.ch <- outcome[T]{val: val, err: err}
	s.cur = nil
	return true
}

// fail resolves the outstanding operation with an error only.
func (s *opSlot[T]) fail(err error) bool {
	var zero T
	return s.resolve(zero, err)
}

// discard drops the given pending operation without resolving it, used when
// the request path itself failed and no callback will ever arrive. A no-op
// if the slot has moved on to a newer generation.
func (s *opSlot[T]) discard(p *pendingOp[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil && s.cur.gen == p.gen {
		s.cur = nil
	}
}

// abort force-fails any outstanding operation; the teardown path uses this
// so no caller is ever left awaiting forever.
func (s *opSlot[T]) abort(err error) {
	if s.fail(err) {
		slog.Debug("aborted pending operation", "op", s.name, "error", err)
	}
}
