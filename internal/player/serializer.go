package player

import (
	"context"
	"sync"
)

// gate is a FIFO mutual-exclusion section for playback verbs. Waiters are
// admitted strictly in the order they arrived, and the section is released on
// every exit path, including panic. Unlike sync.Mutex, contended acquisition
// order is deterministic, which is what gives concurrently submitted verbs a
// total order matching submission order.
type gate struct {
	mu    sync.Mutex
	busy  bool
	queue []chan struct{}
}

// acquire blocks until the caller owns the section or the context is
// cancelled.
func (g *gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	turn := make(chan struct{})
	g.queue = append(g.queue, turn)
	g.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, waiter := range g.queue {
			if waiter == turn {
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// Lost the race: we were already handed the section. Pass it on.
		<-turn
		g.release()
		return ctx.Err()
	}
}

// release hands the section to the oldest waiter, or marks it free.
func (g *gate) release() {
	g.mu.Lock()
	if len(g.queue) > 0 {
		next := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()
		close(next)
		return
	}
	g.busy = false
	g.mu.Unlock()
}

// do runs fn inside the exclusive section. The section covers a verb's
// validation and engine-request issuance; awaiting the completion callback
// happens outside it so a newer request of the same kind can supersede.
func (g *gate) do(ctx context.Context, fn func() error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()
	return fn()
}
