package player

import (
	"log/slog"
	"sync"

	"tapedeck.dev/internal/engine"
)

// Disposition is a (position, duration) progress snapshot forwarded verbatim
// from the engine's periodic progress callbacks.
type Disposition = engine.Disposition

// hub fans dispositions out to any number of independent subscribers. It is
// purely observational: publishing never blocks the callback path, and a slow
// subscriber queues without affecting playback or other subscribers.
type hub struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	mu    sync.Mutex
	queue []Disposition
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
	out   chan Disposition
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscriber)}
}

// subscribe registers a new listener. The returned cancel func is idempotent
// and must be called when the listener is done; the channel is closed either
// on cancel or when the hub shuts down.
func (h *hub) subscribe() (<-chan Disposition, func()) {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Disposition),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	go sub.pump()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.stop()
	}
	return sub.out, cancel
}

// publish enqueues the disposition for every subscriber without blocking.
func (h *hub) publish(d Disposition) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(d)
	}
}

// close shuts down the hub and closes every subscriber channel.
func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[int]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	slog.Debug("disposition hub closed", "subscribers_dropped", len(subs))
}

func (s *subscriber) enqueue(d Disposition) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// pump drains the queue into the subscriber's channel, preserving order.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			d := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- d:
			case <-s.done:
				return
			}
		}
	}
}
