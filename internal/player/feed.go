package player

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultBlockSize is the slice size FeedAll cuts large buffers into.
const DefaultBlockSize = 8192

// Feed submits one chunk of raw audio bytes for stream playback and returns
// the number of bytes the engine accepted. A synchronous zero from the engine
// means its buffer is full; the call then suspends until the engine demands
// more data and returns the demanded amount, never zero-as-EOF. If playback
// has already stopped the call returns 0 immediately without touching the
// engine.
func (p *Player) Feed(ctx context.Context, data []byte) (int, error) {
	return p.feedOne(ctx, func() (int, error) { return p.currentEngine().Feed(data) })
}

// FeedFloat32 submits per-channel float32 sample blocks through the same
// acceptance protocol as Feed.
func (p *Player) FeedFloat32(ctx context.Context, blocks [][]float32) (int, error) {
	return p.feedOne(ctx, func() (int, error) { return p.currentEngine().FeedFloat32(blocks) })
}

// FeedInt16 submits per-channel int16 sample blocks through the same
// acceptance protocol as Feed.
func (p *Player) FeedInt16(ctx context.Context, blocks [][]int16) (int, error) {
	return p.feedOne(ctx, func() (int, error) { return p.currentEngine().FeedInt16(blocks) })
}

// FeedAll slices one large buffer into blocks (BlockSize, default 8192
// bytes) and feeds them one at a time, accumulating the accepted length
// until the whole buffer is consumed. If the player stops mid-loop the
// remaining data is dropped and the consumed total is returned; truncation
// is not an error.
func (p *Player) FeedAll(ctx context.Context, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		if p.State() != StatePlaying {
			slog.Debug("feed loop exiting, player no longer playing", "fed", total, "of", len(buf))
			return total, nil
		}
		end := total + p.blockSize
		if end > len(buf) {
			end = len(buf)
		}
		n, err := p.Feed(ctx, buf[total:end])
		if err != nil {
			return total, err
		}
		if n == 0 {
			// Stopped while suspended on the acceptance future.
			return total, nil
		}
		if n > len(buf)-total {
			n = len(buf) - total
		}
		total += n
	}
	return total, nil
}

// feedOne runs the per-chunk acceptance protocol: install the acceptance
// slot, submit, and either return the synchronously accepted length or
// suspend until the engine's NeedMoreData demand resolves the slot. feedMu
// serializes chunk submission across all feed entry points (direct calls and
// the four sinks), which is the pipeline's only ordering guarantee.
func (p *Player) feedOne(ctx context.Context, submit func() (int, error)) (int, error) {
	if p.State() != StatePlaying {
		return 0, nil
	}

	p.feedMu.Lock()
	defer p.feedMu.Unlock()

	// Re-check under the feed lock: a stop may have landed while queued.
	if p.State() != StatePlaying {
		return 0, nil
	}

	// The slot must exist before the request is issued so a demand arriving
	// between submission and suspension is not lost.
	pend := p.feedSlot.begin()

	ln, err := submit()
	if err != nil {
		p.feedSlot.discard(pend)
		return 0, fmt.Errorf("engine feed: %w", err)
	}
	if ln != 0 {
		p.feedSlot.discard(pend)
		return ln, nil
	}

	// Engine buffer full. Consume a demand stored between feed calls if one
	// exists, otherwise suspend until NeedMoreData fires.
	p.mu.Lock()
	if n := p.pendingFood; n > 0 {
		p.pendingFood = 0
		p.mu.Unlock()
		p.feedSlot.discard(pend)
		return n, nil
	}
	p.mu.Unlock()

	slog.Debug("engine buffer full, awaiting demand")
	return pend.await(ctx, p.timeout)
}

// FeedSink returns the push-style byte channel of the active stream session.
// Chunks pushed here are throttled internally through the acceptance
// protocol; the application never observes backpressure.
func (p *Player) FeedSink() (chan<- []byte, error) {
	s, err := p.currentSinks()
	if err != nil {
		return nil, err
	}
	return s.bytes, nil
}

// Float32Sink returns the push-style float32 block channel.
func (p *Player) Float32Sink() (chan<- [][]float32, error) {
	s, err := p.currentSinks()
	if err != nil {
		return nil, err
	}
	return s.f32, nil
}

// Int16Sink returns the push-style int16 block channel.
func (p *Player) Int16Sink() (chan<- [][]int16, error) {
	s, err := p.currentSinks()
	if err != nil {
		return nil, err
	}
	return s.i16, nil
}

// FoodSink returns the legacy tagged-union channel.
//
// Deprecated: superseded by the typed sinks; kept for compatibility.
func (p *Player) FoodSink() (chan<- Food, error) {
	s, err := p.currentSinks()
	if err != nil {
		return nil, err
	}
	return s.legacy, nil
}

func (p *Player) currentSinks() (*sinks, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sinks == nil {
		return nil, ErrNotOpen
	}
	return p.sinks, nil
}
