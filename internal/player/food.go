package player

import (
	"context"
	"log/slog"
)

// Food is the legacy tagged-union feed payload: one of a byte buffer, a
// float32 block set, an int16 block set, or a callback event executed when
// everything queued before it has been consumed. It predates the typed sinks
// and is kept for compatibility; new code should use FeedSink, Float32Sink
// and Int16Sink directly.
type Food interface {
	consume(ctx context.Context, p *Player) (int, error)
}

// FoodData carries one raw byte buffer.
type FoodData struct {
	Data []byte
}

func (f *FoodData) consume(ctx context.Context, p *Player) (int, error) {
	return p.FeedAll(ctx, f.Data)
}

// FoodFloat32 carries per-channel float32 sample blocks.
type FoodFloat32 struct {
	Blocks [][]float32
}

func (f *FoodFloat32) consume(ctx context.Context, p *Player) (int, error) {
	return p.FeedFloat32(ctx, f.Blocks)
}

// FoodInt16 carries per-channel int16 sample blocks.
type FoodInt16 struct {
	Blocks [][]int16
}

func (f *FoodInt16) consume(ctx context.Context, p *Player) (int, error) {
	return p.FeedInt16(ctx, f.Blocks)
}

// FoodEvent runs a callback once all food queued before it has been accepted
// by the engine.
type FoodEvent struct {
	On func()
}

func (f *FoodEvent) consume(ctx context.Context, p *Player) (int, error) {
	if f.On != nil {
		f.On()
	}
	return 0, nil
}

// sinks are the push-style feed channels of one stream session. All four are
// simultaneously active while streaming and drain through the same
// acceptance-gated feed calls, so a pushing application is throttled by the
// engine even though it never handles backpressure itself.
type sinks struct {
	bytes  chan []byte
	f32    chan [][]float32
	i16    chan [][]int16
	legacy chan Food
}

func (p *Player) startSinks() *sinks {
	s := &sinks{
		bytes:  make(chan []byte, sinkDepth),
		f32:    make(chan [][]float32, sinkDepth),
		i16:    make(chan [][]int16, sinkDepth),
		legacy: make(chan Food, sinkDepth),
	}

	go drainLoop(s.bytes, func(ctx context.Context, data []byte) (int, error) {
		return p.FeedAll(ctx, data)
	})
	go drainLoop(s.f32, p.FeedFloat32)
	go drainLoop(s.i16, p.FeedInt16)
	go drainLoop(s.legacy, func(ctx context.Context, f Food) (int, error) {
		return f.consume(ctx, p)
	})

	slog.Debug("feed sinks started", "depth", sinkDepth)
	return s
}

// drainLoop serializes one sink's submissions through the acceptance
// protocol. It exits when the sink channel is closed on teardown.
func drainLoop[T any](ch <-chan T, feed func(context.Context, T) (int, error)) {
	for item := range ch {
		if _, err := feed(context.Background(), item); err != nil {
			slog.Warn("sink feed failed", "error", err)
		}
	}
}

// closeSinks closes all four channel controllers; their drain goroutines
// finish whatever was already queued and exit.
func (s *sinks) close() {
	close(s.bytes)
	close(s.f32)
	close(s.i16)
	close(s.legacy)
}

const sinkDepth = 16
