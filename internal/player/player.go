// Package player is a playback controller that sits between an application
// and a native audio engine. It serializes the playback verbs (open, start,
// pause, resume, seek, stop, feed, close) against a single shared engine
// handle: each verb issues an asynchronous engine request whose outcome
// arrives later as an out-of-band callback, and the controller guarantees
// at-most-one-in-flight operation of each kind, FIFO verb ordering, and a
// flow-controlled streaming feed protocol.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tapedeck.dev/internal/codec"
	"tapedeck.dev/internal/engine"
)

// State re-exports the engine lifecycle state; the player owns the
// authoritative register and mutates it only from callback handlers and the
// serialized verb sections.
type State = engine.State

const (
	StateNotInitialized = engine.StateNotInitialized
	StateInitializing   = engine.StateInitializing
	StateInitialized    = engine.StateInitialized
	StatePlaying        = engine.StatePlaying
	StatePaused         = engine.StatePaused
	StateStopped        = engine.StateStopped
)

// Defaults applied when start parameters are zero.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// minSubscriptionResolution is the finest progress-update interval the
// engine boundary supports.
const minSubscriptionResolution = 100 * time.Millisecond

// Binder creates the engine bound to the player's callback port. The engine
// is created lazily on first open so a player can be constructed without
// touching audio hardware.
type Binder func(engine.CallbackPort) (engine.Engine, error)

// Option configures a Player.
type Option func(*Player)

// WithBlockSize sets the slice size FeedAll cuts buffers into.
func WithBlockSize(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// WithResponseTimeout bounds every await of an engine callback. Zero (the
// default) waits forever, matching the engine contract; enabling this trades
// the stalled-engine hang for an ErrTimedOut failure.
func WithResponseTimeout(d time.Duration) Option {
	return func(p *Player) { p.timeout = d }
}

// WithLogLevel sets the log level handed to the engine on open.
func WithLogLevel(level slog.Level) Option {
	return func(p *Player) { p.logLevel = level }
}

// WithStopFailureHook registers an observer for engine-side stop failures,
// which the player contract itself swallows.
func WithStopFailureHook(fn func(State)) Option {
	return func(p *Player) { p.onStopFailure = fn }
}

// Player is one playback controller instance bound to one engine handle.
// Instances are independent; all methods are safe for concurrent use.
type Player struct {
	bind Binder
	gate gate

	mu           sync.Mutex // guards the state register and session fields
	eng          engine.Engine
	state        State
	openDone     chan struct{} // non-nil while an open is in flight
	hub          *hub
	sinks        *sinks
	onFinished   func()
	streaming    bool
	pendingFood  int
	lastPosition time.Duration
	positionSeen bool
	subscription time.Duration

	feedMu sync.Mutex // serializes chunk submission across feed entry points

	openSlot   opSlot[struct{}]
	startSlot  opSlot[time.Duration]
	pauseSlot  opSlot[struct{}]
	resumeSlot opSlot[struct{}]
	stopSlot   opSlot[struct{}]
	feedSlot   opSlot[int]

	events chan func()

	logLevel      slog.Level
	blockSize     int
	timeout       time.Duration
	onStopFailure func(State)
}

// New creates a player. The engine is not contacted until Open.
func New(bind Binder, opts ...Option) *Player {
	p := &Player{
		bind:      bind,
		state:     StateNotInitialized,
		blockSize: DefaultBlockSize,
		logLevel:  slog.LevelWarn,
		events:    make(chan func(), 64),
	}
	p.openSlot.name = "open"
	p.startSlot.name = "start"
	p.pauseSlot.name = "pause"
	p.resumeSlot.name = "resume"
	p.stopSlot.name = "stop"
	p.feedSlot.name = "feed"

	for _, opt := range opts {
		opt(p)
	}

	go p.dispatch()

	slog.Debug("player created", "block_size", p.blockSize, "response_timeout", p.timeout)
	return p
}

// State returns the current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsOpen reports whether the player has completed a successful open.
func (p *Player) IsOpen() bool {
	return p.State().IsOpen()
}

func (p *Player) setState(st State) {
	p.mu.Lock()
	old := p.state
	p.state = st
	p.mu.Unlock()
	if old != st {
		slog.Debug("player state changed", "from", old, "to", st)
	}
}

func (p *Player) currentEngine() engine.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng
}

// waitOpen blocks until any in-flight open has completed. This is the inner
// tier of the two-tier waiting discipline: open resolves outside the verb
// gate, so verbs entering the gate afterwards must explicitly wait out the
// open barrier before touching engine state.
func (p *Player) waitOpen(ctx context.Context) error {
	p.mu.Lock()
	done := p.openDone
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureOpen awaits any in-flight open and verifies the player is at least
// Initialized.
func (p *Player) ensureOpen(ctx context.Context) error {
	if err := p.waitOpen(ctx); err != nil {
		return err
	}
	if !p.State().IsOpen() {
		return ErrNotOpen
	}
	return nil
}

// Open initializes the engine session. Open is re-entrant: a second open
// while one is in flight waits for it and returns without issuing a second
// engine request, and opening an already-open player is a no-op.
func (p *Player) Open(ctx context.Context) error {
	var pend *pendingOp[struct{}]
	err := p.gate.do(ctx, func() error {
		if err := p.waitOpen(ctx); err != nil {
			return err
		}
		if p.State().IsOpen() {
			slog.Debug("player already open")
			return nil
		}

		p.mu.Lock()
		if p.eng == nil {
			eng, err := p.bind(p)
			if err != nil {
				p.mu.Unlock()
				return fmt.Errorf("bind engine: %w", err)
			}
			p.eng = eng
		}
		eng := p.eng
		p.openDone = make(chan struct{})
		p.state = StateInitializing
		p.mu.Unlock()

		pend = p.openSlot.begin()
		if _, err := eng.Open(p.logLevel); err != nil {
			p.openSlot.discard(pend)
			pend = nil
			p.failOpen()
			return fmt.Errorf("engine open: %w", err)
		}
		return nil
	})
	if err != nil || pend == nil {
		return err
	}

	_, err = pend.await(ctx, p.timeout)
	if err != nil {
		p.failOpen()
		return err
	}

	p.mu.Lock()
	p.hub = newHub()
	sub := p.subscription
	eng := p.eng
	done := p.openDone
	p.openDone = nil
	p.mu.Unlock()
	if done != nil {
		close(done)
	}

	if sub > 0 {
		if serr := eng.SetSubscriptionDuration(sub); serr != nil {
			slog.Warn("failed to forward subscription duration", "error", serr)
		}
	}

	slog.Info("player opened")
	return nil
}

// failOpen tears down the open barrier after a failed open attempt.
func (p *Player) failOpen() {
	p.mu.Lock()
	if !p.state.IsOpen() {
		p.state = StateNotInitialized
	}
	done := p.openDone
	p.openDone = nil
	p.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// StartOptions describes one playback start request.
type StartOptions struct {
	Codec      codec.Codec
	Source     engine.Source
	SampleRate int // defaults to DefaultSampleRate
	Channels   int // defaults to DefaultChannels

	// OnFinished runs when the media plays to its natural end. When nil,
	// finish triggers an automatic stop instead.
	OnFinished func()
}

// Start begins playback of a file, URI or buffer source and returns the
// media duration reported by the engine. A second Start issued while one is
// outstanding supersedes it: the first caller fails with ErrSuperseded and
// the new request proceeds.
func (p *Player) Start(ctx context.Context, opts StartOptions) (time.Duration, error) {
	if opts.SampleRate == 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Channels == 0 {
		opts.Channels = DefaultChannels
	}

	var pend *pendingOp[time.Duration]
	err := p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		p.onFinished = opts.OnFinished
		p.streaming = false
		p.mu.Unlock()

		pend = p.startSlot.begin()
		if _, err := p.currentEngine().Start(opts.Codec, opts.Source, opts.SampleRate, opts.Channels); err != nil {
			p.startSlot.discard(pend)
			return fmt.Errorf("engine start: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pend.await(ctx, p.timeout)
}

// StartFromMic loops microphone capture straight to the output device.
func (p *Player) StartFromMic(ctx context.Context, sampleRate, channels, bufferSize int) error {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if channels == 0 {
		channels = DefaultChannels
	}
	if bufferSize == 0 {
		bufferSize = DefaultBlockSize
	}

	var pend *pendingOp[time.Duration]
	err := p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		p.onFinished = nil
		p.streaming = false
		p.mu.Unlock()

		pend = p.startSlot.begin()
		if _, err := p.currentEngine().StartFromMic(sampleRate, channels, bufferSize); err != nil {
			p.startSlot.discard(pend)
			return fmt.Errorf("engine start from mic: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	_, err = pend.await(ctx, p.timeout)
	return err
}

// StartFromStream opens a stream-fed playback session: the application
// supplies audio through the feed calls and sinks, flow-controlled by the
// engine's acceptance protocol.
func (p *Player) StartFromStream(ctx context.Context, c codec.Codec, interleaved bool, sampleRate, channels, bufferSize int) error {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if channels == 0 {
		channels = DefaultChannels
	}
	if bufferSize == 0 {
		bufferSize = DefaultBlockSize
	}

	var pend *pendingOp[time.Duration]
	err := p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		p.onFinished = nil
		p.streaming = true
		p.pendingFood = 0
		if p.sinks == nil {
			p.sinks = p.startSinks()
		}
		p.mu.Unlock()

		pend = p.startSlot.begin()
		if _, err := p.currentEngine().StartFromStream(c, interleaved, sampleRate, channels, bufferSize); err != nil {
			p.startSlot.discard(pend)
			p.endFeedSession()
			return fmt.Errorf("engine start from stream: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	_, err = pend.await(ctx, p.timeout)
	if err != nil {
		p.endFeedSession()
	}
	return err
}

// Stop halts playback. Stop is unconditionally safe: it never reports engine
// failures (they are logged and forwarded to the stop-failure hook), is a
// no-op on an unopened or already-stopped player, and may be called any
// number of times.
func (p *Player) Stop(ctx context.Context) error {
	var pend *pendingOp[struct{}]
	err := p.gate.do(ctx, func() error {
		if werr := p.waitOpen(ctx); werr != nil {
			return werr
		}
		if !p.State().IsOpen() {
			slog.Debug("stop on unopened player, nothing to do")
			return nil
		}
		p.endFeedSession()

		pend = p.stopSlot.begin()
		if _, rerr := p.currentEngine().Stop(); rerr != nil {
			p.stopSlot.discard(pend)
			pend = nil
			slog.Warn("engine stop request failed, not propagated", "error", rerr)
			p.notifyStopFailure()
		}
		return nil
	})
	if err != nil {
		return err // context cancellation only
	}
	if pend != nil {
		if _, aerr := pend.await(ctx, p.timeout); aerr != nil {
			slog.Warn("stop completion not confirmed", "error", aerr)
		}
	}
	return nil
}

// Pause suspends playback.
func (p *Player) Pause(ctx context.Context) error {
	return p.completedVerb(ctx, &p.pauseSlot, func(e engine.Engine) (State, error) { return e.Pause() })
}

// Resume continues paused playback.
func (p *Player) Resume(ctx context.Context) error {
	return p.completedVerb(ctx, &p.resumeSlot, func(e engine.Engine) (State, error) { return e.Resume() })
}

// completedVerb is the shared shape of pause/resume: issue inside the gate,
// await the completion callback outside it.
func (p *Player) completedVerb(ctx context.Context, slot *opSlot[struct{}], issue func(engine.Engine) (State, error)) error {
	var pend *pendingOp[struct{}]
	err := p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		pend = slot.begin()
		if _, err := issue(p.currentEngine()); err != nil {
			slot.discard(pend)
			return fmt.Errorf("engine %s: %w", slot.name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	_, err = pend.await(ctx, p.timeout)
	return err
}

// Seek repositions playback. The engine answers synchronously; no completion
// callback is involved.
func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	if position < 0 {
		return fmt.Errorf("%w: negative seek position %v", ErrRange, position)
	}
	return p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		if _, err := p.currentEngine().Seek(position); err != nil {
			return fmt.Errorf("engine seek: %w", err)
		}
		return nil
	})
}

// SetVolume sets the output gain. Volume must be within [0.0, 1.0]; range
// violations are rejected before the engine is contacted.
func (p *Player) SetVolume(ctx context.Context, volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("%w: volume %v outside [0.0, 1.0]", ErrRange, volume)
	}
	return p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		if _, err := p.currentEngine().SetVolume(volume); err != nil {
			return fmt.Errorf("engine set volume: %w", err)
		}
		return nil
	})
}

// SetVolumePan sets gain and stereo pan. Volume must be within [0.0, 1.0]
// and pan within [-1.0, 1.0].
func (p *Player) SetVolumePan(ctx context.Context, volume, pan float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("%w: volume %v outside [0.0, 1.0]", ErrRange, volume)
	}
	if pan < -1.0 || pan > 1.0 {
		return fmt.Errorf("%w: pan %v outside [-1.0, 1.0]", ErrRange, pan)
	}
	return p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		if _, err := p.currentEngine().SetVolumePan(volume, pan); err != nil {
			return fmt.Errorf("engine set volume/pan: %w", err)
		}
		return nil
	})
}

// SetSpeed sets the playback rate. Speed must be non-negative.
func (p *Player) SetSpeed(ctx context.Context, speed float64) error {
	if speed < 0.0 {
		return fmt.Errorf("%w: negative speed %v", ErrRange, speed)
	}
	return p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		if _, err := p.currentEngine().SetSpeed(speed); err != nil {
			return fmt.Errorf("engine set speed: %w", err)
		}
		return nil
	})
}

// SetSubscriptionDuration sets the interval between progress callbacks.
// Intervals below the 100ms engine resolution are clamped up.
func (p *Player) SetSubscriptionDuration(ctx context.Context, interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("%w: negative subscription interval %v", ErrRange, interval)
	}
	if interval > 0 && interval < minSubscriptionResolution {
		slog.Debug("clamping subscription interval to engine resolution",
			"requested", interval, "clamped", minSubscriptionResolution)
		interval = minSubscriptionResolution
	}
	return p.gate.do(ctx, func() error {
		p.mu.Lock()
		p.subscription = interval
		eng := p.eng
		p.mu.Unlock()

		if eng == nil {
			return nil // forwarded on open
		}
		if err := eng.SetSubscriptionDuration(interval); err != nil {
			return fmt.Errorf("engine set subscription duration: %w", err)
		}
		return nil
	})
}

// Progress returns the current position and duration.
func (p *Player) Progress(ctx context.Context) (Disposition, error) {
	var d Disposition
	err := p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		prog, err := p.currentEngine().Progress()
		if err != nil {
			return fmt.Errorf("engine progress: %w", err)
		}
		d = prog
		return nil
	})
	return d, err
}

// IsDecoderSupported reports whether the engine can decode the codec.
func (p *Player) IsDecoderSupported(ctx context.Context, c codec.Codec) (bool, error) {
	var supported bool
	err := p.gate.do(ctx, func() error {
		if err := p.ensureOpen(ctx); err != nil {
			return err
		}
		supported = p.currentEngine().IsDecoderSupported(c)
		return nil
	})
	return supported, err
}

// OnProgress subscribes to the disposition broadcast channel. The returned
// cancel func releases the subscription; the channel closes on cancel or
// player close.
func (p *Player) OnProgress() (<-chan Disposition, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hub == nil {
		return nil, nil, ErrNotOpen
	}
	ch, cancel := p.hub.subscribe()
	return ch, cancel, nil
}

// Close tears the player down: an implicit stop if playing, feed session
// teardown, force-failure of every pending operation (no caller is left
// awaiting forever), engine release, and a reset to NotInitialized. Close is
// idempotent.
func (p *Player) Close(ctx context.Context) error {
	return p.gate.do(ctx, func() error {
		if err := p.waitOpen(ctx); err != nil {
			return err
		}

		p.mu.Lock()
		eng := p.eng
		st := p.state
		p.mu.Unlock()

		if eng == nil && !st.IsOpen() {
			slog.Debug("close on unopened player, no-op")
			return nil
		}

		// Implicit stop before releasing engine resources.
		if st == StatePlaying || st == StatePaused {
			p.stopInGate(ctx)
		}

		p.endFeedSession()

		p.openSlot.abort(ErrShutdown)
		p.startSlot.abort(ErrShutdown)
		p.pauseSlot.abort(ErrShutdown)
		p.resumeSlot.abort(ErrShutdown)
		p.stopSlot.abort(ErrShutdown)
		p.feedSlot.abort(ErrShutdown)

		p.mu.Lock()
		h := p.hub
		p.hub = nil
		p.eng = nil
		p.pendingFood = 0
		p.mu.Unlock()

		if h != nil {
			h.close()
		}
		if eng != nil {
			if err := eng.Close(); err != nil {
				slog.Warn("engine close failed", "error", err)
			}
		}
		p.setState(StateNotInitialized)
		slog.Info("player closed")
		return nil
	})
}

// stopInGate runs the stop sequence for callers already holding the gate.
func (p *Player) stopInGate(ctx context.Context) {
	if !p.State().IsOpen() {
		return
	}
	p.endFeedSession()

	pend := p.stopSlot.begin()
	if _, err := p.currentEngine().Stop(); err != nil {
		p.stopSlot.discard(pend)
		slog.Warn("engine stop request failed, not propagated", "error", err)
		p.notifyStopFailure()
		return
	}
	if _, err := pend.await(ctx, p.timeout); err != nil {
		slog.Warn("stop completion not confirmed", "error", err)
	}
}

// endFeedSession tears down the stream session: the four channel controllers
// close, any feeder suspended on the acceptance future is released with 0,
// and a stored demand is dropped. Runs before the engine stop request.
func (p *Player) endFeedSession() {
	p.mu.Lock()
	s := p.sinks
	p.sinks = nil
	p.streaming = false
	p.pendingFood = 0
	p.mu.Unlock()

	if s != nil {
		s.close()
		slog.Debug("feed session ended")
	}
	if p.feedSlot.resolve(0, nil) {
		slog.Debug("released suspended feeder on session end")
	}
}

func (p *Player) notifyStopFailure() {
	if p.onStopFailure != nil {
		p.onStopFailure(p.State())
	}
}
