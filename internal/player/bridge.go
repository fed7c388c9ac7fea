package player

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// The callback bridge. The engine adapter invokes these methods from its own
// delivery path; every inbound callback is funneled through a single dispatch
// goroutine so handlers never run concurrently and state mutation stays
// strictly serialized, making the "engine never calls back concurrently"
// assumption explicit. Handlers never raise: a duplicate or late callback
// that finds its pending slot already gone logs and no-ops, because callbacks
// are inherently racy with respect to teardown.

// post enqueues one callback handler for serialized dispatch. The dispatcher
// runs for the lifetime of the player, so delivery never blocks the engine
// for long.
func (p *Player) post(name string, fn func()) {
	slog.Debug("engine callback received", "callback", name)
	p.events <- fn
}

// dispatch runs callback handlers one at a time, in arrival order.
func (p *Player) dispatch() {
	for fn := range p.events {
		fn()
	}
}

// OpenCompleted resolves a pending open.
func (p *Player) OpenCompleted(state State, success bool) {
	p.post("openCompleted", func() {
		p.setState(state)
		if success {
			if !p.openSlot.resolve(struct{}{}, nil) {
				slog.Debug("openCompleted with no pending open")
			}
			return
		}
		if !p.openSlot.fail(fmt.Errorf("%w: open", ErrEngineRejected)) {
			slog.Debug("openCompleted failure with no pending open")
		}
	})
}

// StartCompleted resolves a pending start with the media duration.
func (p *Player) StartCompleted(state State, success bool, duration time.Duration) {
	p.post("startCompleted", func() {
		p.setState(state)
		p.mu.Lock()
		p.lastPosition = 0
		p.positionSeen = false
		p.mu.Unlock()
		if success {
			if !p.startSlot.resolve(duration, nil) {
				slog.Debug("startCompleted with no pending start")
			}
			return
		}
		if !p.startSlot.fail(fmt.Errorf("%w: start", ErrEngineRejected)) {
			slog.Debug("startCompleted failure with no pending start")
		}
	})
}

// PauseCompleted resolves a pending pause.
func (p *Player) PauseCompleted(state State, success bool) {
	p.post("pauseCompleted", func() {
		p.setState(state)
		if success {
			if !p.pauseSlot.resolve(struct{}{}, nil) {
				slog.Debug("pauseCompleted with no pending pause")
			}
			return
		}
		if !p.pauseSlot.fail(fmt.Errorf("%w: pause", ErrEngineRejected)) {
			slog.Debug("pauseCompleted failure with no pending pause")
		}
	})
}

// ResumeCompleted resolves a pending resume.
func (p *Player) ResumeCompleted(state State, success bool) {
	p.post("resumeCompleted", func() {
		p.setState(state)
		if success {
			if !p.resumeSlot.resolve(struct{}{}, nil) {
				slog.Debug("resumeCompleted with no pending resume")
			}
			return
		}
		if !p.resumeSlot.fail(fmt.Errorf("%w: resume", ErrEngineRejected)) {
			slog.Debug("resumeCompleted failure with no pending resume")
		}
	})
}

// StopCompleted resolves a pending stop. Stop is unconditionally safe: an
// engine-reported stop failure is logged and surfaced to the stop-failure
// hook for higher observability layers, but the stop caller always succeeds.
func (p *Player) StopCompleted(state State, success bool) {
	p.post("stopCompleted", func() {
		p.setState(state)
		if !success {
			slog.Warn("engine reported stop failure, not propagated", "state", state)
			if p.onStopFailure != nil {
				p.onStopFailure(state)
			}
		}
		if !p.stopSlot.resolve(struct{}{}, nil) {
			slog.Debug("stopCompleted with no pending stop")
		}
	})
}

// PlaybackFinished handles natural end of media: the finished hook runs if
// one was registered, otherwise stop is triggered automatically.
func (p *Player) PlaybackFinished(state State) {
	p.post("playbackFinished", func() {
		p.setState(state)

		p.mu.Lock()
		hook := p.onFinished
		p.mu.Unlock()

		if hook != nil {
			go hook()
			return
		}
		go func() {
			if err := p.Stop(context.Background()); err != nil {
				slog.Warn("automatic stop after finish failed", "error", err)
			}
		}()
	})
}

// ProgressUpdate publishes one disposition to the broadcast channel.
// Positions must be non-decreasing within a session; a violation is an
// engine defect and is logged, never corrected.
func (p *Player) ProgressUpdate(position, duration time.Duration) {
	p.post("progressUpdate", func() {
		p.mu.Lock()
		if p.positionSeen && position < p.lastPosition {
			slog.Error("non-monotonic playback position from engine",
				"position", position, "previous", p.lastPosition)
		}
		p.lastPosition = position
		p.positionSeen = true
		h := p.hub
		p.mu.Unlock()

		if h != nil {
			h.publish(Disposition{Position: position, Duration: duration})
		}
	})
}

// NeedMoreData resolves the outstanding feed-acceptance future, or stores the
// demand for the next feed call to consume immediately.
func (p *Player) NeedMoreData(amount int) {
	p.post("needMoreData", func() {
		if p.feedSlot.resolve(amount, nil) {
			return
		}
		p.mu.Lock()
		p.pendingFood = amount
		p.mu.Unlock()
		slog.Debug("stored engine data demand for next feed", "amount", amount)
	})
}

// Log forwards an engine-side log line.
func (p *Player) Log(level slog.Level, message string) {
	slog.Log(context.Background(), level, "engine log", "message", message)
}
