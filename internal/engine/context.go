package engine

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// audioContext wraps malgo.AllocatedContext with lifecycle management. One
// context can back many devices; each malgo engine owns one.
type audioContext struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func newAudioContext(port CallbackPort) (*audioContext, error) {
	slog.Debug("initializing audio context")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		if port != nil {
			port.Log(slog.LevelDebug, message)
		} else {
			slog.Debug("malgo internal", "message", message)
		}
	})
	if err != nil {
		slog.Error("failed to initialize audio context", "error", err)
		return nil, err
	}

	slog.Debug("audio context initialized")
	return &audioContext{ctx: ctx}, nil
}

func (c *audioContext) raw() *malgo.AllocatedContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *audioContext) valid() bool {
	return c.raw() != nil
}

// close releases the context. malgo requires both Uninit and Free.
func (c *audioContext) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		slog.Debug("audio context already closed")
		return nil
	}
	if err := c.ctx.Uninit(); err != nil {
		slog.Error("failed to uninitialize audio context", "error", err)
		return err
	}
	c.ctx.Free()
	c.ctx = nil

	slog.Debug("audio context closed")
	return nil
}
