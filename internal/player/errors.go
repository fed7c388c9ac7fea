package player

import "errors"

// Error taxonomy for playback verbs. Validation errors (ErrRange, ErrNotOpen)
// are returned before any engine request is issued; engine-reported failures
// surface as ErrEngineRejected through the pending operation's failure path.
var (
	// ErrNotOpen is returned when a state-changing verb is invoked before a
	// successful open.
	ErrNotOpen = errors.New("player is not open")

	// ErrSuperseded resolves a pending operation that was replaced by a newer
	// request of the same kind.
	ErrSuperseded = errors.New("operation superseded by newer request")

	// ErrEngineRejected is returned when the engine callback reports failure
	// for open/start/pause/resume. Stop failures are logged, never returned.
	ErrEngineRejected = errors.New("engine rejected operation")

	// ErrRange is returned for volume/pan/speed arguments outside their
	// documented bounds, before the engine is contacted.
	ErrRange = errors.New("argument out of range")

	// ErrShutdown resolves pending operations force-failed during close.
	ErrShutdown = errors.New("operation killed by player shutdown")

	// ErrTimedOut is returned when a configured response timeout elapses
	// before the engine delivers the matching callback.
	ErrTimedOut = errors.New("engine response timed out")
)
