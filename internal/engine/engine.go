package engine

import (
	"errors"
	"log/slog"
	"time"

	"tapedeck.dev/internal/codec"
)

// Common errors shared by Engine implementations
var (
	ErrNotAvailable = errors.New("audio engine not available")
	ErrClosed       = errors.New("audio engine is closed")
	ErrNotSupported = errors.New("operation not supported by this engine")
)

// State is the player lifecycle state as reported by the engine. The player
// core owns the authoritative copy; engines report transitions through the
// CallbackPort and may echo the state on request calls.
type State int

const (
	StateNotInitialized State = iota
	StateInitializing
	StateInitialized
	StatePlaying
	StatePaused
	StateStopped
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "NotInitialized"
	case StateInitializing:
		return "Initializing"
	case StateInitialized:
		return "Initialized"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsOpen reports whether the state allows state-changing verbs
// (Initialized or better).
func (s State) IsOpen() bool {
	switch s {
	case StateInitialized, StatePlaying, StatePaused, StateStopped:
		return true
	}
	return false
}

// StateFromCode maps a raw engine state code to a State.
func StateFromCode(code int) (State, bool) {
	if code < int(StateNotInitialized) || code > int(StateStopped) {
		return StateNotInitialized, false
	}
	return State(code), true
}

// Disposition is a (position, duration) snapshot of playback progress.
type Disposition struct {
	Position time.Duration
	Duration time.Duration
}

// Source identifies the audio to play: either a file path / URI or an
// in-memory buffer. The engine treats both as opaque.
type Source struct {
	Path   string
	Buffer []byte
}

// IsBuffer reports whether the source carries in-memory audio data.
func (s Source) IsBuffer() bool {
	return len(s.Buffer) > 0
}

// Engine is the request surface of the native audio backend. Requests return
// quickly; verb outcomes arrive asynchronously on the CallbackPort the engine
// was constructed with. Feed calls are the exception: they synchronously
// report the number of bytes accepted (0 means the engine buffer is full and
// a NeedMoreData callback will follow).
type Engine interface {
	Open(level slog.Level) (State, error)
	Start(c codec.Codec, src Source, sampleRate, channels int) (State, error)
	StartFromMic(sampleRate, channels, bufferSize int) (State, error)
	StartFromStream(c codec.Codec, interleaved bool, sampleRate, channels, bufferSize int) (State, error)

	Feed(data []byte) (int, error)
	FeedFloat32(blocks [][]float32) (int, error)
	FeedInt16(blocks [][]int16) (int, error)

	Pause() (State, error)
	Resume() (State, error)
	Stop() (State, error)
	Seek(position time.Duration) (State, error)

	SetVolume(volume float64) (State, error)
	SetVolumePan(volume, pan float64) (State, error)
	SetSpeed(speed float64) (State, error)
	SetSubscriptionDuration(interval time.Duration) error

	Progress() (Disposition, error)
	IsDecoderSupported(c codec.Codec) bool
	ResourcePath() (string, error)

	Close() error
}

// CallbackPort is the inbound half of the engine boundary: the set of
// callbacks an engine adapter invokes on the player core. Adapters MUST
// deliver callbacks one at a time for a given player; two callbacks for the
// same instance must never run concurrently. The port methods themselves
// never block for long and never panic on late or duplicate delivery.
type CallbackPort interface {
	OpenCompleted(state State, success bool)
	StartCompleted(state State, success bool, duration time.Duration)
	PauseCompleted(state State, success bool)
	ResumeCompleted(state State, success bool)
	StopCompleted(state State, success bool)
	PlaybackFinished(state State)
	ProgressUpdate(position, duration time.Duration)
	NeedMoreData(amount int)
	Log(level slog.Level, message string)
}
