package tracking

import (
	"database/sql"
	"log/slog"
	"time"
)

// Outcome names the terminal state of a recorded playback session.
type Outcome string

const (
	OutcomeFinished Outcome = "finished" // playback reached the end of the source
	OutcomeStopped  Outcome = "stopped"  // playback was stopped or superseded
	OutcomeFailed   Outcome = "failed"   // the engine rejected or aborted playback
)

// Recorder writes playback sessions to the database. Recording is best
// effort: the first database error disables the recorder so playback is
// never held up by tracking.
type Recorder struct {
	db       *sql.DB
	disabled bool
}

// NewRecorder creates a recorder backed by the given database
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Begin records the start of a playback session and returns its row id.
// Returns 0 when the recorder is disabled.
func (r *Recorder) Begin(source, codec, backend string) int64 {
	if r.disabled || r.db == nil {
		return 0
	}

	result, err := r.db.Exec(`
		INSERT INTO play_sessions (started_at, source, codec, backend)
		VALUES (?, ?, ?, ?)`,
		time.Now().Unix(), source, codec, backend)
	if err != nil {
		slog.Warn("session tracking failed to record start", "error", err, "source", source)
		r.disabled = true
		return 0
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Warn("session tracking failed to read session id", "error", err)
		r.disabled = true
		return 0
	}

	slog.Debug("session tracking recorded start",
		"session_id", id,
		"source", source,
		"codec", codec,
		"backend", backend)
	return id
}

// End records the terminal state of a session started with Begin. A zero
// id is a no-op so callers can pass through a disabled recorder's result.
func (r *Recorder) End(id int64, outcome Outcome, played time.Duration, stopFailed bool) {
	if r.disabled || r.db == nil || id == 0 {
		return
	}

	failed := 0
	if stopFailed {
		failed = 1
	}

	_, err := r.db.Exec(`
		UPDATE play_sessions
		SET ended_at = ?, duration_ms = ?, outcome = ?, stop_failed = ?
		WHERE id = ?`,
		time.Now().Unix(), played.Milliseconds(), string(outcome), failed, id)
	if err != nil {
		slog.Warn("session tracking failed to record end", "error", err, "session_id", id)
		r.disabled = true
		return
	}

	slog.Debug("session tracking recorded end",
		"session_id", id,
		"outcome", outcome,
		"played_ms", played.Milliseconds(),
		"stop_failed", stopFailed)
}
