package tracking

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is one completed or in-flight playback session
type SessionRecord struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Source     string     `json:"source"`
	Codec      string     `json:"codec"`
	Backend    string     `json:"backend"`
	PlayedMs   int64      `json:"played_ms"`
	Outcome    string     `json:"outcome,omitempty"`
	StopFailed bool       `json:"stop_failed"`
}

// GetRecentSessions queries the database for playback sessions, newest first
func GetRecentSessions(db *sql.DB, filter QueryFilter) ([]SessionRecord, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	baseQuery := `
		SELECT id, started_at, ended_at, source, codec, backend, duration_ms, outcome, stop_failed
		FROM play_sessions`

	whereClause, args := filter.BuildWhereClause()
	if whereClause != "" {
		baseQuery += " WHERE " + whereClause
	}

	baseQuery += " ORDER BY started_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	baseQuery += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := db.Query(baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var results []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var startedAt int64
		var endedAt sql.NullInt64
		var outcome sql.NullString
		var stopFailed int

		err := rows.Scan(&rec.ID, &startedAt, &endedAt, &rec.Source, &rec.Codec,
			&rec.Backend, &rec.PlayedMs, &outcome, &stopFailed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		rec.StartedAt = time.Unix(startedAt, 0)
		if endedAt.Valid {
			t := time.Unix(endedAt.Int64, 0)
			rec.EndedAt = &t
		}
		if outcome.Valid {
			rec.Outcome = outcome.String
		}
		rec.StopFailed = stopFailed == 1

		results = append(results, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return results, nil
}

// SessionSummary aggregates playback sessions over a filter window
type SessionSummary struct {
	TotalSessions int            `json:"total_sessions"`
	ByOutcome     map[string]int `json:"by_outcome"`
	ByBackend     map[string]int `json:"by_backend"`
	StopFailures  int            `json:"stop_failures"`
	TotalPlayedMs int64          `json:"total_played_ms"`
}

// GetSessionSummary returns aggregate statistics about playback sessions
func GetSessionSummary(db *sql.DB, filter QueryFilter) (*SessionSummary, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	whereClause, args := filter.BuildWhereClause()
	where := ""
	if whereClause != "" {
		where = " WHERE " + whereClause
	}

	summary := &SessionSummary{
		ByOutcome: make(map[string]int),
		ByBackend: make(map[string]int),
	}

	row := db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(duration_ms), 0),
		       COALESCE(SUM(stop_failed), 0)
		FROM play_sessions`+where, args...)
	if err := row.Scan(&summary.TotalSessions, &summary.TotalPlayedMs, &summary.StopFailures); err != nil {
		return nil, fmt.Errorf("failed to query session totals: %w", err)
	}

	rows, err := db.Query(`
		SELECT COALESCE(outcome, 'pending'), COUNT(*)
		FROM play_sessions`+where+`
		GROUP BY outcome`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		summary.ByOutcome[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome rows: %w", err)
	}

	backendRows, err := db.Query(`
		SELECT backend, COUNT(*)
		FROM play_sessions`+where+`
		GROUP BY backend`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backend breakdown: %w", err)
	}
	defer backendRows.Close()
	for backendRows.Next() {
		var backend string
		var count int
		if err := backendRows.Scan(&backend, &count); err != nil {
			return nil, fmt.Errorf("failed to scan backend row: %w", err)
		}
		summary.ByBackend[backend] = count
	}
	if err := backendRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backend rows: %w", err)
	}

	return summary, nil
}
