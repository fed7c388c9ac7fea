package tracking

import (
	"testing"
	"time"
)

func seedSessions(t *testing.T, rec *Recorder) {
	t.Helper()
	id1 := rec.Begin("a.wav", "wav", "malgo")
	rec.End(id1, OutcomeFinished, 2*time.Second, false)

	id2 := rec.Begin("b.mp3", "mp3", "malgo")
	rec.End(id2, OutcomeStopped, time.Second, true)

	id3 := rec.Begin("c.mp3", "mp3", "system_command")
	rec.End(id3, OutcomeFailed, 0, false)
}

func TestGetRecentSessions(t *testing.T) {
	db := openTestDB(t)
	seedSessions(t, NewRecorder(db))

	sessions, err := GetRecentSessions(db, QueryFilter{})
	if err != nil {
		t.Fatalf("GetRecentSessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("session count = %d, want 3", len(sessions))
	}
	for _, s := range sessions {
		if s.EndedAt == nil {
			t.Errorf("session %d missing ended_at", s.ID)
		}
	}
}

func TestGetRecentSessionsFiltered(t *testing.T) {
	db := openTestDB(t)
	seedSessions(t, NewRecorder(db))

	sessions, err := GetRecentSessions(db, QueryFilter{Backend: "malgo", Outcome: "stopped"})
	if err != nil {
		t.Fatalf("GetRecentSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("session count = %d, want 1", len(sessions))
	}
	if sessions[0].Source != "b.mp3" || !sessions[0].StopFailed {
		t.Errorf("wrong session matched: %+v", sessions[0])
	}
}

func TestGetRecentSessionsLimit(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db)
	for i := 0; i < 5; i++ {
		id := rec.Begin("x.wav", "wav", "malgo")
		rec.End(id, OutcomeFinished, 0, false)
	}

	sessions, err := GetRecentSessions(db, QueryFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Errorf("session count = %d, want 2", len(sessions))
	}
}

func TestGetSessionSummary(t *testing.T) {
	db := openTestDB(t)
	seedSessions(t, NewRecorder(db))

	summary, err := GetSessionSummary(db, QueryFilter{})
	if err != nil {
		t.Fatalf("GetSessionSummary failed: %v", err)
	}
	if summary.TotalSessions != 3 {
		t.Errorf("total = %d, want 3", summary.TotalSessions)
	}
	if summary.StopFailures != 1 {
		t.Errorf("stop failures = %d, want 1", summary.StopFailures)
	}
	if summary.TotalPlayedMs != 3000 {
		t.Errorf("total played = %dms, want 3000ms", summary.TotalPlayedMs)
	}
	if summary.ByOutcome["finished"] != 1 || summary.ByOutcome["stopped"] != 1 || summary.ByOutcome["failed"] != 1 {
		t.Errorf("outcome breakdown = %v", summary.ByOutcome)
	}
	if summary.ByBackend["malgo"] != 2 || summary.ByBackend["system_command"] != 1 {
		t.Errorf("backend breakdown = %v", summary.ByBackend)
	}
}

func TestSummaryNilDatabase(t *testing.T) {
	if _, err := GetSessionSummary(nil, QueryFilter{}); err == nil {
		t.Error("nil database accepted")
	}
	if _, err := GetRecentSessions(nil, QueryFilter{}); err == nil {
		t.Error("nil database accepted")
	}
}
