package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tapedeck.dev/internal/config"
	"tapedeck.dev/internal/tracking"
)

// writeTestConfig writes a config file with file logging and tracking
// disabled so commands do not touch XDG directories during tests.
func writeTestConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	cm := config.NewConfigManager()
	cfg := cm.GetDefaultConfig()
	cfg.FileLogging.Enabled = false
	cfg.Tracking.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := cm.SaveToFile(cfg, path); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cli := NewCLI()
	code := cli.Run(append([]string{"tapedeck"}, args...), strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionFlag(t *testing.T) {
	code, stdout, _ := runCLI(t, "--version")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, Version) {
		t.Errorf("version output %q missing %q", stdout, Version)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	code, _, stderr := runCLI(t, "rewind")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if stderr == "" {
		t.Error("expected an error message on stderr")
	}
}

func TestBackendsCommand(t *testing.T) {
	cfgPath := writeTestConfig(t, nil)

	code, stdout, stderr := runCLI(t, "backends", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr)
	}
	for _, backend := range []string{"auto", "malgo", "system_command"} {
		if !strings.Contains(stdout, backend) {
			t.Errorf("backends output missing %q: %s", backend, stdout)
		}
	}
	if !strings.Contains(stdout, "Configured backend: auto") {
		t.Errorf("backends output missing configured backend: %s", stdout)
	}
}

func TestPlayRejectsMissingFile(t *testing.T) {
	cfgPath := writeTestConfig(t, nil)

	code, _, stderr := runCLI(t, "play", "no-such-file.wav", "--config", cfgPath)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "not found") {
		t.Errorf("stderr %q does not mention missing file", stderr)
	}
}

func TestPlayRejectsBadVolume(t *testing.T) {
	cfgPath := writeTestConfig(t, nil)

	code, _, stderr := runCLI(t, "play", "x.wav", "--config", cfgPath, "--volume", "1.5")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "volume") {
		t.Errorf("stderr %q does not mention volume", stderr)
	}
}

func TestSessionsRequiresTracking(t *testing.T) {
	cfgPath := writeTestConfig(t, nil) // tracking disabled

	code, _, stderr := runCLI(t, "sessions", "--config", cfgPath)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "tracking") {
		t.Errorf("stderr %q does not mention tracking", stderr)
	}
}

func TestSessionsListsRecordedSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	// Seed the database directly.
	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		t.Fatalf("failed to create tracking db: %v", err)
	}
	rec := tracking.NewRecorder(db)
	id := rec.Begin("/media/test.wav", "wav", "malgo")
	rec.End(id, tracking.OutcomeFinished, 0, false)
	db.Close()

	cfgPath := writeTestConfig(t, func(c *config.Config) {
		c.Tracking.Enabled = true
		c.Tracking.DatabasePath = dbPath
	})

	code, stdout, stderr := runCLI(t, "sessions", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr)
	}
	if !strings.Contains(stdout, "/media/test.wav") {
		t.Errorf("sessions output missing recorded source: %s", stdout)
	}
	if !strings.Contains(stdout, "finished") {
		t.Errorf("sessions output missing outcome: %s", stdout)
	}
}

func TestSessionsSummaryJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	rec := tracking.NewRecorder(db)
	rec.End(rec.Begin("a.wav", "wav", "malgo"), tracking.OutcomeFinished, 0, false)
	rec.End(rec.Begin("b.wav", "wav", "malgo"), tracking.OutcomeStopped, 0, true)
	db.Close()

	cfgPath := writeTestConfig(t, func(c *config.Config) {
		c.Tracking.Enabled = true
		c.Tracking.DatabasePath = dbPath
	})

	code, stdout, stderr := runCLI(t, "sessions", "--summary", "--json", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr)
	}
	if !strings.Contains(stdout, `"total_sessions": 2`) {
		t.Errorf("summary JSON missing totals: %s", stdout)
	}
	if !strings.Contains(stdout, `"stop_failures": 1`) {
		t.Errorf("summary JSON missing stop failures: %s", stdout)
	}
}

func TestSessionsIgnoresEmptySince(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	cfgPath := writeTestConfig(t, func(c *config.Config) {
		c.Tracking.Enabled = true
		c.Tracking.DatabasePath = dbPath
	})

	code, _, _ := runCLI(t, "sessions", "--since", "", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("empty --since should be ignored, exit code = %d", code)
	}
}

func TestFeedRejectsTerminalStdin(t *testing.T) {
	if !(&DefaultTerminalDetector{}).IsTerminal(int(os.Stdin.Fd())) {
		t.Skip("stdin is not a terminal in this environment")
	}

	cfgPath := writeTestConfig(t, nil)
	var stdout, stderr bytes.Buffer
	cli := NewCLI()
	code := cli.Run([]string{"tapedeck", "feed", "--config", cfgPath}, os.Stdin, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "terminal") {
		t.Errorf("stderr %q does not mention terminal", stderr.String())
	}
}
