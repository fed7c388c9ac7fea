package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tapedeck.dev/internal/tracking"
)

// newSessionsCommand creates the sessions subcommand
func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show recorded playback sessions",
		Long: `Sessions lists recent playback sessions from the tracking database,
including how each one ended and whether the engine failed to stop.`,
		Args: cobra.NoArgs,
		RunE: runSessionsE,
	}

	cmd.Flags().Int("days", 0, "Only sessions from the last N days")
	cmd.Flags().String("since", "", "Only sessions since a natural-language time (\"yesterday\", \"last monday\")")
	cmd.Flags().String("preset", "", "Date preset (today/yesterday/week/month/all)")
	cmd.Flags().String("outcome", "", "Filter by outcome (finished/stopped/failed)")
	cmd.Flags().String("backend", "", "Filter by engine backend")
	cmd.Flags().Bool("stop-failures", false, "Only sessions whose stop request failed")
	cmd.Flags().Int("limit", 20, "Maximum sessions to show")
	cmd.Flags().Bool("summary", false, "Show aggregate statistics instead of a listing")
	cmd.Flags().Bool("json", false, "Output JSON")

	return cmd
}

func runSessionsE(cmd *cobra.Command, args []string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		return fmt.Errorf("CLI instance not found in context")
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}
	setupLogging(cfg, cmd.ErrOrStderr())
	cli.initializeTracking(cfg)

	if cli.trackingDB == nil {
		return fmt.Errorf("session tracking is disabled or its database is unavailable")
	}

	filter, err := buildSessionFilter(cmd)
	if err != nil {
		return err
	}

	summary, _ := cmd.Flags().GetBool("summary")
	asJSON, _ := cmd.Flags().GetBool("json")

	if summary {
		result, err := tracking.GetSessionSummary(cli.trackingDB, filter)
		if err != nil {
			return fmt.Errorf("failed to summarize sessions: %w", err)
		}
		if asJSON {
			return printJSON(cmd, result)
		}
		printSummary(cmd, result)
		return nil
	}

	sessions, err := tracking.GetRecentSessions(cli.trackingDB, filter)
	if err != nil {
		return fmt.Errorf("failed to query sessions: %w", err)
	}
	if asJSON {
		return printJSON(cmd, sessions)
	}
	printSessions(cmd, sessions)
	return nil
}

// buildSessionFilter translates command flags into a tracking query filter
func buildSessionFilter(cmd *cobra.Command) (tracking.QueryFilter, error) {
	days, _ := cmd.Flags().GetInt("days")
	since, _ := cmd.Flags().GetString("since")
	preset, _ := cmd.Flags().GetString("preset")
	outcome, _ := cmd.Flags().GetString("outcome")
	backend, _ := cmd.Flags().GetString("backend")
	stopFailures, _ := cmd.Flags().GetBool("stop-failures")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := tracking.QueryFilter{
		Days:       days,
		DatePreset: preset,
		Outcome:    outcome,
		Backend:    backend,
		StopFailed: stopFailures,
		Limit:      limit,
	}

	if since != "" {
		start, err := tracking.ParseNaturalDate(since)
		if err != nil {
			return filter, fmt.Errorf("invalid --since value: %w", err)
		}
		filter.StartTime = &start
	}

	return filter, nil
}

func printSessions(cmd *cobra.Command, sessions []tracking.SessionRecord) {
	if len(sessions) == 0 {
		cmd.Println("No sessions recorded.")
		return
	}

	for _, s := range sessions {
		outcome := s.Outcome
		if outcome == "" {
			outcome = "pending"
		}
		line := fmt.Sprintf("%s  %-8s  %-14s  %-10s  %s",
			s.StartedAt.Format("2006-01-02 15:04:05"),
			outcome,
			s.Backend,
			(time.Duration(s.PlayedMs) * time.Millisecond).Round(time.Millisecond),
			s.Source)
		if s.StopFailed {
			line += "  [stop failed]"
		}
		cmd.Println(line)
	}
}

func printSummary(cmd *cobra.Command, summary *tracking.SessionSummary) {
	cmd.Printf("Total sessions:  %d\n", summary.TotalSessions)
	cmd.Printf("Total played:    %s\n", (time.Duration(summary.TotalPlayedMs) * time.Millisecond).Round(time.Second))
	cmd.Printf("Stop failures:   %d\n", summary.StopFailures)

	if len(summary.ByOutcome) > 0 {
		cmd.Println("By outcome:")
		for outcome, count := range summary.ByOutcome {
			cmd.Printf("  %-10s %d\n", outcome, count)
		}
	}
	if len(summary.ByBackend) > 0 {
		cmd.Println("By backend:")
		for backend, count := range summary.ByBackend {
			cmd.Printf("  %-16s %d\n", backend, count)
		}
	}
}
