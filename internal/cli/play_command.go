package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"tapedeck.dev/internal/engine"
	"tapedeck.dev/internal/player"
	"tapedeck.dev/internal/tracking"
)

// newPlayCommand creates the play subcommand
func newPlayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play FILE [FILE...]",
		Short: "Play one or more audio files",
		Long: `Play decodes each file (WAV, AIFF or MP3) and plays it to completion.
Bare names are searched in the configured media directories.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPlayE,
	}

	cmd.Flags().Float64("pan", 0, "Stereo pan (-1.0 left to 1.0 right)")
	cmd.Flags().Float64("speed", 0, "Playback speed multiplier (0 = config default)")
	cmd.Flags().Duration("seek", 0, "Seek to this position before playback")
	cmd.Flags().Bool("progress", false, "Print progress updates while playing")

	return cmd
}

func runPlayE(cmd *cobra.Command, args []string) error {
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

	pan, _ := cmd.Flags().GetFloat64("pan")
	speed, _ := cmd.Flags().GetFloat64("speed")
	seek, _ := cmd.Flags().GetDuration("seek")
	showProgress, _ := cmd.Flags().GetBool("progress")
	if speed == 0 {
		speed = cfg.Speed
	}

	// Resolve every file before touching the engine so a bad argument
	// fails without starting audio.
	loader := newMediaLoader(cfg)
	media := make([]*LoadedMedia, 0, len(args))
	for _, arg := range args {
		m, err := loader.Load(arg)
		if err != nil {
			return err
		}
		media = append(media, m)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var stopFailed atomic.Bool
	p := cli.newPlayer(cfg, &stopFailed)
	if err := p.Open(ctx); err != nil {
		return fmt.Errorf("failed to open player: %w", err)
	}
	defer p.Close(context.Background())

	if err := p.SetVolumePan(ctx, cfg.Volume, pan); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	if speed != 1.0 {
		if err := p.SetSpeed(ctx, speed); err != nil {
			return fmt.Errorf("failed to set speed: %w", err)
		}
	}

	interval := time.Second
	if cfg.SubscriptionMs > 0 {
		interval = time.Duration(cfg.SubscriptionMs) * time.Millisecond
	}

	rec := cli.recorder()

	for _, m := range media {
		session := playSession{
			p:          p,
			rec:        rec,
			backend:    cfg.AudioBackend,
			media:      m,
			seek:       seek,
			interval:   interval,
			progress:   showProgress,
			stopFailed: &stopFailed,
		}
		if err := session.run(ctx, cmd); err != nil {
			return err
		}
		seek = 0 // seek applies to the first file only
	}

	return nil
}

// playSession plays a single resolved media file to completion or
// interruption and records the outcome
type playSession struct {
	p          *player.Player
	rec        *tracking.Recorder
	backend    string
	media      *LoadedMedia
	seek       time.Duration
	interval   time.Duration
	progress   bool
	stopFailed *atomic.Bool
}

func (s *playSession) run(ctx context.Context, cmd *cobra.Command) error {
	p, rec, media := s.p, s.rec, s.media
	fullPath := media.Path

	finished := make(chan struct{})
	duration, err := p.Start(ctx, player.StartOptions{
		Codec:      media.Codec,
		Source:     engine.Source{Path: fullPath},
		OnFinished: func() { close(finished) },
	})

	sessionID := rec.Begin(fullPath, media.Codec.String(), s.backend)
	if err != nil {
		rec.End(sessionID, tracking.OutcomeFailed, 0, false)
		return fmt.Errorf("failed to start playback of %s: %w", fullPath, err)
	}

	slog.Info("playback started", "path", fullPath, "duration", duration)
	cmd.Printf("Playing %s (%s)\n", fullPath, duration.Round(time.Second))

	if s.seek > 0 {
		if err := p.Seek(ctx, s.seek); err != nil {
			slog.Warn("seek failed", "position", s.seek, "error", err)
		}
	}

	var progressCh <-chan player.Disposition
	var cancelProgress func()
	if s.progress {
		if err := p.SetSubscriptionDuration(ctx, s.interval); err == nil {
			progressCh, cancelProgress, err = p.OnProgress()
			if err != nil {
				progressCh = nil
			}
		}
	}
	if cancelProgress != nil {
		defer cancelProgress()
	}

	for {
		select {
		case <-finished:
			slog.Debug("playback finished", "path", fullPath)
			if err := p.Stop(ctx); err != nil {
				rec.End(sessionID, tracking.OutcomeFinished, duration, s.stopFailed.Load())
				return err
			}
			rec.End(sessionID, tracking.OutcomeFinished, duration, s.stopFailed.Load())
			return nil

		case d, ok := <-progressCh:
			if !ok {
				progressCh = nil
				continue
			}
			cmd.Printf("\r%s / %s", d.Position.Round(time.Second), d.Duration.Round(time.Second))

		case <-ctx.Done():
			played := playedSoFar(p)
			if err := p.Stop(context.Background()); err != nil {
				slog.Warn("stop after interrupt failed", "error", err)
			}
			rec.End(sessionID, tracking.OutcomeStopped, played, s.stopFailed.Load())
			return ctx.Err()
		}
	}
}

// playedSoFar reads the current position, best effort
func playedSoFar(p *player.Player) time.Duration {
	queryCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := p.Progress(queryCtx)
	if err != nil {
		return 0
	}
	return d.Position
}
