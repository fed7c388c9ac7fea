package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"tapedeck.dev/internal/codec"
	"tapedeck.dev/internal/player"
	"tapedeck.dev/internal/tracking"
)

// newFeedCommand creates the feed subcommand
func newFeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Play raw PCM read from stdin",
		Long: `Feed streams raw interleaved PCM from stdin to the audio engine,
honoring the engine's flow control. The stream format defaults to
16-bit signed little-endian; pass --float for 32-bit float samples.`,
		Args: cobra.NoArgs,
		RunE: runFeedE,
	}

	cmd.Flags().Int("rate", player.DefaultSampleRate, "Sample rate in Hz")
	cmd.Flags().Int("channels", player.DefaultChannels, "Channel count")
	cmd.Flags().Bool("float", false, "Interpret input as 32-bit float PCM")

	return cmd
}

func runFeedE(cmd *cobra.Command, args []string) error {
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

	// Raw PCM from an interactive terminal is always a mistake.
	if cmd.InOrStdin() == os.Stdin && cli.isInteractiveTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is a terminal; pipe raw PCM data into feed")
	}

	rate, _ := cmd.Flags().GetInt("rate")
	channels, _ := cmd.Flags().GetInt("channels")
	isFloat, _ := cmd.Flags().GetBool("float")

	streamCodec := codec.CodecPCM16
	if isFloat {
		streamCodec = codec.CodecFloat32
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var stopFailed atomic.Bool
	p := cli.newPlayer(cfg, &stopFailed)
	if err := p.Open(ctx); err != nil {
		return fmt.Errorf("failed to open player: %w", err)
	}
	defer p.Close(context.Background())

	if err := p.SetVolume(ctx, cfg.Volume); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}

	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = player.DefaultBlockSize
	}

	if err := p.StartFromStream(ctx, streamCodec, true, rate, channels, blockSize); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	rec := cli.recorder()
	sessionID := rec.Begin("stdin", streamCodec.String(), cfg.AudioBackend)

	slog.Info("stream started", "codec", streamCodec.String(), "rate", rate, "channels", channels)

	fed, feedErr := pumpStdin(ctx, cmd.InOrStdin(), p, blockSize)

	sampleWidth := 2
	if isFloat {
		sampleWidth = 4
	}
	played := time.Duration(fed) * time.Second / time.Duration(rate*channels*sampleWidth)
	outcome := tracking.OutcomeFinished
	if feedErr != nil {
		outcome = tracking.OutcomeStopped
	}

	if err := p.Stop(context.Background()); err != nil {
		slog.Warn("stop after stream failed", "error", err)
	}
	rec.End(sessionID, outcome, played, stopFailed.Load())

	if feedErr != nil && feedErr != io.EOF {
		return feedErr
	}
	slog.Info("stream complete", "bytes_fed", fed)
	return nil
}

// pumpStdin copies stdin to the player until EOF, cancellation or a feed
// error. Returns the number of bytes the engine accepted.
func pumpStdin(ctx context.Context, in io.Reader, p *player.Player, blockSize int) (int64, error) {
	var total int64
	buf := make([]byte, blockSize)

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			accepted, err := p.FeedAll(ctx, buf[:n])
			total += int64(accepted)
			if err != nil {
				return total, fmt.Errorf("feed failed: %w", err)
			}
			if accepted < n {
				// The stream stopped underneath us; remaining input has
				// nowhere to go.
				slog.Debug("feed truncated", "submitted", n, "accepted", accepted)
				return total, nil
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("stdin read failed: %w", readErr)
		}
	}
}
