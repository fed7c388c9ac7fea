package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"tapedeck.dev/internal/codec"
)

// CommandEngine renders audio by delegating to a system audio command
// (paplay, ffplay, aplay or afplay). It is the fallback backend for
// environments where in-process rendering misbehaves, such as WSL. Seeking
// and live speed changes are not supported; pause and resume are implemented
// by stopping and continuing the child process.
type CommandEngine struct {
	port    CallbackPort
	command string
	reg     *codec.Registry

	mu        sync.Mutex
	state     State
	closed    bool
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	tempPath  string
	ring      *byteRing
	stream    bool
	lowWater  int
	demand    bool
	gen       int
	volume    float64
	interval  time.Duration
	startedAt time.Time
	pausedAt  time.Time
	pausedFor time.Duration

	emit chan func()
	done chan struct{}
}

// NewCommand creates a system-command engine using the given audio command.
func NewCommand(port CallbackPort, command string) *CommandEngine {
	slog.Debug("creating system command engine", "command", command)
	e := &CommandEngine{
		port:    port,
		command: command,
		reg:     codec.NewDefaultRegistry(),
		state:   StateNotInitialized,
		volume:  1.0,
		emit:    make(chan func(), 256),
		done:    make(chan struct{}),
	}
	go e.emitLoop()
	go e.progressLoop()
	return e
}

func (e *CommandEngine) post(fn func()) {
	select {
	case <-e.done:
	case e.emit <- fn:
	}
}

func (e *CommandEngine) emitLoop() {
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.emit:
			fn()
		}
	}
}

func (e *CommandEngine) progressLoop() {
	tick := time.NewTicker(progressTick)
	defer tick.Stop()

	var since time.Duration
	for {
		select {
		case <-e.done:
			return
		case <-tick.C:
			e.mu.Lock()
			interval, st := e.interval, e.state
			pos := e.elapsedLocked()
			e.mu.Unlock()
			if interval <= 0 || st != StatePlaying {
				since = 0
				continue
			}
			since += progressTick
			if since < interval {
				continue
			}
			since = 0
			e.post(func() { e.port.ProgressUpdate(pos, 0) })
		}
	}
}

// elapsedLocked approximates the playback position from wall time, net of
// paused intervals. Callers hold e.mu.
func (e *CommandEngine) elapsedLocked() time.Duration {
	if e.startedAt.IsZero() {
		return 0
	}
	elapsed := time.Since(e.startedAt) - e.pausedFor
	if !e.pausedAt.IsZero() {
		elapsed -= time.Since(e.pausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

// Open verifies the command exists. No process is launched until Start.
func (e *CommandEngine) Open(level slog.Level) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return StateNotInitialized, ErrClosed
	}
	if !CommandExists(e.command) {
		return StateNotInitialized, fmt.Errorf("%w: %s not found", ErrNotAvailable, e.command)
	}
	e.state = StateInitializing
	e.post(func() {
		e.setState(StateInitialized)
		e.port.OpenCompleted(StateInitialized, true)
	})
	return StateInitializing, nil
}

func (e *CommandEngine) setState(st State) {
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
}

// playArgs builds the per-command argument list for playing a file.
func (e *CommandEngine) playArgs(path string) []string {
	switch e.command {
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", path}
	case "paplay":
		// paplay volume is 0..65536 linear.
		vol := int(e.volume * 65536)
		return []string{"--volume=" + strconv.Itoa(vol), path}
	default: // aplay, afplay
		return []string{path}
	}
}

// streamArgs builds the argument list for raw s16le playback from stdin.
func (e *CommandEngine) streamArgs(sampleRate, channels int) ([]string, error) {
	rate := strconv.Itoa(sampleRate)
	ch := strconv.Itoa(channels)
	switch e.command {
	case "paplay":
		return []string{"--raw", "--format=s16le", "--rate=" + rate, "--channels=" + ch}, nil
	case "aplay":
		return []string{"-f", "S16_LE", "-r", rate, "-c", ch, "-q"}, nil
	case "ffplay":
		return []string{"-f", "s16le", "-ar", rate, "-ac", ch, "-nodisp", "-loglevel", "quiet", "-i", "pipe:0"}, nil
	default:
		return nil, fmt.Errorf("%w: %s cannot play raw streams", ErrNotSupported, e.command)
	}
}

// Start plays a file or buffer source through the configured command. Buffer
// sources are staged in a temporary file first.
func (e *CommandEngine) Start(c codec.Codec, src Source, sampleRate, channels int) (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	e.mu.Unlock()

	go func() {
		path := src.Path
		var tempPath string
		if src.IsBuffer() {
			staged, err := stageBuffer(src.Buffer, c)
			if err != nil {
				slog.Error("failed to stage buffer source", "error", err)
				e.post(func() { e.port.StartCompleted(StateInitialized, false, 0) })
				return
			}
			path = staged
			tempPath = staged
		}
		if err := e.launch(e.playArgs(path), nil, tempPath); err != nil {
			slog.Error("failed to launch audio command", "command", e.command, "error", err)
			e.post(func() { e.port.StartCompleted(StateInitialized, false, 0) })
			return
		}
		e.post(func() {
			e.setState(StatePlaying)
			e.port.StartCompleted(StatePlaying, true, 0)
		})
	}()
	return StateInitialized, nil
}

// StartFromStream launches the command reading raw s16le from stdin, fed
// through a ring buffer and pump goroutine.
func (e *CommandEngine) StartFromStream(c codec.Codec, interleaved bool, sampleRate, channels, bufferSize int) (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	e.mu.Unlock()

	if c == codec.CodecFloat32 {
		return e.currentState(), fmt.Errorf("%w: float32 streams", ErrNotSupported)
	}
	args, err := e.streamArgs(sampleRate, channels)
	if err != nil {
		return e.currentState(), err
	}

	frameBytes := channels * 2
	ringCap := bufferSize * frameBytes
	if ringCap < 4096 {
		ringCap = 4096
	}
	ring := newByteRing(ringCap * 2)

	if err := e.launch(args, ring, ""); err != nil {
		slog.Error("failed to launch stream command", "command", e.command, "error", err)
		e.post(func() { e.port.StartCompleted(StateInitialized, false, 0) })
		return StateInitialized, nil
	}

	e.mu.Lock()
	e.stream = true
	e.ring = ring
	e.lowWater = ringCap
	e.demand = false
	e.mu.Unlock()

	e.post(func() {
		e.setState(StatePlaying)
		e.port.StartCompleted(StatePlaying, true, 0)
	})
	return StateInitialized, nil
}

// StartFromMic is not possible with playback-only commands.
func (e *CommandEngine) StartFromMic(sampleRate, channels, bufferSize int) (State, error) {
	return e.currentState(), fmt.Errorf("%w: microphone loopback", ErrNotSupported)
}

// stageBuffer writes an in-memory source to a temporary file for commands
// that can only read paths.
func stageBuffer(data []byte, c codec.Codec) (string, error) {
	ext := "wav"
	switch c {
	case codec.CodecMP3:
		ext = "mp3"
	case codec.CodecAIFF:
		ext = "aiff"
	}
	f, err := os.CreateTemp("", "tapedeck-*."+ext)
	if err != nil {
		return "", fmt.Errorf("create temporary file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temporary file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temporary file: %w", err)
	}
	return f.Name(), nil
}

// launch tears down any current session, starts the command, and arranges a
// watcher for natural completion. A non-nil ring starts the stdin pump.
func (e *CommandEngine) launch(args []string, ring *byteRing, tempPath string) error {
	e.teardownSession()

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, e.command, args...)

	var stdin io.WriteCloser
	if ring != nil {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return fmt.Errorf("open stdin pipe: %w", err)
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", e.command, err)
	}

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.cmd = cmd
	e.cancel = cancel
	e.tempPath = tempPath
	e.startedAt = time.Now()
	e.pausedAt = time.Time{}
	e.pausedFor = 0
	e.mu.Unlock()

	if ring != nil {
		go e.pump(gen, ring, stdin)
	}

	go func() {
		err := cmd.Wait()
		e.mu.Lock()
		current := e.gen == gen && !e.closed
		if current {
			e.cmd = nil
			e.cancel = nil
			if e.tempPath != "" {
				os.Remove(e.tempPath)
				e.tempPath = ""
			}
		}
		e.mu.Unlock()
		if !current {
			return
		}
		if err != nil {
			slog.Debug("audio command exited with error", "command", e.command, "error", err)
		}
		e.post(func() {
			e.setState(StateStopped)
			e.port.PlaybackFinished(StateStopped)
		})
	}()

	slog.Debug("audio command launched", "command", e.command, "args", args)
	return nil
}

// pump copies ring contents into the child's stdin and emits NeedMoreData
// demands as the backlog drains.
func (e *CommandEngine) pump(gen int, ring *byteRing, stdin io.WriteCloser) {
	defer stdin.Close()
	buf := make([]byte, 4096)
	for {
		select {
		case <-e.done:
			return
		default:
		}
		e.mu.Lock()
		stale := e.gen != gen || e.closed
		lowWater := e.lowWater
		needDemand := !stale && !e.demand && ring.length() < lowWater
		if needDemand {
			e.demand = true
		}
		e.mu.Unlock()
		if stale {
			return
		}
		if needDemand {
			free := ring.free()
			e.post(func() { e.port.NeedMoreData(free) })
		}

		n := ring.read(buf)
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if _, err := stdin.Write(buf[:n]); err != nil {
			slog.Debug("stdin pump ended", "error", err)
			return
		}
	}
}

// Feed writes interleaved s16le bytes into the stream ring.
func (e *CommandEngine) Feed(data []byte) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	ring, stream := e.ring, e.stream
	e.mu.Unlock()
	if !stream || ring == nil {
		return 0, ErrNotAvailable
	}
	n := ring.write(data)
	if n > 0 {
		e.mu.Lock()
		e.demand = false
		e.mu.Unlock()
	}
	return n, nil
}

// FeedInt16 interleaves per-channel blocks into s16le bytes and feeds them.
func (e *CommandEngine) FeedInt16(blocks [][]int16) (int, error) {
	if len(blocks) == 0 || len(blocks[0]) == 0 {
		return 0, nil
	}
	channels := len(blocks)
	frames := len(blocks[0])
	buf := make([]byte, 0, frames*channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			var sample int16
			if i < len(blocks[ch]) {
				sample = blocks[ch][i]
			}
			buf = append(buf, byte(sample), byte(sample>>8))
		}
	}
	n, err := e.Feed(buf)
	if err != nil {
		return 0, err
	}
	return n / (channels * 2), nil
}

// FeedFloat32 is not supported; the stream commands speak s16le only.
func (e *CommandEngine) FeedFloat32(blocks [][]float32) (int, error) {
	return 0, fmt.Errorf("%w: float32 feed", ErrNotSupported)
}

// Pause suspends the child process with SIGSTOP.
func (e *CommandEngine) Pause() (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return e.currentState(), ErrNotAvailable
	}

	if err := cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		slog.Error("failed to pause audio command", "error", err)
		e.post(func() { e.port.PauseCompleted(e.currentState(), false) })
		return e.currentState(), nil
	}
	e.mu.Lock()
	e.pausedAt = time.Now()
	e.mu.Unlock()
	e.post(func() {
		e.setState(StatePaused)
		e.port.PauseCompleted(StatePaused, true)
	})
	return StatePaused, nil
}

// Resume continues a SIGSTOP-ed child with SIGCONT.
func (e *CommandEngine) Resume() (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return e.currentState(), ErrNotAvailable
	}

	if err := cmd.Process.Signal(syscall.SIGCONT); err != nil {
		slog.Error("failed to resume audio command", "error", err)
		e.post(func() { e.port.ResumeCompleted(e.currentState(), false) })
		return e.currentState(), nil
	}
	e.mu.Lock()
	if !e.pausedAt.IsZero() {
		e.pausedFor += time.Since(e.pausedAt)
		e.pausedAt = time.Time{}
	}
	e.mu.Unlock()
	e.post(func() {
		e.setState(StatePlaying)
		e.port.ResumeCompleted(StatePlaying, true)
	})
	return StatePlaying, nil
}

// Stop kills the child process and reports completion.
func (e *CommandEngine) Stop() (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	e.mu.Unlock()

	e.teardownSession()
	e.post(func() {
		e.setState(StateStopped)
		e.port.StopCompleted(StateStopped, true)
	})
	return StateStopped, nil
}

// teardownSession cancels the current child, invalidating its watcher first
// so the kill is not misreported as natural completion.
func (e *CommandEngine) teardownSession() {
	e.mu.Lock()
	e.gen++
	cancel := e.cancel
	cmd := e.cmd
	tempPath := e.tempPath
	e.cmd = nil
	e.cancel = nil
	e.tempPath = ""
	e.ring = nil
	e.stream = false
	e.startedAt = time.Time{}
	e.pausedAt = time.Time{}
	e.pausedFor = 0
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil && cmd.Process != nil {
		// SIGCONT first in case the process is paused and cannot die.
		_ = cmd.Process.Signal(syscall.SIGCONT)
	}
	if tempPath != "" {
		os.Remove(tempPath)
	}
}

// Seek is not possible with one-shot player commands.
func (e *CommandEngine) Seek(position time.Duration) (State, error) {
	return e.currentState(), fmt.Errorf("%w: seek", ErrNotSupported)
}

// SetVolume stores the gain; it takes effect on the next start (paplay only).
func (e *CommandEngine) SetVolume(volume float64) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return StateNotInitialized, ErrClosed
	}
	e.volume = volume
	slog.Debug("volume stored for next start", "volume", volume)
	return e.state, nil
}

// SetVolumePan stores the gain; pan has no system-command equivalent and is
// ignored with a log.
func (e *CommandEngine) SetVolumePan(volume, pan float64) (State, error) {
	if pan != 0 {
		slog.Debug("pan ignored by system command engine", "pan", pan)
	}
	return e.SetVolume(volume)
}

// SetSpeed is not possible with one-shot player commands.
func (e *CommandEngine) SetSpeed(speed float64) (State, error) {
	return e.currentState(), fmt.Errorf("%w: speed", ErrNotSupported)
}

// SetSubscriptionDuration sets the progress emission interval.
func (e *CommandEngine) SetSubscriptionDuration(interval time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.interval = interval
	return nil
}

// Progress approximates position from wall time; the command reports no
// duration.
func (e *CommandEngine) Progress() (Disposition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Disposition{}, ErrClosed
	}
	return Disposition{Position: e.elapsedLocked()}, nil
}

// IsDecoderSupported reports what the underlying command can play. The
// registry's container formats plus raw PCM16 for streams.
func (e *CommandEngine) IsDecoderSupported(c codec.Codec) bool {
	if c == codec.CodecFloat32 {
		return false
	}
	return e.reg.Supports(c)
}

// ResourcePath returns the directory the running binary resides in.
func (e *CommandEngine) ResourcePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func (e *CommandEngine) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close kills any child and stops the emit goroutines. Idempotent.
func (e *CommandEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		slog.Debug("command engine already closed")
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.teardownSession()
	close(e.done)
	e.setState(StateNotInitialized)
	slog.Debug("command engine closed")
	return nil
}
