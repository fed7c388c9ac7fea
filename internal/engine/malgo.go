package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"tapedeck.dev/internal/codec"
)

// progressTick is the granularity of the progress emission loop; the
// configured subscription interval is accumulated from it.
const progressTick = 50 * time.Millisecond

// MalgoEngine renders audio in-process through malgo (miniaudio). Requests
// return quickly; decode and device setup for start happen on a background
// goroutine and all verb outcomes are delivered through the CallbackPort via
// a single ordered emit goroutine.
type MalgoEngine struct {
	port CallbackPort
	reg  *codec.Registry

	mu       sync.Mutex
	state    State
	ctx      *audioContext
	device   *malgo.Device
	sess     *renderSession
	closed   bool
	volume   float64
	pan      float64
	speed    float64
	interval time.Duration

	emit chan func()
	done chan struct{}
}

// renderSession is the material of one playback session, shared between the
// verb goroutines and the device render callback.
type renderSession struct {
	mu         sync.Mutex
	pcm        *codec.PCMData
	cursor     float64 // frame position, fractional to support speed
	ring       *byteRing
	stream     bool
	mic        bool
	frameBytes int
	sampleRate int
	channels   int
	format     malgo.FormatType
	played     uint64
	duration   time.Duration
	finished   bool
	demand     bool // a NeedMoreData was emitted and not yet fed
	lowWater   int
}

func (s *renderSession) progress() (time.Duration, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleRate == 0 {
		return 0, s.duration
	}
	frames := s.cursor
	if s.stream || s.mic {
		frames = float64(s.played)
	}
	pos := time.Duration(frames / float64(s.sampleRate) * float64(time.Second))
	return pos, s.duration
}

// NewMalgo creates a malgo engine bound to the given callback port. The
// audio context is allocated lazily on Open.
func NewMalgo(port CallbackPort) *MalgoEngine {
	slog.Debug("creating malgo engine")
	e := &MalgoEngine{
		port:   port,
		reg:    codec.NewDefaultRegistry(),
		state:  StateNotInitialized,
		volume: 1.0,
		speed:  1.0,
		emit:   make(chan func(), 256),
		done:   make(chan struct{}),
	}
	go e.emitLoop()
	go e.progressLoop()
	return e
}

// post queues one callback emission; emissions run one at a time, in order,
// and are dropped after Close.
func (e *MalgoEngine) post(fn func()) {
	select {
	case <-e.done:
	case e.emit <- fn:
	}
}

func (e *MalgoEngine) emitLoop() {
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.emit:
			fn()
		}
	}
}

func (e *MalgoEngine) progressLoop() {
	tick := time.NewTicker(progressTick)
	defer tick.Stop()

	var since time.Duration
	for {
		select {
		case <-e.done:
			return
		case <-tick.C:
			e.mu.Lock()
			interval, st, sess := e.interval, e.state, e.sess
			e.mu.Unlock()
			if interval <= 0 || st != StatePlaying || sess == nil {
				since = 0
				continue
			}
			since += progressTick
			if since < interval {
				continue
			}
			since = 0
			pos, dur := sess.progress()
			e.post(func() { e.port.ProgressUpdate(pos, dur) })
		}
	}
}

func (e *MalgoEngine) setState(st State) {
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
}

// Open allocates the audio context. Completion is reported asynchronously.
func (e *MalgoEngine) Open(level slog.Level) (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	if e.ctx == nil {
		ctx, err := newAudioContext(e.port)
		if err != nil {
			e.mu.Unlock()
			return StateNotInitialized, fmt.Errorf("%w: %v", ErrNotAvailable, err)
		}
		e.ctx = ctx
	}
	e.state = StateInitializing
	e.mu.Unlock()

	e.post(func() {
		e.setState(StateInitialized)
		e.port.OpenCompleted(StateInitialized, true)
	})
	return StateInitializing, nil
}

// Start decodes the source and begins rendering. Decode runs on a background
// goroutine; the outcome arrives as a StartCompleted callback.
func (e *MalgoEngine) Start(c codec.Codec, src Source, sampleRate, channels int) (State, error) {
	if st, err := e.readyForStart(); err != nil {
		return st, err
	}
	go func() {
		pcm, err := e.decodeSource(c, src, sampleRate, channels)
		if err != nil {
			slog.Error("failed to decode playback source", "codec", c, "path", src.Path, "error", err)
			e.post(func() { e.port.StartCompleted(StateInitialized, false, 0) })
			return
		}
		sess := sessionForPCM(pcm)
		if err := e.startDevice(sess, e.renderFile(sess)); err != nil {
			slog.Error("failed to start playback device", "error", err)
			e.post(func() { e.port.StartCompleted(StateInitialized, false, 0) })
			return
		}
		e.post(func() {
			e.setState(StatePlaying)
			e.port.StartCompleted(StatePlaying, true, sess.duration)
		})
	}()
	return StateInitialized, nil
}

// StartFromStream opens a feed-driven session backed by a ring buffer sized
// from bufferSize frames.
func (e *MalgoEngine) StartFromStream(c codec.Codec, interleaved bool, sampleRate, channels, bufferSize int) (State, error) {
	if st, err := e.readyForStart(); err != nil {
		return st, err
	}
	format := malgo.FormatS16
	if c == codec.CodecFloat32 {
		format = malgo.FormatF32
	}
	frameBytes := channels * codec.FormatBytes(format)
	ringCap := bufferSize * frameBytes
	if ringCap < 4096 {
		ringCap = 4096
	}

	sess := &renderSession{
		stream:     true,
		ring:       newByteRing(ringCap * 2),
		frameBytes: frameBytes,
		sampleRate: sampleRate,
		channels:   channels,
		format:     format,
		lowWater:   ringCap,
	}
	if err := e.startDevice(sess, e.renderStream(sess)); err != nil {
		slog.Error("failed to start stream device", "error", err)
		e.post(func() { e.port.StartCompleted(StateInitialized, false, 0) })
		return StateInitialized, nil
	}
	e.post(func() {
		e.setState(StatePlaying)
		e.port.StartCompleted(StatePlaying, true, 0)
	})
	return StateInitialized, nil
}

// StartFromMic loops capture to playback through a duplex device.
func (e *MalgoEngine) StartFromMic(sampleRate, channels, bufferSize int) (State, error) {
	if st, err := e.readyForStart(); err != nil {
		return st, err
	}
	sess := &renderSession{
		mic:        true,
		frameBytes: channels * codec.FormatBytes(malgo.FormatS16),
		sampleRate: sampleRate,
		channels:   channels,
		format:     malgo.FormatS16,
	}
	if err := e.startDuplexDevice(sess); err != nil {
		slog.Error("failed to start duplex device", "error", err)
		e.post(func() { e.port.StartCompleted(StateInitialized, false, 0) })
		return StateInitialized, nil
	}
	e.post(func() {
		e.setState(StatePlaying)
		e.port.StartCompleted(StatePlaying, true, 0)
	})
	return StateInitialized, nil
}

func (e *MalgoEngine) readyForStart() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return StateNotInitialized, ErrClosed
	}
	if e.ctx == nil || !e.ctx.valid() {
		return e.state, ErrNotAvailable
	}
	return e.state, nil
}

func sessionForPCM(pcm *codec.PCMData) *renderSession {
	frameBytes := int(pcm.Channels) * pcm.BytesPerSample()
	var duration time.Duration
	if pcm.SampleRate > 0 {
		duration = time.Duration(float64(pcm.FrameCount()) / float64(pcm.SampleRate) * float64(time.Second))
	}
	return &renderSession{
		pcm:        pcm,
		frameBytes: frameBytes,
		sampleRate: int(pcm.SampleRate),
		channels:   int(pcm.Channels),
		format:     pcm.Format,
		duration:   duration,
	}
}

func (e *MalgoEngine) decodeSource(c codec.Codec, src Source, sampleRate, channels int) (*codec.PCMData, error) {
	if c.IsRawPCM() {
		data := src.Buffer
		if !src.IsBuffer() {
			fileData, err := os.ReadFile(src.Path)
			if err != nil {
				return nil, fmt.Errorf("read raw pcm source: %w", err)
			}
			data = fileData
		}
		format := malgo.FormatS16
		if c == codec.CodecFloat32 {
			format = malgo.FormatF32
		}
		return &codec.PCMData{
			Samples:    data,
			Channels:   uint32(channels),
			SampleRate: uint32(sampleRate),
			Format:     format,
		}, nil
	}

	var reader io.Reader
	if src.IsBuffer() {
		reader = bytes.NewReader(src.Buffer)
	} else {
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, fmt.Errorf("open source file: %w", err)
		}
		defer f.Close()
		reader = f
	}
	return e.reg.Decode(c, src.Path, reader)
}

// startDevice tears down any existing device and starts a new playback
// device rendering through proc.
func (e *MalgoEngine) startDevice(sess *renderSession, proc malgo.DataProc) error {
	e.stopDevice()

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = sess.format
	config.Playback.Channels = uint32(sess.channels)
	config.SampleRate = uint32(sess.sampleRate)
	config.Alsa.NoMMap = 1

	slog.Debug("playback device configuration",
		"format", sess.format,
		"channels", sess.channels,
		"sample_rate", sess.sampleRate,
		"stream", sess.stream)

	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil || !ctx.valid() {
		return ErrNotAvailable
	}

	device, err := malgo.InitDevice(ctx.raw().Context, config, malgo.DeviceCallbacks{Data: proc})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}

	e.mu.Lock()
	e.device = device
	e.sess = sess
	e.mu.Unlock()
	return nil
}

func (e *MalgoEngine) startDuplexDevice(sess *renderSession) error {
	e.stopDevice()

	config := malgo.DefaultDeviceConfig(malgo.Duplex)
	config.Playback.Format = sess.format
	config.Playback.Channels = uint32(sess.channels)
	config.Capture.Format = sess.format
	config.Capture.Channels = uint32(sess.channels)
	config.SampleRate = uint32(sess.sampleRate)
	config.Alsa.NoMMap = 1

	proc := func(out, in []byte, frames uint32) {
		n := copy(out, in)
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		vol, pan, _ := e.gains()
		applyGain(out[:n], sess.format, sess.channels, vol, pan)
		sess.mu.Lock()
		sess.played += uint64(frames)
		sess.mu.Unlock()
	}

	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil || !ctx.valid() {
		return ErrNotAvailable
	}

	device, err := malgo.InitDevice(ctx.raw().Context, config, malgo.DeviceCallbacks{Data: proc})
	if err != nil {
		return fmt.Errorf("init duplex device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start duplex device: %w", err)
	}

	e.mu.Lock()
	e.device = device
	e.sess = sess
	e.mu.Unlock()
	return nil
}

// stopDevice detaches and releases the current device, if any.
func (e *MalgoEngine) stopDevice() {
	e.mu.Lock()
	device := e.device
	e.device = nil
	e.sess = nil
	e.mu.Unlock()

	if device != nil {
		device.Uninit()
		slog.Debug("playback device released")
	}
}

// renderFile reads decoded PCM into the device buffer, stepping the cursor by
// the playback speed. When the material runs out it emits PlaybackFinished
// exactly once.
func (e *MalgoEngine) renderFile(sess *renderSession) malgo.DataProc {
	return func(out, in []byte, frames uint32) {
		vol, pan, speed := e.gains()
		step := speed
		if step <= 0 {
			step = 1.0
		}

		sess.mu.Lock()
		total := sess.pcm.FrameCount()
		fb := sess.frameBytes
		wrote := 0
		for i := 0; i < int(frames); i++ {
			src := int(sess.cursor)
			if src >= total {
				break
			}
			copy(out[i*fb:(i+1)*fb], sess.pcm.Samples[src*fb:(src+1)*fb])
			sess.cursor += step
			wrote++
		}
		for i := wrote * fb; i < len(out); i++ {
			out[i] = 0
		}
		sess.played += uint64(wrote)
		justFinished := wrote < int(frames) && !sess.finished
		if justFinished {
			sess.finished = true
		}
		sess.mu.Unlock()

		applyGain(out[:wrote*fb], sess.format, sess.channels, vol, pan)

		if justFinished {
			e.post(func() {
				e.setState(StateStopped)
				e.port.PlaybackFinished(StateStopped)
			})
		}
	}
}

// renderStream drains the ring buffer into the device and emits a
// NeedMoreData demand when the buffered backlog falls below the low-water
// mark and no demand is outstanding.
func (e *MalgoEngine) renderStream(sess *renderSession) malgo.DataProc {
	return func(out, in []byte, frames uint32) {
		n := sess.ring.read(out)
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		vol, pan, _ := e.gains()
		applyGain(out[:n], sess.format, sess.channels, vol, pan)

		sess.mu.Lock()
		sess.played += uint64(n / sess.frameBytes)
		needDemand := !sess.demand && sess.ring.length() < sess.lowWater
		if needDemand {
			sess.demand = true
		}
		sess.mu.Unlock()

		if needDemand {
			free := sess.ring.free()
			e.post(func() { e.port.NeedMoreData(free) })
		}
	}
}

// streamSession returns the active stream session or the reason there is
// none.
func (e *MalgoEngine) streamSession() (*renderSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.sess == nil || !e.sess.stream {
		return nil, ErrNotAvailable
	}
	return e.sess, nil
}

// Feed writes interleaved raw bytes into the stream ring and reports how
// many were accepted. Zero means the ring is full; a NeedMoreData demand
// follows once the render callback has drained below the low-water mark.
func (e *MalgoEngine) Feed(data []byte) (int, error) {
	sess, err := e.streamSession()
	if err != nil {
		return 0, err
	}
	n := sess.ring.write(data)
	if n > 0 {
		sess.mu.Lock()
		sess.demand = false
		sess.mu.Unlock()
	}
	slog.Debug("stream feed", "offered", len(data), "accepted", n)
	return n, nil
}

// FeedFloat32 interleaves per-channel float32 blocks and feeds them. Returns
// the number of frames accepted. The session must use the float32 format.
func (e *MalgoEngine) FeedFloat32(blocks [][]float32) (int, error) {
	sess, err := e.streamSession()
	if err != nil {
		return 0, err
	}
	if sess.format != malgo.FormatF32 {
		return 0, fmt.Errorf("%w: session format is not float32", ErrNotSupported)
	}
	if len(blocks) == 0 || len(blocks[0]) == 0 {
		return 0, nil
	}

	frames := len(blocks[0])
	buf := make([]byte, 0, frames*sess.frameBytes)
	var scratch [4]byte
	for i := 0; i < frames; i++ {
		for ch := 0; ch < sess.channels; ch++ {
			var sample float32
			if ch < len(blocks) && i < len(blocks[ch]) {
				sample = blocks[ch][i]
			}
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(sample))
			buf = append(buf, scratch[:]...)
		}
	}

	n := sess.ring.write(buf)
	if n > 0 {
		sess.mu.Lock()
		sess.demand = false
		sess.mu.Unlock()
	}
	return n / sess.frameBytes, nil
}

// FeedInt16 interleaves per-channel int16 blocks and feeds them. Returns the
// number of frames accepted. The session must use the s16 format.
func (e *MalgoEngine) FeedInt16(blocks [][]int16) (int, error) {
	sess, err := e.streamSession()
	if err != nil {
		return 0, err
	}
	if sess.format != malgo.FormatS16 {
		return 0, fmt.Errorf("%w: session format is not s16", ErrNotSupported)
	}
	if len(blocks) == 0 || len(blocks[0]) == 0 {
		return 0, nil
	}

	frames := len(blocks[0])
	buf := make([]byte, 0, frames*sess.frameBytes)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < sess.channels; ch++ {
			var sample int16
			if ch < len(blocks) && i < len(blocks[ch]) {
				sample = blocks[ch][i]
			}
			buf = append(buf, byte(sample), byte(sample>>8))
		}
	}

	n := sess.ring.write(buf)
	if n > 0 {
		sess.mu.Lock()
		sess.demand = false
		sess.mu.Unlock()
	}
	return n / sess.frameBytes, nil
}

// Pause suspends the device.
func (e *MalgoEngine) Pause() (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	device := e.device
	e.mu.Unlock()

	if device == nil {
		return e.currentState(), ErrNotAvailable
	}
	if err := device.Stop(); err != nil {
		slog.Error("failed to pause playback device", "error", err)
		e.post(func() { e.port.PauseCompleted(e.currentState(), false) })
		return e.currentState(), nil
	}
	e.post(func() {
		e.setState(StatePaused)
		e.port.PauseCompleted(StatePaused, true)
	})
	return StatePaused, nil
}

// Resume restarts a paused device.
func (e *MalgoEngine) Resume() (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	device := e.device
	e.mu.Unlock()

	if device == nil {
		return e.currentState(), ErrNotAvailable
	}
	if err := device.Start(); err != nil {
		slog.Error("failed to resume playback device", "error", err)
		e.post(func() { e.port.ResumeCompleted(e.currentState(), false) })
		return e.currentState(), nil
	}
	e.post(func() {
		e.setState(StatePlaying)
		e.port.ResumeCompleted(StatePlaying, true)
	})
	return StatePlaying, nil
}

// Stop releases the device and reports completion. Stopping with no device
// still completes successfully.
func (e *MalgoEngine) Stop() (State, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StateNotInitialized, ErrClosed
	}
	e.mu.Unlock()

	e.stopDevice()
	e.post(func() {
		e.setState(StateStopped)
		e.port.StopCompleted(StateStopped, true)
	})
	return StateStopped, nil
}

// Seek repositions the render cursor. Stream and mic sessions cannot seek.
func (e *MalgoEngine) Seek(position time.Duration) (State, error) {
	e.mu.Lock()
	sess := e.sess
	st := e.state
	e.mu.Unlock()

	if sess == nil {
		return st, ErrNotAvailable
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.stream || sess.mic {
		return st, ErrNotSupported
	}
	frame := position.Seconds() * float64(sess.sampleRate)
	if total := float64(sess.pcm.FrameCount()); frame > total {
		frame = total
	}
	sess.cursor = frame
	sess.finished = false
	slog.Debug("seek", "position", position, "frame", int(frame))
	return st, nil
}

func (e *MalgoEngine) gains() (volume, pan, speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume, e.pan, e.speed
}

// SetVolume stores the gain; it is applied in the render callback.
func (e *MalgoEngine) SetVolume(volume float64) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return StateNotInitialized, ErrClosed
	}
	e.volume = volume
	return e.state, nil
}

// SetVolumePan stores gain and stereo pan.
func (e *MalgoEngine) SetVolumePan(volume, pan float64) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return StateNotInitialized, ErrClosed
	}
	e.volume = volume
	e.pan = pan
	return e.state, nil
}

// SetSpeed stores the playback rate; file sessions step their cursor by it.
func (e *MalgoEngine) SetSpeed(speed float64) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return StateNotInitialized, ErrClosed
	}
	e.speed = speed
	return e.state, nil
}

// SetSubscriptionDuration sets the progress emission interval; zero disables
// emission.
func (e *MalgoEngine) SetSubscriptionDuration(interval time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.interval = interval
	return nil
}

// Progress returns the current position and duration synchronously.
func (e *MalgoEngine) Progress() (Disposition, error) {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return Disposition{}, ErrNotAvailable
	}
	pos, dur := sess.progress()
	return Disposition{Position: pos, Duration: dur}, nil
}

// IsDecoderSupported reports whether the codec registry can handle c.
func (e *MalgoEngine) IsDecoderSupported(c codec.Codec) bool {
	return e.reg.Supports(c)
}

// ResourcePath returns the directory the running binary resides in.
func (e *MalgoEngine) ResourcePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func (e *MalgoEngine) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close releases the device, the audio context and the emit goroutines.
// Close is idempotent.
func (e *MalgoEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		slog.Debug("malgo engine already closed")
		return nil
	}
	e.closed = true
	ctx := e.ctx
	e.ctx = nil
	e.mu.Unlock()

	e.stopDevice()
	close(e.done)

	if ctx != nil {
		if err := ctx.close(); err != nil {
			return fmt.Errorf("close audio context: %w", err)
		}
	}
	e.setState(StateNotInitialized)
	slog.Debug("malgo engine closed")
	return nil
}

// channelGains derives per-channel gains from volume and pan. Mono sessions
// ignore pan.
func channelGains(volume, pan float64, channels int) (left, right float64) {
	if channels < 2 {
		return volume, volume
	}
	left = volume
	right = volume
	if pan > 0 {
		left = volume * (1 - pan)
	}
	if pan < 0 {
		right = volume * (1 + pan)
	}
	return left, right
}

// applyGain scales rendered samples in place. Gain is applied for the s16
// and f32 formats; other formats pass through untouched.
func applyGain(buf []byte, format malgo.FormatType, channels int, volume, pan float64) {
	if volume == 1.0 && pan == 0.0 {
		return
	}
	left, right := channelGains(volume, pan, channels)

	switch format {
	case malgo.FormatS16:
		for i := 0; i+1 < len(buf); i += 2 {
			gain := left
			if channels >= 2 && (i/2)%channels == 1 {
				gain = right
			}
			sample := int16(binary.LittleEndian.Uint16(buf[i:]))
			sample = int16(float64(sample) * gain)
			binary.LittleEndian.PutUint16(buf[i:], uint16(sample))
		}
	case malgo.FormatF32:
		for i := 0; i+3 < len(buf); i += 4 {
			gain := left
			if channels >= 2 && (i/4)%channels == 1 {
				gain = right
			}
			sample := math.Float32frombits(binary.LittleEndian.Uint32(buf[i:]))
			sample = float32(float64(sample) * gain)
			binary.LittleEndian.PutUint32(buf[i:], math.Float32bits(sample))
		}
	}
}
