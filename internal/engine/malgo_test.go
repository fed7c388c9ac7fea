package engine

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gen2brain/malgo"

	"tapedeck.dev/internal/codec"
)

func TestChannelGains(t *testing.T) {
	cases := []struct {
		name     string
		volume   float64
		pan      float64
		channels int
		wantL    float64
		wantR    float64
	}{
		{"center", 1.0, 0.0, 2, 1.0, 1.0},
		{"hard left", 1.0, -1.0, 2, 1.0, 0.0},
		{"hard right", 1.0, 1.0, 2, 0.0, 1.0},
		{"half volume half right", 0.5, 0.5, 2, 0.25, 0.5},
		{"mono ignores pan", 0.8, 1.0, 1, 0.8, 0.8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, r := channelGains(tc.volume, tc.pan, tc.channels)
			if l != tc.wantL || r != tc.wantR {
				t.Errorf("channelGains(%v, %v, %d) = %v/%v, want %v/%v",
					tc.volume, tc.pan, tc.channels, l, r, tc.wantL, tc.wantR)
			}
		})
	}
}

func TestApplyGainS16(t *testing.T) {
	// Stereo frame: left 1000, right 1000.
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(1000)))

	applyGain(buf, malgo.FormatS16, 2, 0.5, 1.0)

	left := int16(binary.LittleEndian.Uint16(buf[0:]))
	right := int16(binary.LittleEndian.Uint16(buf[2:]))
	if left != 0 {
		t.Errorf("left sample = %d, want 0 with hard-right pan", left)
	}
	if right != 500 {
		t.Errorf("right sample = %d, want 500 at half volume", right)
	}
}

func TestApplyGainUnityIsNoOp(t *testing.T) {
	buf := []byte{0x12, 0x34, 0x56, 0x78}
	want := append([]byte(nil), buf...)
	applyGain(buf, malgo.FormatS16, 2, 1.0, 0.0)
	for i := range buf {
		if buf[i] != want[i] {
			t.Fatal("unity gain modified samples")
		}
	}
}

func TestSessionProgress(t *testing.T) {
	sess := &renderSession{
		sampleRate: 16000,
		duration:   10 * time.Second,
	}
	sess.cursor = 16000 // one second of frames
	pos, dur := sess.progress()
	if pos != time.Second {
		t.Errorf("file position = %v, want 1s", pos)
	}
	if dur != 10*time.Second {
		t.Errorf("duration = %v, want 10s", dur)
	}

	stream := &renderSession{stream: true, sampleRate: 8000, played: 4000}
	pos, _ = stream.progress()
	if pos != 500*time.Millisecond {
		t.Errorf("stream position = %v, want 500ms", pos)
	}
}

func TestSessionForPCMDuration(t *testing.T) {
	pcm := &codec.PCMData{
		Samples:    make([]byte, 16000*2*2), // 1s of 16kHz stereo s16
		Channels:   2,
		SampleRate: 16000,
		Format:     malgo.FormatS16,
	}
	sess := sessionForPCM(pcm)
	if sess.duration != time.Second {
		t.Errorf("duration = %v, want 1s", sess.duration)
	}
	if sess.frameBytes != 4 {
		t.Errorf("frameBytes = %d, want 4", sess.frameBytes)
	}
}

func TestMalgoFeedWithoutSession(t *testing.T) {
	e := NewMalgo(nullPort{})
	defer e.Close()

	if _, err := e.Feed([]byte{1, 2}); err == nil {
		t.Fatal("feed without a stream session succeeded")
	}
}

func TestMalgoDecoderSupport(t *testing.T) {
	e := NewMalgo(nullPort{})
	defer e.Close()

	for _, c := range []codec.Codec{codec.CodecWAV, codec.CodecMP3, codec.CodecAIFF, codec.CodecPCM16, codec.CodecFloat32} {
		if !e.IsDecoderSupported(c) {
			t.Errorf("codec %v unsupported, want supported", c)
		}
	}
	if e.IsDecoderSupported(codec.CodecOpus) {
		t.Error("opus reported as supported")
	}
}

func TestCommandEngineStreamArgs(t *testing.T) {
	e := NewCommand(nullPort{}, "paplay")
	defer e.Close()

	args, err := e.streamArgs(44100, 2)
	if err != nil {
		t.Fatalf("streamArgs failed: %v", err)
	}
	want := []string{"--raw", "--format=s16le", "--rate=44100", "--channels=2"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args = %v, want %v", args, want)
		}
	}

	afplay := NewCommand(nullPort{}, "afplay")
	defer afplay.Close()
	if _, err := afplay.streamArgs(44100, 2); err == nil {
		t.Fatal("afplay accepted a raw stream")
	}
}
