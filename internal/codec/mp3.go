package codec

import (
	"io"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// Mp3Decoder decodes MPEG layer-3 audio.
type Mp3Decoder struct{}

// NewMp3Decoder creates a new MP3 decoder instance.
func NewMp3Decoder() *Mp3Decoder {
	return &Mp3Decoder{}
}

// Codec returns the codec this decoder handles.
func (d *Mp3Decoder) Codec() Codec {
	return CodecMP3
}

// CanDecode checks if this decoder handles the given file name.
func (d *Mp3Decoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".mp3") || strings.HasSuffix(lower, ".mpeg")
}

// Decode reads MP3 data from reader and returns decoded PCM.
// go-mp3 always outputs 16-bit signed stereo.
func (d *Mp3Decoder) Decode(reader io.Reader) (*PCMData, error) {
	decoder, err := mp3.NewDecoder(reader)
	if err != nil {
		slog.Error("failed to create MP3 decoder", "error", err)
		return nil, ErrInvalidData
	}

	sampleRate := decoder.SampleRate()
	if sampleRate <= 0 {
		slog.Error("invalid MP3 sample rate", "sample_rate", sampleRate)
		return nil, ErrInvalidData
	}

	var samples []byte
	buf := make([]byte, 4096)
	for {
		n, err := decoder.Read(buf)
		if n > 0 {
			samples = append(samples, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("failed to read MP3 PCM data", "error", err)
			return nil, ErrReadFailure
		}
		if n == 0 {
			break
		}
	}
	if len(samples) == 0 {
		return nil, ErrInvalidData
	}

	pcm := &PCMData{
		Samples:    samples,
		Channels:   2,
		SampleRate: uint32(sampleRate),
		Format:     malgo.FormatS16,
	}

	slog.Debug("MP3 decode completed",
		"total_bytes", len(samples),
		"frames", pcm.FrameCount(),
		"sample_rate", pcm.SampleRate)

	return pcm, nil
}
