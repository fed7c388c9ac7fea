package codec

import (
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/youpy/go-wav"
)

// WavDecoder decodes RIFF/WAVE audio.
type WavDecoder struct{}

// NewWavDecoder creates a new WAV decoder instance.
func NewWavDecoder() *WavDecoder {
	return &WavDecoder{}
}

// Codec returns the codec this decoder handles.
func (d *WavDecoder) Codec() Codec {
	return CodecWAV
}

// CanDecode checks if this decoder handles the given file name.
func (d *WavDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".wav") || strings.HasSuffix(lower, ".wave")
}

// Decode reads WAV data from reader and returns decoded PCM.
func (d *WavDecoder) Decode(reader io.Reader) (*PCMData, error) {
	// youpy/go-wav wants a ReadSeeker, so buffer the whole source first.
	data, err := io.ReadAll(reader)
	if err != nil {
		slog.Error("failed to read WAV data", "error", err)
		return nil, ErrReadFailure
	}
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	wavReader := wav.NewReader(bytes.NewReader(data))

	format, err := wavReader.Format()
	if err != nil {
		slog.Error("failed to read WAV format chunk", "error", err)
		return nil, ErrInvalidData
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		slog.Error("invalid WAV format parameters",
			"channels", format.NumChannels,
			"sample_rate", format.SampleRate)
		return nil, ErrInvalidData
	}

	var sampleFormat malgo.FormatType
	switch format.BitsPerSample {
	case 16:
		sampleFormat = malgo.FormatS16
	case 24:
		sampleFormat = malgo.FormatS24
	case 32:
		sampleFormat = malgo.FormatS32
	default:
		slog.Error("unsupported WAV bit depth", "bits", format.BitsPerSample)
		return nil, ErrUnsupportedFormat
	}

	slog.Debug("WAV format detected",
		"sample_rate", format.SampleRate,
		"channels", format.NumChannels,
		"bits_per_sample", format.BitsPerSample)

	var samples []wav.Sample
	for {
		chunk, err := wavReader.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("failed to read WAV samples", "error", err)
			return nil, ErrReadFailure
		}
		if len(chunk) == 0 {
			break
		}
		samples = append(samples, chunk...)
	}
	if len(samples) == 0 {
		return nil, ErrInvalidData
	}

	// Re-pack samples as little-endian interleaved PCM.
	bytesPer := FormatBytes(sampleFormat)
	raw := make([]byte, 0, len(samples)*int(format.NumChannels)*bytesPer)
	for _, sample := range samples {
		for ch := 0; ch < int(format.NumChannels); ch++ {
			var val int
			if ch < len(sample.Values) {
				val = sample.Values[ch]
			}
			for b := 0; b < bytesPer; b++ {
				raw = append(raw, byte(val>>(8*b)))
			}
		}
	}

	pcm := &PCMData{
		Samples:    raw,
		Channels:   uint32(format.NumChannels),
		SampleRate: format.SampleRate,
		Format:     sampleFormat,
	}

	slog.Debug("WAV decode completed",
		"total_bytes", len(raw),
		"frames", pcm.FrameCount(),
		"channels", pcm.Channels,
		"sample_rate", pcm.SampleRate)

	return pcm, nil
}
