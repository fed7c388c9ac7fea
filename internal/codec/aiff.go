package codec

import (
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
)

// AiffDecoder decodes AIFF/AIFC audio.
type AiffDecoder struct{}

// NewAiffDecoder creates a new AIFF decoder instance.
func NewAiffDecoder() *AiffDecoder {
	return &AiffDecoder{}
}

// Codec returns the codec this decoder handles.
func (d *AiffDecoder) Codec() Codec {
	return CodecAIFF
}

// CanDecode checks if this decoder handles the given file name.
func (d *AiffDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".aiff") || strings.HasSuffix(lower, ".aif")
}

// Decode reads AIFF data from reader and returns decoded PCM.
func (d *AiffDecoder) Decode(reader io.Reader) (*PCMData, error) {
	// go-audio/aiff wants a ReadSeeker, so buffer the whole source first.
	data, err := io.ReadAll(reader)
	if err != nil {
		slog.Error("failed to read AIFF data", "error", err)
		return nil, ErrReadFailure
	}
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	decoder := aiff.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		slog.Error("invalid AIFF file")
		return nil, ErrInvalidData
	}

	sampleRate := uint32(decoder.SampleRate)
	channels := uint32(decoder.NumChans)
	bitDepth := int(decoder.SampleBitDepth())
	if channels == 0 || sampleRate == 0 || bitDepth == 0 {
		slog.Error("invalid AIFF format parameters",
			"channels", channels, "sample_rate", sampleRate, "bit_depth", bitDepth)
		return nil, ErrInvalidData
	}

	var sampleFormat malgo.FormatType
	switch bitDepth {
	case 16:
		sampleFormat = malgo.FormatS16
	case 24:
		sampleFormat = malgo.FormatS24
	case 32:
		sampleFormat = malgo.FormatS32
	default:
		slog.Error("unsupported AIFF bit depth", "bits", bitDepth)
		return nil, ErrUnsupportedFormat
	}

	slog.Debug("AIFF format detected",
		"sample_rate", sampleRate, "channels", channels, "bits_per_sample", bitDepth)

	pcmBuffer, err := decoder.FullPCMBuffer()
	if err != nil {
		slog.Error("failed to read AIFF samples", "error", err)
		return nil, ErrReadFailure
	}
	if pcmBuffer == nil || len(pcmBuffer.Data) == 0 {
		return nil, ErrInvalidData
	}

	raw := packIntBuffer(pcmBuffer, FormatBytes(sampleFormat))

	pcm := &PCMData{
		Samples:    raw,
		Channels:   channels,
		SampleRate: sampleRate,
		Format:     sampleFormat,
	}

	slog.Debug("AIFF decode completed",
		"total_bytes", len(raw),
		"frames", pcm.FrameCount(),
		"channels", pcm.Channels,
		"sample_rate", pcm.SampleRate)

	return pcm, nil
}

// packIntBuffer converts a go-audio int buffer to little-endian interleaved
// PCM bytes at the given sample width.
func packIntBuffer(buf *audio.IntBuffer, bytesPer int) []byte {
	raw := make([]byte, 0, len(buf.Data)*bytesPer)
	for _, val := range buf.Data {
		for b := 0; b < bytesPer; b++ {
			raw = append(raw, byte(val>>(8*b)))
		}
	}
	return raw
}
