package codec

import (
	"errors"
	"io"

	"github.com/gen2brain/malgo"
)

// Common decoder errors
var (
	ErrInvalidData       = errors.New("invalid audio data")
	ErrReadFailure       = errors.New("failed to read audio data")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// PCMData is decoded audio ready for rendering.
type PCMData struct {
	Samples    []byte           // Raw interleaved PCM
	Channels   uint32           // Number of audio channels
	SampleRate uint32           // Sample rate in Hz
	Format     malgo.FormatType // Sample format (e.g. malgo.FormatS16)
}

// BytesPerSample returns the per-channel sample width in bytes.
func (d *PCMData) BytesPerSample() int {
	return FormatBytes(d.Format)
}

// FrameCount returns the number of interleaved frames in the data.
func (d *PCMData) FrameCount() int {
	bpf := int(d.Channels) * d.BytesPerSample()
	if bpf == 0 {
		return 0
	}
	return len(d.Samples) / bpf
}

// FormatBytes returns the byte width of one sample in the given format.
func FormatBytes(format malgo.FormatType) int {
	switch format {
	case malgo.FormatU8:
		return 1
	case malgo.FormatS16:
		return 2
	case malgo.FormatS24:
		return 3
	case malgo.FormatS32, malgo.FormatF32:
		return 4
	default:
		return 2
	}
}

// Decoder decodes one audio container format into raw PCM.
type Decoder interface {
	// Decode reads the full source from reader and returns decoded PCM.
	Decode(reader io.Reader) (*PCMData, error)

	// CanDecode checks if this decoder handles the given file name.
	CanDecode(filename string) bool

	// Codec returns the codec this decoder handles.
	Codec() Codec
}
