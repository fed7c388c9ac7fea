package codec

import (
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Codec identifies an audio coding format at the engine boundary.
type Codec int

const (
	// CodecDefault lets the engine pick based on the source.
	CodecDefault Codec = iota
	CodecWAV
	CodecAIFF
	CodecMP3
	// CodecPCM16 is raw interleaved 16-bit signed little-endian PCM.
	CodecPCM16
	// CodecFloat32 is raw interleaved 32-bit float PCM.
	CodecFloat32
	CodecOpus
	CodecVorbis
)

// String returns the codec name for logging.
func (c Codec) String() string {
	switch c {
	case CodecDefault:
		return "default"
	case CodecWAV:
		return "wav"
	case CodecAIFF:
		return "aiff"
	case CodecMP3:
		return "mp3"
	case CodecPCM16:
		return "pcm16"
	case CodecFloat32:
		return "pcmf32"
	case CodecOpus:
		return "opus"
	case CodecVorbis:
		return "vorbis"
	default:
		return "unknown"
	}
}

// IsRawPCM reports whether the codec is raw PCM that needs no decoder.
func (c Codec) IsRawPCM() bool {
	return c == CodecPCM16 || c == CodecFloat32
}

// Detect sniffs the codec from the leading bytes of an audio source using
// content-based MIME detection. Returns CodecDefault when the content is not
// a recognized audio container.
func Detect(data []byte) Codec {
	mtype := mimetype.Detect(data)

	slog.Debug("codec content detection", "mime", mtype.String(), "bytes_sniffed", len(data))

	switch {
	case mtype.Is("audio/wav") || mtype.Is("audio/x-wav"):
		return CodecWAV
	case mtype.Is("audio/aiff") || mtype.Is("audio/x-aiff"):
		return CodecAIFF
	case mtype.Is("audio/mpeg") || mtype.Is("audio/mp3"):
		return CodecMP3
	case mtype.Is("audio/ogg") || mtype.Is("application/ogg"):
		// Ogg container: vorbis unless the stream header says opus, which
		// mimetype cannot tell apart. Vorbis is the common case.
		return CodecVorbis
	}
	return CodecDefault
}

// DetectFromName guesses the codec from a file name or URI extension.
func DetectFromName(name string) Codec {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".wav") || strings.HasSuffix(lower, ".wave"):
		return CodecWAV
	case strings.HasSuffix(lower, ".aiff") || strings.HasSuffix(lower, ".aif"):
		return CodecAIFF
	case strings.HasSuffix(lower, ".mp3") || strings.HasSuffix(lower, ".mpeg"):
		return CodecMP3
	case strings.HasSuffix(lower, ".opus"):
		return CodecOpus
	case strings.HasSuffix(lower, ".ogg") || strings.HasSuffix(lower, ".oga"):
		return CodecVorbis
	case strings.HasSuffix(lower, ".pcm") || strings.HasSuffix(lower, ".raw"):
		return CodecPCM16
	}
	return CodecDefault
}
