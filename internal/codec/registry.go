package codec

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
)

// Registry manages format decoders and answers decoder-support queries.
type Registry struct {
	decoders []Decoder
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make([]Decoder, 0)}
}

// NewDefaultRegistry creates a registry with the built-in WAV, MP3 and AIFF
// decoders registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewWavDecoder())
	r.Register(NewMp3Decoder())
	r.Register(NewAiffDecoder())

	slog.Debug("default decoder registry initialized", "codecs", r.SupportedCodecs())
	return r
}

// Register adds a decoder to the registry.
func (r *Registry) Register(d Decoder) {
	if d == nil {
		slog.Warn("attempted to register nil decoder")
		return
	}
	r.decoders = append(r.decoders, d)
	slog.Debug("decoder registered", "codec", d.Codec(), "total_decoders", len(r.decoders))
}

// Supports reports whether a decoder is registered for the codec. Raw PCM
// needs no decoder and is always supported.
func (r *Registry) Supports(c Codec) bool {
	if c.IsRawPCM() {
		return true
	}
	for _, d := range r.decoders {
		if d.Codec() == c {
			return true
		}
	}
	return false
}

// SupportedCodecs returns the codecs a decoder is registered for.
func (r *Registry) SupportedCodecs() []Codec {
	codecs := make([]Codec, 0, len(r.decoders))
	for _, d := range r.decoders {
		codecs = append(codecs, d.Codec())
	}
	return codecs
}

// DecoderFor returns the registered decoder for the codec, resolving
// CodecDefault by file name and then by content sniffing.
func (r *Registry) DecoderFor(c Codec, filename string, head []byte) (Decoder, error) {
	if c == CodecDefault {
		c = DetectFromName(filename)
	}
	if c == CodecDefault && len(head) > 0 {
		c = Detect(head)
	}
	for _, d := range r.decoders {
		if d.Codec() == c {
			return d, nil
		}
	}
	slog.Debug("no decoder for codec", "codec", c, "filename", filename)
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, c)
}

// Decode resolves a decoder for the codec/filename and decodes the source.
func (r *Registry) Decode(c Codec, filename string, reader io.Reader) (*PCMData, error) {
	// Buffer enough of the source to sniff content when the codec is unknown.
	var head []byte
	if c == CodecDefault && DetectFromName(filename) == CodecDefault {
		head = make([]byte, 512)
		n, _ := io.ReadFull(reader, head)
		head = head[:n]
		reader = io.MultiReader(bytes.NewReader(head), reader)
	}

	decoder, err := r.DecoderFor(c, filename, head)
	if err != nil {
		return nil, err
	}
	return decoder.Decode(reader)
}
