package cli

import (
	"testing"

	"github.com/spf13/afero"

	"tapedeck.dev/internal/codec"
)

// wavHeader is the minimal RIFF/WAVE magic the codec detector keys on.
var wavHeader = append([]byte("RIFF\x24\x00\x00\x00WAVE"), make([]byte, 32)...)

func newTestLoader(t *testing.T) (*MediaLoader, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	loader := NewMediaLoader(fs, []string{"/media/user", "/media/system"})
	return loader, fs
}

func TestResolveSearchesMediaPathsInOrder(t *testing.T) {
	loader, fs := newTestLoader(t)
	afero.WriteFile(fs, "/media/user/chime.wav", wavHeader, 0644)
	afero.WriteFile(fs, "/media/system/chime.wav", wavHeader, 0644)

	got, err := loader.Resolve("chime.wav")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "/media/user/chime.wav" {
		t.Errorf("Resolve = %q, want the user path first", got)
	}
}

func TestResolveFallsBackToLaterPath(t *testing.T) {
	loader, fs := newTestLoader(t)
	afero.WriteFile(fs, "/media/system/beep.wav", wavHeader, 0644)

	got, err := loader.Resolve("beep.wav")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "/media/system/beep.wav" {
		t.Errorf("Resolve = %q, want system path", got)
	}
}

func TestResolveAbsolutePathBypassesSearch(t *testing.T) {
	loader, fs := newTestLoader(t)
	afero.WriteFile(fs, "/tmp/direct.wav", wavHeader, 0644)

	got, err := loader.Resolve("/tmp/direct.wav")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "/tmp/direct.wav" {
		t.Errorf("Resolve = %q, want absolute path unchanged", got)
	}
}

func TestResolveNotFound(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.Resolve("ghost.wav")
	if err == nil {
		t.Fatal("missing file resolved")
	}
	if !IsFileNotFoundError(err) {
		t.Errorf("error type = %T, want *FileNotFoundError", err)
	}
}

func TestResolveEmptyPath(t *testing.T) {
	loader, _ := newTestLoader(t)
	if _, err := loader.Resolve(""); err == nil {
		t.Fatal("empty path resolved")
	}
}

func TestLoadDetectsCodec(t *testing.T) {
	loader, fs := newTestLoader(t)
	afero.WriteFile(fs, "/media/user/chime.wav", wavHeader, 0644)

	media, err := loader.Load("chime.wav")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if media.Codec != codec.CodecWAV {
		t.Errorf("detected codec = %v, want WAV", media.Codec)
	}
	if len(media.Data) != len(wavHeader) {
		t.Errorf("data length = %d, want %d", len(media.Data), len(wavHeader))
	}
}

func TestLoadFallsBackToExtension(t *testing.T) {
	loader, fs := newTestLoader(t)
	// Content too short for sniffing; the .mp3 extension decides.
	afero.WriteFile(fs, "/media/user/clip.mp3", []byte{0x00}, 0644)

	media, err := loader.Load("clip.mp3")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if media.Codec != codec.CodecMP3 {
		t.Errorf("detected codec = %v, want MP3", media.Codec)
	}
}
