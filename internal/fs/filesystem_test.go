package fs

import (
	"testing"

	"github.com/spf13/afero"
)

func TestDefaultFactory(t *testing.T) {
	factory := NewDefaultFactory()

	if _, ok := factory.Production().(*afero.OsFs); !ok {
		t.Error("Expected production filesystem to be *afero.OsFs")
	}
	if _, ok := factory.Memory().(*afero.MemMapFs); !ok {
		t.Error("Expected memory filesystem to be *afero.MemMapFs")
	}
}

func TestMemoryFilesystemIsolation(t *testing.T) {
	factory := NewDefaultFactory()
	memFS1 := factory.Memory()
	memFS2 := factory.Memory()

	if err := afero.WriteFile(memFS1, "/test1.txt", []byte("content1"), 0644); err != nil {
		t.Fatalf("Failed to write to memFS1: %v", err)
	}
	if err := afero.WriteFile(memFS2, "/test2.txt", []byte("content2"), 0644); err != nil {
		t.Fatalf("Failed to write to memFS2: %v", err)
	}

	if exists, _ := afero.Exists(memFS1, "/test2.txt"); exists {
		t.Error("Expected file from memFS2 not to exist in memFS1 (isolation broken)")
	}
	if exists, _ := afero.Exists(memFS2, "/test1.txt"); exists {
		t.Error("Expected file from memFS1 not to exist in memFS2 (isolation broken)")
	}
	if exists, _ := afero.Exists(memFS1, "/test1.txt"); !exists {
		t.Error("Expected memFS1 to have its own file")
	}
}
