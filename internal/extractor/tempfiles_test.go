package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestTempFilesLayout(t *testing.T) {
	dir := t.TempDir()
	files := NewTempFiles(dir, "abc/123", DefaultFormat)

	base := strings.TrimSuffix(filepath.Base(files.OutputPath()), ".tmp")
	if !strings.HasPrefix(base, "dl_abc_123_") {
		t.Errorf("base name = %s", base)
	}
	if filepath.Dir(files.OutputPath()) != dir {
		t.Errorf("output outside temp dir: %s", files.OutputPath())
	}
	if files.MetadataPath() != files.OutputPath()+".info.json" {
		t.Errorf("MetadataPath = %s", files.MetadataPath())
	}
	if files.ConvertedPath() != filepath.Join(dir, base+".mp3") {
		t.Errorf("ConvertedPath = %s", files.ConvertedPath())
	}

	other := NewTempFiles(dir, "abc/123", DefaultFormat)
	if other.OutputPath() == files.OutputPath() {
		t.Error("two file sets for one track share a name")
	}
}

func TestTempFilesAudioPrefersConverted(t *testing.T) {
	files := NewTempFiles(t.TempDir(), "id", DefaultFormat)

	if _, ok := files.Audio(); ok {
		t.Fatal("Audio found in an empty dir")
	}

	touch(t, files.OutputPath())
	if got, _ := files.Audio(); got != files.OutputPath() {
		t.Errorf("Audio = %s, want raw download", got)
	}

	touch(t, files.ConvertedPath())
	if got, _ := files.Audio(); got != files.ConvertedPath() {
		t.Errorf("Audio = %s, want converted", got)
	}
}

func TestTempFilesThumbnailPriority(t *testing.T) {
	files := NewTempFiles(t.TempDir(), "id", DefaultFormat)

	touch(t, files.OutputPath()+".png")
	if got, _ := files.Thumbnail(); !strings.HasSuffix(got, ".png") {
		t.Errorf("Thumbnail = %s", got)
	}

	touch(t, files.OutputPath()+".jpg")
	if got, _ := files.Thumbnail(); !strings.HasSuffix(got, ".jpg") {
		t.Errorf("Thumbnail = %s, want jpg ahead of png", got)
	}

	touch(t, files.OutputPath()+".webp")
	if got, _ := files.Thumbnail(); !strings.HasSuffix(got, ".webp") {
		t.Errorf("Thumbnail = %s, want webp first", got)
	}
}

func TestTempFilesMetadataFallback(t *testing.T) {
	files := NewTempFiles(t.TempDir(), "id", DefaultFormat)

	alt := strings.TrimSuffix(files.OutputPath(), ".tmp") + ".info.json"
	touch(t, alt)
	if got, ok := files.Metadata(); !ok || got != alt {
		t.Errorf("Metadata = %s, %v", got, ok)
	}
	touch(t, files.MetadataPath())
	if got, _ := files.Metadata(); got != files.MetadataPath() {
		t.Errorf("Metadata = %s, want primary path", got)
	}
}

func TestTempFilesDelete(t *testing.T) {
	dir := t.TempDir()
	files := NewTempFiles(dir, "id", DefaultFormat)
	neighbour := NewTempFiles(dir, "id", DefaultFormat)

	touch(t, files.OutputPath())
	touch(t, files.MetadataPath())
	touch(t, files.ConvertedPath())
	touch(t, files.OutputPath()+".webp")
	touch(t, files.ConvertedPath()+".tagging")
	touch(t, neighbour.OutputPath())

	if err := files.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != filepath.Base(neighbour.OutputPath()) {
		t.Errorf("remaining entries = %v", entries)
	}

	if err := NewTempFiles(filepath.Join(dir, "missing"), "id", DefaultFormat).Delete(); err != nil {
		t.Errorf("Delete in a missing dir should succeed: %v", err)
	}
}
