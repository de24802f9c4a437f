package storage

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/security"
)

func setupPlacer(t *testing.T) (*Placer, string) {
	t.Helper()
	root := t.TempDir()
	placer, err := NewFromDirs(filepath.Join(root, "data"), "test-secret", Config{
		AudioDir: filepath.Join(root, "music"),
		CoverDir: filepath.Join(root, "data", "cover_store"),
	}, nil)
	if err != nil {
		t.Fatalf("NewFromDirs failed: %v", err)
	}
	return placer, root
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writePNG(t *testing.T, path string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPlaceAudio_CollisionNames(t *testing.T) {
	placer, root := setupPlacer(t)
	src := writeFile(t, filepath.Join(root, "tmp", "dl.mp3"), "audio bytes")

	want := []string{"Song.mp3", "Song (1).mp3", "Song (2).mp3"}
	for _, name := range want {
		key, err := placer.PlaceAudio(src, "Song", "mp3")
		if err != nil {
			t.Fatalf("PlaceAudio failed: %v", err)
		}
		if key == "" {
			t.Fatal("empty key")
		}

		path, ok := placer.Resolve(key)
		if !ok {
			t.Fatalf("key does not resolve: %q", key)
		}
		if filepath.Base(path) != name {
			t.Errorf("placed as %s, want %s", filepath.Base(path), name)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "audio bytes" {
			t.Errorf("content = %q", data)
		}
	}
}

func TestPlaceAudio_ExistingFileIsProbed(t *testing.T) {
	placer, root := setupPlacer(t)
	writeFile(t, filepath.Join(root, "music", "Song.mp3"), "someone else's")
	src := writeFile(t, filepath.Join(root, "tmp", "dl.mp3"), "mine")

	key, err := placer.PlaceAudio(src, "Song", ".mp3")
	if err != nil {
		t.Fatalf("PlaceAudio failed: %v", err)
	}
	path, _ := placer.Resolve(key)
	if filepath.Base(path) != "Song (1).mp3" {
		t.Errorf("placed as %s, want Song (1).mp3", filepath.Base(path))
	}
	if data, _ := os.ReadFile(filepath.Join(root, "music", "Song.mp3")); string(data) != "someone else's" {
		t.Error("existing file was overwritten")
	}
}

func TestPlaceAudio_SanitizesTitle(t *testing.T) {
	placer, root := setupPlacer(t)
	src := writeFile(t, filepath.Join(root, "tmp", "dl.mp3"), "x")

	key, err := placer.PlaceAudio(src, "AC/DC: Back..", "mp3")
	if err != nil {
		t.Fatalf("PlaceAudio failed: %v", err)
	}
	path, _ := placer.Resolve(key)
	if filepath.Dir(path) != filepath.Join(root, "music") {
		t.Errorf("placed outside the downloads dir: %s", path)
	}
	if filepath.Base(path) != "AC_DC_ Back.mp3" {
		t.Errorf("placed as %q", filepath.Base(path))
	}
}

func TestPlaceAudio_MissingSourceLeavesNothing(t *testing.T) {
	placer, root := setupPlacer(t)

	_, err := placer.PlaceAudio(filepath.Join(root, "tmp", "missing.mp3"), "Song", "mp3")
	if apperrors.GetErrorType(err) != apperrors.ErrTypePlacement {
		t.Fatalf("expected placement error, got %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "music"))
	if len(entries) != 0 {
		t.Errorf("partial destination left behind: %v", entries)
	}
}

func TestPlaceAudio_DirectoryError(t *testing.T) {
	root := t.TempDir()
	blocker := writeFile(t, filepath.Join(root, "music"), "a file, not a dir")

	placer, err := NewFromDirs(filepath.Join(root, "data"), "s", Config{
		AudioDir: filepath.Join(blocker, "sub"),
		CoverDir: filepath.Join(root, "covers"),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	src := writeFile(t, filepath.Join(root, "dl.mp3"), "x")
	_, err = placer.PlaceAudio(src, "Song", "mp3")
	if !apperrors.IsDirectoryError(err) {
		t.Errorf("expected directory error, got %v", err)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir not idempotent: %v", err)
	}

	file := writeFile(t, filepath.Join(t.TempDir(), "f"), "x")
	if err := EnsureDir(file); !apperrors.IsDirectoryError(err) {
		t.Errorf("expected directory error for a file, got %v", err)
	}
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	if err := CheckWritable(dir); err != nil {
		t.Fatalf("CheckWritable failed: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
}

func TestPlaceCover(t *testing.T) {
	placer, root := setupPlacer(t)
	thumb := writePNG(t, filepath.Join(root, "thumb.webp"))

	key, err := placer.PlaceCover(thumb, "abc123")
	if err != nil {
		t.Fatalf("PlaceCover failed: %v", err)
	}
	path, ok := placer.Resolve(key)
	if !ok {
		t.Fatal("cover key does not resolve")
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "abc123_") || !strings.HasSuffix(name, ".png") {
		t.Errorf("cover name = %s", name)
	}

	second, err := placer.PlaceCover(thumb, "abc123")
	if err != nil {
		t.Fatalf("second PlaceCover failed: %v", err)
	}
	if second == key {
		t.Error("covers for the same track should get distinct names")
	}

	tmps, _ := filepath.Glob(filepath.Join(root, "data", "cover_store", "*.tmp"))
	if len(tmps) != 0 {
		t.Errorf("temp covers left behind: %v", tmps)
	}

	bad := writeFile(t, filepath.Join(root, "bad.jpg"), "not an image")
	if _, err := placer.PlaceCover(bad, "abc123"); err == nil {
		t.Error("expected error for undecodable thumbnail")
	}
}

func TestExistsAndDelete(t *testing.T) {
	placer, root := setupPlacer(t)
	src := writeFile(t, filepath.Join(root, "tmp", "dl.mp3"), "x")

	key, err := placer.PlaceAudio(src, "Song", "mp3")
	if err != nil {
		t.Fatal(err)
	}
	if !placer.Exists(key) {
		t.Error("Exists = false for a placed file")
	}

	if err := placer.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if placer.Exists(key) {
		t.Error("Exists = true after delete")
	}
	if err := placer.Delete(key); err != nil {
		t.Errorf("deleting a missing file should succeed: %v", err)
	}
	if err := placer.Delete("garbage"); err != nil {
		t.Errorf("deleting an invalid key should succeed: %v", err)
	}
	if placer.Exists("") {
		t.Error("empty key should not exist")
	}
}

func TestKeyCodec_RoundTripAndRejects(t *testing.T) {
	root := t.TempDir()
	signer, err := security.NewKeySigner(root, "secret")
	if err != nil {
		t.Fatal(err)
	}
	codec := NewKeyCodec(signer, map[Scope]string{
		ScopeAudio: filepath.Join(root, "music"),
		ScopeCover: filepath.Join(root, "covers"),
	})

	refs := []Ref{
		{Scope: ScopeAudio, Path: "Song.mp3"},
		{Scope: ScopeAudio, Path: "sub/Song (1).mp3"},
		{Scope: ScopeCover, Path: "abc_123.png"},
	}
	for _, ref := range refs {
		key, err := codec.Encode(ref)
		if err != nil {
			t.Fatalf("Encode(%+v) failed: %v", ref, err)
		}
		got, ok := codec.Decode(key)
		if !ok || got != ref {
			t.Errorf("Decode(Encode(%+v)) = %+v, %v", ref, got, ok)
		}
	}

	if _, err := codec.Encode(Ref{Scope: ScopeAudio, Path: "../escape.mp3"}); err == nil {
		t.Error("Encode accepted a traversal path")
	}
	if _, err := codec.Encode(Ref{Scope: "other", Path: "x"}); err == nil {
		t.Error("Encode accepted an unknown scope")
	}

	// A validly signed payload that points outside its root must not decode
	forged := signer.Sign([]byte(`{"s":"audio","p":"../../etc/passwd"}`))
	unknownScope := signer.Sign([]byte(`{"s":"nope","p":"x"}`))
	notJSON := signer.Sign([]byte(`not json`))

	for _, key := range []string{"", "   ", "abc", "a.b", forged, unknownScope, notJSON} {
		if ref, ok := codec.Decode(key); ok {
			t.Errorf("Decode(%q) = %+v, want absent", key, ref)
		}
	}

	otherSigner, _ := security.NewKeySigner(t.TempDir(), "secret")
	otherKey := otherSigner.Sign([]byte(`{"s":"audio","p":"Song.mp3"}`))
	if _, ok := codec.Decode(otherKey); ok {
		t.Error("key signed with another salt decoded")
	}
}

func TestKeysSurviveUserEnvironmentChange(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	cfg := Config{
		AudioDir: filepath.Join(root, "music"),
		CoverDir: filepath.Join(dataDir, "cover_store"),
	}

	t.Setenv("USER", "alice")
	first, err := NewFromDirs(dataDir, "", cfg, nil)
	if err != nil {
		t.Fatalf("NewFromDirs failed: %v", err)
	}
	src := writeFile(t, filepath.Join(root, "tmp", "dl.mp3"), "audio bytes")
	key, err := first.PlaceAudio(src, "Song", "mp3")
	if err != nil {
		t.Fatalf("PlaceAudio failed: %v", err)
	}

	t.Setenv("USER", "")
	t.Setenv("USERNAME", "")
	second, err := NewFromDirs(dataDir, "", cfg, nil)
	if err != nil {
		t.Fatalf("NewFromDirs failed: %v", err)
	}
	if !second.Exists(key) {
		t.Error("key placed under one user environment no longer resolves under another")
	}
}
