package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/metadata"
	"github.com/yodel/yodel-go/internal/security"
)

// maxCollisionProbes bounds the "Title (n).ext" search
const maxCollisionProbes = 10000

// Config contains placement configuration
type Config struct {
	AudioDir string
	CoverDir string
	// CoverSize caps the longer side of stored covers; 0 keeps the original size
	CoverSize int
}

// Placer commits downloaded files to their final locations
type Placer struct {
	config Config
	codec  *KeyCodec
	logger *zap.Logger
}

// NewPlacer creates a new Placer
func NewPlacer(config Config, codec *KeyCodec, logger *zap.Logger) *Placer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Placer{
		config: config,
		codec:  codec,
		logger: logger.Named("placer"),
	}
}

// NewFromDirs builds the signer, codec and placer for an audio and cover directory
func NewFromDirs(dataDir, secret string, config Config, logger *zap.Logger) (*Placer, error) {
	signer, err := security.NewKeySigner(dataDir, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key signer: %w", err)
	}
	codec := NewKeyCodec(signer, map[Scope]string{
		ScopeAudio: config.AudioDir,
		ScopeCover: config.CoverDir,
	})
	return NewPlacer(config, codec, logger), nil
}

// Codec returns the key codec
func (p *Placer) Codec() *KeyCodec {
	return p.codec
}

// AudioDir returns the downloads directory
func (p *Placer) AudioDir() string {
	return p.config.AudioDir
}

// EnsureDir creates path if needed
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return apperrors.NewDirectoryError(path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.NewDirectoryError(path, err)
	}
	if !info.IsDir() {
		return apperrors.NewDirectoryError(path, fmt.Errorf("not a directory"))
	}
	return nil
}

// CheckWritable verifies files can be created in dir
func CheckWritable(dir string) error {
	if err := EnsureDir(dir); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".yodel-write-check-*")
	if err != nil {
		return apperrors.NewDirectoryError(dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

// PlaceAudio copies src into the downloads directory as "<title>.<ext>",
// adding " (n)" before the extension until the name is free, and returns its key.
func (p *Placer) PlaceAudio(src, title, ext string) (string, error) {
	if err := EnsureDir(p.config.AudioDir); err != nil {
		return "", err
	}

	ext = strings.TrimPrefix(ext, ".")
	dst, out, err := createUnique(p.config.AudioDir, security.SanitizeFilename(title), ext)
	if err != nil {
		return "", err
	}

	if err := copyInto(out, src); err != nil {
		os.Remove(dst)
		return "", apperrors.NewPlacementError(fmt.Sprintf("failed to copy audio to %s", filepath.Base(dst)), err)
	}

	key, err := p.codec.EncodePath(ScopeAudio, dst)
	if err != nil {
		os.Remove(dst)
		return "", apperrors.NewPlacementError("failed to create file key", err)
	}

	p.logger.Debug("Placed audio file", zap.String("path", dst))
	return key, nil
}

// createUnique creates a new file named base.ext, base (1).ext, base (2).ext, ...
func createUnique(dir, base, ext string) (string, *os.File, error) {
	for i := 0; i < maxCollisionProbes; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s (%d)", base, i)
		}
		if ext != "" {
			name += "." + ext
		}

		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return path, f, nil
		}
		if !os.IsExist(err) {
			return "", nil, apperrors.NewPlacementError(fmt.Sprintf("failed to create %s", name), err)
		}
	}
	return "", nil, apperrors.NewPlacementError(fmt.Sprintf("no free file name for %q", base), nil)
}

// copyInto copies src into out and closes out
func copyInto(out *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		out.Close()
		return err
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// PlaceCover stores thumbnail as a lossless PNG named "<trackID>_<random>.png"
// in the cover store and returns its key.
func (p *Placer) PlaceCover(thumbnail, trackID string) (string, error) {
	if err := EnsureDir(p.config.CoverDir); err != nil {
		return "", err
	}

	data, err := metadata.LoadArtwork(thumbnail, p.config.CoverSize, metadata.ArtworkPNG)
	if err != nil {
		return "", apperrors.NewPlacementError("failed to convert cover", err)
	}

	name := fmt.Sprintf("%s_%s.png", security.SanitizeFilename(trackID), strings.ReplaceAll(uuid.NewString(), "-", ""))
	dst := filepath.Join(p.config.CoverDir, name)
	tmp := dst + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return "", apperrors.NewPlacementError("failed to write cover", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", apperrors.NewPlacementError("failed to commit cover", err)
	}

	key, err := p.codec.EncodePath(ScopeCover, dst)
	if err != nil {
		os.Remove(dst)
		return "", apperrors.NewPlacementError("failed to create file key", err)
	}
	return key, nil
}

// Resolve returns the absolute path behind a file key
func (p *Placer) Resolve(key string) (string, bool) {
	return p.codec.Resolve(key)
}

// Exists reports whether key resolves to an existing regular file
func (p *Placer) Exists(key string) bool {
	path, ok := p.codec.Resolve(key)
	if !ok {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the file behind key. Missing files and invalid keys are not errors.
func (p *Placer) Delete(key string) error {
	path, ok := p.codec.Resolve(key)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.NewFileSystemError(fmt.Sprintf("failed to delete %s", filepath.Base(path)), err)
	}
	return nil
}
