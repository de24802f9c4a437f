package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yodel/yodel-go/internal/security"
)

const (
	rawSuffix      = ".tmp"
	metadataSuffix = ".info.json"
)

// thumbnailSuffixes are probed in order; the extractor picks the extension itself
var thumbnailSuffixes = []string{".webp", ".webm", ".jpg", ".jpeg", ".png"}

// TempFiles is the set of working files of one download attempt
type TempFiles struct {
	dir    string
	base   string
	format Format
}

// NewTempFiles creates a fresh, uniquely named file set in dir
func NewTempFiles(dir, trackID string, format Format) *TempFiles {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return &TempFiles{
		dir:    dir,
		base:   fmt.Sprintf("dl_%s_%s", security.SanitizeFilename(trackID), id),
		format: format,
	}
}

// Dir returns the directory holding the files
func (f *TempFiles) Dir() string {
	return f.dir
}

// OutputPath is the path handed to the extractor for the raw download
func (f *TempFiles) OutputPath() string {
	return f.path(f.base + rawSuffix)
}

// ConvertedPath is where the extractor writes the converted audio
func (f *TempFiles) ConvertedPath() string {
	return f.path(f.base + "." + f.format.Extension)
}

// MetadataPath is where the extractor writes the info document
func (f *TempFiles) MetadataPath() string {
	return f.OutputPath() + metadataSuffix
}

// Audio returns the converted audio if present, else the raw download
func (f *TempFiles) Audio() (string, bool) {
	return firstExisting(
		f.ConvertedPath(),
		f.OutputPath()+"."+f.format.Extension,
		f.OutputPath(),
	)
}

// Metadata returns the info document if present
func (f *TempFiles) Metadata() (string, bool) {
	return firstExisting(f.MetadataPath(), f.path(f.base+metadataSuffix))
}

// Thumbnail returns the first thumbnail found, in suffix priority order
func (f *TempFiles) Thumbnail() (string, bool) {
	candidates := make([]string, 0, 2*len(thumbnailSuffixes))
	for _, suffix := range thumbnailSuffixes {
		candidates = append(candidates, f.OutputPath()+suffix, f.path(f.base+suffix))
	}
	return firstExisting(candidates...)
}

// Delete removes every file belonging to the set, including intermediates
// the extractor or tagger may have left behind.
func (f *TempFiles) Delete() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list temp dir: %w", err)
	}

	var firstErr error
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), f.base+".") {
			continue
		}
		if err := os.RemoveAll(f.path(entry.Name())); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove temp file %s: %w", entry.Name(), err)
		}
	}
	return firstErr
}

func (f *TempFiles) path(name string) string {
	return filepath.Join(f.dir, name)
}

func firstExisting(paths ...string) (string, bool) {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}
