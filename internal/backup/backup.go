// Package backup exports and restores the track library as a JSON document.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/store"
)

// ErrNothingToBackup is returned by Create when the library is empty
var ErrNothingToBackup = errors.New("no tracks to back up")

// Document is the serialized backup
type Document struct {
	Tracks     []*store.Track `json:"tracks"`
	BackupTime time.Time      `json:"backup_time"`
}

// Transform is applied to every record before it is restored
type Transform func(t *store.Track)

// ForcePending resets a restored record so it is downloaded again
func ForcePending(t *store.Track) {
	t.Status = store.StatusPending
}

// Service creates and restores backups of a track store
type Service struct {
	tracks *store.TrackStore
	logger *zap.Logger
}

// NewService creates a backup service
func NewService(tracks *store.TrackStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tracks: tracks, logger: logger.Named("backup")}
}

// Create writes every track to w. It refuses to write an empty backup.
func (s *Service) Create(ctx context.Context, w io.Writer) (int, error) {
	tracks, err := s.tracks.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load tracks: %w", err)
	}
	if len(tracks) == 0 {
		return 0, ErrNothingToBackup
	}

	doc := Document{Tracks: tracks, BackupTime: time.Now().UTC().Truncate(time.Second)}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		return 0, fmt.Errorf("failed to write backup: %w", err)
	}

	s.logger.Info("Backup created", zap.Int("tracks", len(tracks)))
	return len(tracks), nil
}

// Read parses a backup document
func Read(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid backup document: %v", err))
	}
	for i, t := range doc.Tracks {
		if t == nil || t.ID == "" {
			return nil, apperrors.NewValidationError(fmt.Sprintf("backup track %d has no id", i))
		}
	}
	return &doc, nil
}

// Restore inserts the tracks of doc. With replaceExisting, records with the
// same id are overwritten; otherwise existing ids are skipped. transform may
// be nil. It returns the number of records written.
func (s *Service) Restore(ctx context.Context, doc *Document, replaceExisting bool, transform Transform) (int, error) {
	if doc == nil || len(doc.Tracks) == 0 {
		return 0, nil
	}

	tracks := make([]*store.Track, 0, len(doc.Tracks))
	for _, t := range doc.Tracks {
		c := t.Clone()
		if c.FirstAddedAt.IsZero() {
			c.FirstAddedAt = store.Now()
		}
		if transform != nil {
			transform(c)
		}
		tracks = append(tracks, c)
	}

	var (
		n   int
		err error
	)
	if replaceExisting {
		n, err = s.tracks.InsertAllReplacing(ctx, tracks)
	} else {
		n, err = s.tracks.InsertAllIgnoringExisting(ctx, tracks)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to restore backup: %w", err)
	}

	s.logger.Info("Backup restored",
		zap.Int("tracks", len(tracks)),
		zap.Int("written", n),
		zap.Bool("replace_existing", replaceExisting))
	return n, nil
}
