// Package library holds the user-facing track operations: adding links,
// retrying, deleting and listing.
package library

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/store"
)

var (
	// (music.)youtube.com/watch?v=<id>
	fullLinkPattern = regexp.MustCompile(`(?:https?://)?(?:music\.)?(?:www\.)?youtube\.com/.*watch\?(?:.*&)?v=([^&#]+)`)
	// youtu.be/<id>
	shortLinkPattern = regexp.MustCompile(`(?:https?://)?youtu\.be/([^?&#/]+)`)
	bareIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ExtractTrackID returns the video id of a shared link or a bare id
func ExtractTrackID(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if m := fullLinkPattern.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	if m := shortLinkPattern.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	if bareIDPattern.MatchString(ref) {
		return ref, true
	}
	return "", false
}

// FileRemover deletes the file behind a file key
type FileRemover interface {
	Delete(key string) error
}

// EnqueueResult lists what Enqueue did with each id
type EnqueueResult struct {
	Added   []string `json:"added"`
	Skipped []string `json:"skipped"`
}

// Service implements the library operations
type Service struct {
	tracks *store.TrackStore
	files  FileRemover
	logger *zap.Logger
}

// NewService creates a library service
func NewService(tracks *store.TrackStore, files FileRemover, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tracks: tracks, files: files, logger: logger.Named("library")}
}

// Enqueue adds a pending track for each ref. The id doubles as the title
// until metadata is known. Ids already in the library are skipped.
func (s *Service) Enqueue(ctx context.Context, refs ...string) (*EnqueueResult, error) {
	if len(refs) == 0 {
		return nil, apperrors.NewValidationError("no links given")
	}

	ids := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		id, ok := ExtractTrackID(ref)
		if !ok {
			return nil, apperrors.NewValidationError(fmt.Sprintf("not a video link or id: %q", ref))
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	res := &EnqueueResult{Added: []string{}, Skipped: []string{}}
	var fresh []*store.Track
	for _, id := range ids {
		_, err := s.tracks.Get(ctx, id)
		switch {
		case err == nil:
			res.Skipped = append(res.Skipped, id)
		case apperrors.IsNotFound(err):
			fresh = append(fresh, store.NewTrack(id, id))
		default:
			return nil, err
		}
	}

	if len(fresh) > 0 {
		if _, err := s.tracks.InsertAllIgnoringExisting(ctx, fresh); err != nil {
			return nil, err
		}
		for _, t := range fresh {
			res.Added = append(res.Added, t.ID)
		}
	}

	s.logger.Info("Tracks enqueued", zap.Int("added", len(res.Added)), zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// Retry queues a failed or deleted track again
func (s *Service) Retry(ctx context.Context, id string) error {
	t, err := s.tracks.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != store.StatusFailed && t.Status != store.StatusFileDeleted {
		return apperrors.NewValidationError(fmt.Sprintf("track %s is %s and cannot be retried", id, t.Status))
	}

	ok, err := s.tracks.SetStatus(ctx, id, t.Status, store.StatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewInvalidTransitionError(id, t.Status.Key(), store.StatusPending.Key())
	}

	s.logger.Info("Track queued for retry", zap.String("track_id", id))
	return nil
}

// Delete removes the audio and cover files of a track, then its record.
// The record stays when a file cannot be removed.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.tracks.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == store.StatusDownloading {
		return apperrors.NewValidationError(fmt.Sprintf("track %s is downloading", id))
	}

	for _, key := range []string{t.AudioFileKey, t.CoverFileKey} {
		if key == "" {
			continue
		}
		if err := s.files.Delete(key); err != nil {
			return fmt.Errorf("failed to delete files of track %s: %w", id, err)
		}
	}

	if err := s.tracks.Remove(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Track deleted", zap.String("track_id", id), zap.String("title", t.Title))
	return nil
}

// List returns every track, oldest first
func (s *Service) List(ctx context.Context) ([]*store.Track, error) {
	return s.tracks.All(ctx)
}

// ListByStatus returns the tracks in one status
func (s *Service) ListByStatus(ctx context.Context, status store.TrackStatus) ([]*store.Track, error) {
	return s.tracks.ByStatus(ctx, status)
}

// Get returns one track
func (s *Service) Get(ctx context.Context, id string) (*store.Track, error) {
	return s.tracks.Get(ctx, id)
}

// Counts returns the number of tracks per status
func (s *Service) Counts(ctx context.Context) (map[store.TrackStatus]int, error) {
	return s.tracks.Counts(ctx)
}
