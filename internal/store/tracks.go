package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/yodel/yodel-go/internal/errors"
)

const trackColumns = `id, title, artist, release_date, duration, album_name,
	audio_file_key, cover_file_key, status, first_added_at`

// TrackStore manages track records in the database
type TrackStore struct {
	db      *sql.DB
	batchMu sync.Mutex // serializes batch inserts
	changes *broadcaster
}

// NewTrackStore creates a new TrackStore
func NewTrackStore(db *sql.DB) *TrackStore {
	return &TrackStore{
		db:      db,
		changes: newBroadcaster(),
	}
}

// DB returns the underlying database handle
func (s *TrackStore) DB() *sql.DB {
	return s.db
}

// SubscribePending signals whenever the set of pending tracks may have changed
func (s *TrackStore) SubscribePending() *Subscription {
	return s.changes.subscribe(topicPending)
}

// SubscribeAll signals after every write
func (s *TrackStore) SubscribeAll() *Subscription {
	return s.changes.subscribe(topicAll)
}

func (s *TrackStore) notify(touchesPending bool) {
	if touchesPending {
		s.changes.publish(topicAll, topicPending)
		return
	}
	s.changes.publish(topicAll)
}

// Get returns the track with the given id
func (s *TrackStore) Get(ctx context.Context, id string) (*Track, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id)
	track, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("track not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return track, nil
}

// All returns every track, oldest first
func (s *TrackStore) All(ctx context.Context) ([]*Track, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+trackColumns+` FROM tracks ORDER BY first_added_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()
	return scanTracks(rows)
}

// PendingAll returns every pending track, oldest first
func (s *TrackStore) PendingAll(ctx context.Context) ([]*Track, error) {
	return s.ByStatus(ctx, StatusPending)
}

// DownloadedAll returns every downloaded track, oldest first
func (s *TrackStore) DownloadedAll(ctx context.Context) ([]*Track, error) {
	return s.ByStatus(ctx, StatusDownloaded)
}

// ByStatus returns every track in the given status, oldest first
func (s *TrackStore) ByStatus(ctx context.Context, status TrackStatus) ([]*Track, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE status = ? ORDER BY first_added_at, id`,
		status.Key(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tracks: %w", status, err)
	}
	defer rows.Close()
	return scanTracks(rows)
}

// Counts returns the number of tracks per status
func (s *TrackStore) Counts(ctx context.Context) (map[TrackStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tracks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tracks: %w", err)
	}
	defer rows.Close()

	counts := make(map[TrackStatus]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[ParseStatus(key)] += n
	}
	return counts, rows.Err()
}

// Insert adds a track, replacing any existing track with the same id
func (s *TrackStore) Insert(ctx context.Context, track *Track) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO tracks (`+trackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, trackArgs(track)...); err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}
	s.notify(true)
	return nil
}

// InsertAllIgnoringExisting adds tracks whose id is not present yet.
// It returns the number of tracks actually inserted.
func (s *TrackStore) InsertAllIgnoringExisting(ctx context.Context, tracks []*Track) (int, error) {
	return s.insertBatch(ctx, "INSERT OR IGNORE", tracks)
}

// InsertAllReplacing adds tracks, replacing existing tracks with the same id
func (s *TrackStore) InsertAllReplacing(ctx context.Context, tracks []*Track) (int, error) {
	return s.insertBatch(ctx, "INSERT OR REPLACE", tracks)
}

func (s *TrackStore) insertBatch(ctx context.Context, verb string, tracks []*Track) (int, error) {
	if len(tracks) == 0 {
		return 0, nil
	}

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, verb+` INTO tracks (`+trackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, track := range tracks {
		result, err := stmt.ExecContext(ctx, trackArgs(track)...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert track %s: %w", track.ID, err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notify(true)
	return inserted, nil
}

// Update writes every mutable field of an existing track. FirstAddedAt is immutable.
func (s *TrackStore) Update(ctx context.Context, track *Track) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tracks
		SET title = ?, artist = ?, release_date = ?, duration = ?, album_name = ?,
		    audio_file_key = ?, cover_file_key = ?, status = ?
		WHERE id = ?`,
		track.Title,
		nullString(track.Artist),
		nullDate(track.ReleaseDate),
		nullInt64(track.Duration),
		nullString(track.AlbumName),
		track.AudioFileKey,
		track.CoverFileKey,
		track.Status.Key(),
		track.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("update affected 0 rows for track %s", track.ID))
	}

	s.notify(true)
	return nil
}

// Remove deletes a track record
func (s *TrackStore) Remove(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove track: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("track not found: %s", id))
	}
	s.notify(true)
	return nil
}

// ResetDownloadingToPending returns every downloading track to pending.
// Run it before processing starts; any attempt still marked downloading is presumed dead.
func (s *TrackStore) ResetDownloadingToPending(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tracks SET status = ? WHERE status = ?`,
		StatusPending.Key(), StatusDownloading.Key(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset downloading tracks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		s.notify(true)
	}
	return n, nil
}

// ClaimPending atomically moves a track from pending to downloading.
// It reports false when the track is not pending (or missing).
func (s *TrackStore) ClaimPending(ctx context.Context, id string) (bool, error) {
	return s.swapStatus(ctx, id, StatusPending, StatusDownloading)
}

// SetStatus moves a track from one status to another if it is still in from.
// It reports false when the track was not in from.
func (s *TrackStore) SetStatus(ctx context.Context, id string, from, to TrackStatus) (bool, error) {
	if !CanTransition(from, to) {
		return false, apperrors.NewInvalidTransitionError(id, from.Key(), to.Key())
	}
	return s.swapStatus(ctx, id, from, to)
}

func (s *TrackStore) swapStatus(ctx context.Context, id string, from, to TrackStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tracks SET status = ? WHERE id = ? AND status = ?`,
		to.Key(), id, from.Key(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set track status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	s.notify(from == StatusPending || to == StatusPending)
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(row rowScanner) (*Track, error) {
	var (
		track       Track
		artist      sql.NullString
		releaseDate sql.NullString
		duration    sql.NullInt64
		albumName   sql.NullString
		status      string
		addedAt     int64
	)

	if err := row.Scan(
		&track.ID,
		&track.Title,
		&artist,
		&releaseDate,
		&duration,
		&albumName,
		&track.AudioFileKey,
		&track.CoverFileKey,
		&status,
		&addedAt,
	); err != nil {
		return nil, err
	}

	track.Artist = artist.String
	track.AlbumName = albumName.String
	track.Status = ParseStatus(status)
	track.FirstAddedAt = time.UnixMilli(addedAt).UTC()
	if duration.Valid {
		d := duration.Int64
		track.Duration = &d
	}
	if releaseDate.Valid {
		// A malformed stored date is treated as absent
		if d, err := ParseDate(releaseDate.String); err == nil {
			track.ReleaseDate = &d
		}
	}

	return &track, nil
}

func scanTracks(rows *sql.Rows) ([]*Track, error) {
	var tracks []*Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracks: %w", err)
	}
	return tracks, nil
}

func trackArgs(t *Track) []interface{} {
	addedAt := t.FirstAddedAt
	if addedAt.IsZero() {
		addedAt = Now()
	}
	return []interface{}{
		t.ID,
		t.Title,
		nullString(t.Artist),
		nullDate(t.ReleaseDate),
		nullInt64(t.Duration),
		nullString(t.AlbumName),
		t.AudioFileKey,
		t.CoverFileKey,
		t.Status.Key(),
		addedAt.UnixMilli(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDate(d *Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
