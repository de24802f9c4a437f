package store

import (
	"fmt"
	"time"
)

// TrackStatus is the lifecycle state of a track
type TrackStatus int

const (
	StatusPending TrackStatus = iota
	StatusDownloading
	StatusDownloaded
	StatusFailed
	StatusFileDeleted
)

// statusKeys is the persisted key of every status. Keys are part of the
// database and backup formats and must never change.
var statusKeys = map[TrackStatus]string{
	StatusPending:     "pending",
	StatusDownloading: "downloading",
	StatusDownloaded:  "downloaded",
	StatusFailed:      "failed",
	StatusFileDeleted: "deleted",
}

var statusByKey = func() map[string]TrackStatus {
	m := make(map[string]TrackStatus, len(statusKeys))
	for s, k := range statusKeys {
		m[k] = s
	}
	return m
}()

// Key returns the persistence key of the status
func (s TrackStatus) Key() string {
	if k, ok := statusKeys[s]; ok {
		return k
	}
	return statusKeys[StatusPending]
}

func (s TrackStatus) String() string {
	return s.Key()
}

// ParseStatus maps a persistence key to a status. Unknown keys map to pending.
func ParseStatus(key string) TrackStatus {
	if s, ok := statusByKey[key]; ok {
		return s
	}
	return StatusPending
}

// MarshalText implements encoding.TextMarshaler
func (s TrackStatus) MarshalText() ([]byte, error) {
	return []byte(s.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *TrackStatus) UnmarshalText(text []byte) error {
	*s = ParseStatus(string(text))
	return nil
}

// validTransitions lists every allowed status change
var validTransitions = map[TrackStatus][]TrackStatus{
	StatusPending:     {StatusDownloading},
	StatusDownloading: {StatusDownloaded, StatusFailed, StatusPending},
	StatusDownloaded:  {StatusFileDeleted},
	StatusFailed:      {StatusPending},
	StatusFileDeleted: {StatusPending},
}

// CanTransition reports whether a track may move from one status to another.
// Downloading→Pending is reserved for the startup reset and for cancelled attempts.
func CanTransition(from, to TrackStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Date is a calendar date without time of day
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// NewDate creates a date, normalizing out-of-range values like time.Date does
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// ParseDate parses an ISO-8601 date (2006-01-02)
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText implements encoding.TextMarshaler
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Track is one acquirable audio item and its persisted state.
// Empty strings and nil pointers mean the value is absent.
type Track struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Artist       string      `json:"artist,omitempty"`
	ReleaseDate  *Date       `json:"release_date,omitempty"`
	Duration     *int64      `json:"duration,omitempty"` // seconds
	AlbumName    string      `json:"album_name,omitempty"`
	AudioFileKey string      `json:"audio_file_key"`
	CoverFileKey string      `json:"cover_file_key"`
	Status       TrackStatus `json:"status"`
	FirstAddedAt time.Time   `json:"first_added_at"`
}

// NewTrack creates a pending track with the given id and placeholder title
func NewTrack(id, title string) *Track {
	return &Track{
		ID:           id,
		Title:        title,
		Status:       StatusPending,
		FirstAddedAt: Now(),
	}
}

// Now returns the current time at the precision the store persists
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// SameID reports whether two tracks are the same record
func (t *Track) SameID(other *Track) bool {
	return other != nil && t.ID == other.ID
}

// Equal compares every field
func (t *Track) Equal(other *Track) bool {
	if other == nil {
		return false
	}
	return t.ID == other.ID &&
		t.Title == other.Title &&
		t.Artist == other.Artist &&
		equalPtr(t.ReleaseDate, other.ReleaseDate) &&
		equalPtr(t.Duration, other.Duration) &&
		t.AlbumName == other.AlbumName &&
		t.AudioFileKey == other.AudioFileKey &&
		t.CoverFileKey == other.CoverFileKey &&
		t.Status == other.Status &&
		t.FirstAddedAt.Equal(other.FirstAddedAt)
}

// Clone returns a deep copy of the track
func (t *Track) Clone() *Track {
	c := *t
	if t.ReleaseDate != nil {
		d := *t.ReleaseDate
		c.ReleaseDate = &d
	}
	if t.Duration != nil {
		v := *t.Duration
		c.Duration = &v
	}
	return &c
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
