package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/store"
)

// RawMetadata is the info document the extractor writes next to the audio.
// Every field is optional.
type RawMetadata struct {
	Title         string   `json:"title"`
	AltTitle      string   `json:"alt_title"`
	UploadDate    string   `json:"upload_date"`
	Channel       string   `json:"channel"`
	Duration      *float64 `json:"duration"`
	Track         string   `json:"track"`
	Creator       string   `json:"creator"`
	Artist        string   `json:"artist"`
	Album         string   `json:"album"`
	Categories    []string `json:"categories"`
	Tags          []string `json:"tags"`
	ViewCount     *int64   `json:"view_count"`
	LikeCount     *int64   `json:"like_count"`
	DislikeCount  *int64   `json:"dislike_count"`
	AverageRating *float64 `json:"average_rating"`
}

// Resolved holds the normalized values applied to a track.
// Empty strings and nil pointers mean absent.
type Resolved struct {
	Title       string
	Artist      string
	Album       string
	ReleaseDate *store.Date
	Duration    *int64
}

// ParseMetadataFile reads and decodes an info document
func ParseMetadataFile(path string) (*RawMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewMetadataError(fmt.Sprintf("failed to read metadata file %s", path), err)
	}
	return ParseMetadata(data)
}

// ParseMetadata decodes an info document
func ParseMetadata(data []byte) (*RawMetadata, error) {
	var meta RawMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.NewMetadataError("failed to decode metadata document", err)
	}
	return &meta, nil
}

// TrackTitle returns the first non-blank of track, alt_title and title
func (m *RawMetadata) TrackTitle() string {
	return firstNonBlank(m.Track, m.AltTitle, m.Title)
}

// ArtistName returns the first listed artist, falling back to the creator
// and then the channel name.
func (m *RawMetadata) ArtistName() string {
	if list := firstNonBlank(m.Artist, m.Creator); list != "" {
		if i := strings.IndexByte(list, ','); i > 0 {
			list = list[:i]
		}
		return strings.TrimSpace(list)
	}
	return strings.TrimSpace(m.Channel)
}

// ReleaseDate parses upload_date in its compact YYYYMMDD form
func (m *RawMetadata) ReleaseDate() *store.Date {
	s := strings.TrimSpace(m.UploadDate)
	if len(s) != 8 {
		return nil
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return nil
	}
	d := store.NewDate(t.Year(), t.Month(), t.Day())
	return &d
}

// DurationSeconds returns the duration rounded to whole seconds
func (m *RawMetadata) DurationSeconds() *int64 {
	if m.Duration == nil || math.IsNaN(*m.Duration) || *m.Duration < 0 {
		return nil
	}
	d := int64(math.Round(*m.Duration))
	return &d
}

// Resolve normalizes the document. It never fails.
func (m *RawMetadata) Resolve() Resolved {
	return Resolved{
		Title:       m.TrackTitle(),
		Artist:      m.ArtistName(),
		Album:       m.Album,
		ReleaseDate: m.ReleaseDate(),
		Duration:    m.DurationSeconds(),
	}
}

// ApplyTo copies resolved values onto a track. Absent values leave the track untouched.
func (r Resolved) ApplyTo(t *store.Track) {
	if r.Title != "" {
		t.Title = r.Title
	}
	if r.Artist != "" {
		t.Artist = r.Artist
	}
	if r.Album != "" {
		t.AlbumName = r.Album
	}
	if r.ReleaseDate != nil {
		d := *r.ReleaseDate
		t.ReleaseDate = &d
	}
	if r.Duration != nil {
		v := *r.Duration
		t.Duration = &v
	}
}

// TagsFor builds the tag values for a track
func TagsFor(t *store.Track) Tags {
	tags := Tags{
		Title:  t.Title,
		Artist: t.Artist,
		Album:  t.AlbumName,
	}
	if t.ReleaseDate != nil {
		tags.Year = t.ReleaseDate.Year
	}
	return tags
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
