package extractor

import (
	"fmt"
	"sort"
	"strings"
)

// Format is an audio format the extractor can convert to
type Format struct {
	// Name is the configuration key
	Name string
	// AudioFormat is the value passed to --audio-format
	AudioFormat string
	// Extension is the file extension of the converted audio
	Extension string
	MimeType  string
	// Taggable reports whether the format has a supported tag block
	Taggable bool
}

var formats = map[string]Format{
	"mp3":  {Name: "mp3", AudioFormat: "mp3", Extension: "mp3", MimeType: "audio/mp3", Taggable: true},
	"aac":  {Name: "aac", AudioFormat: "aac", Extension: "aac", MimeType: "audio/aac"},
	"weba": {Name: "weba", AudioFormat: "opus", Extension: "opus", MimeType: "audio/weba"},
	"ogg":  {Name: "ogg", AudioFormat: "vorbis", Extension: "ogg", MimeType: "audio/ogg"},
	"flac": {Name: "flac", AudioFormat: "flac", Extension: "flac", MimeType: "audio/flac", Taggable: true},
	"wav":  {Name: "wav", AudioFormat: "wav", Extension: "wav", MimeType: "audio/wav"},
}

// DefaultFormat is used when nothing else is configured
var DefaultFormat = formats["mp3"]

// ParseFormat looks up a format by its configuration key
func ParseFormat(name string) (Format, error) {
	f, ok := formats[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Format{}, fmt.Errorf("unknown download format %q (expected one of %s)", name, strings.Join(FormatNames(), ", "))
	}
	return f, nil
}

// FormatNames returns every configuration key, sorted
func FormatNames() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
