package metadata

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"go.uber.org/zap"

	apperrors "github.com/yodel/yodel-go/internal/errors"
)

const (
	id3v1Size        = 128
	coverDescription = "Front Cover"
	tempSuffix       = ".tagging"
)

// Tags are the values written into an audio file's tag block.
// Empty strings and a zero Year mean absent.
type Tags struct {
	Title  string
	Artist string
	Album  string
	Year   int
}

// TagWriter replaces the tag block of audio files
type TagWriter struct {
	logger      *zap.Logger
	artworkSize int
}

// NewTagWriter creates a tag writer. Embedded covers are scaled to at most artworkSize pixels.
func NewTagWriter(logger *zap.Logger, artworkSize int) *TagWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagWriter{
		logger:      logger.Named("tagger"),
		artworkSize: artworkSize,
	}
}

// Supports reports whether files with the given extension can be tagged
func (w *TagWriter) Supports(ext string) bool {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp3", "flac":
		return true
	}
	return false
}

// WriteTags strips all existing tags from path and writes a fresh tag block.
// coverPath may be empty; a cover that cannot be embedded is logged and skipped.
// The file is rewritten through a sibling temp file that never outlives the call.
func (w *TagWriter) WriteTags(path string, tags Tags, coverPath string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !w.Supports(ext) {
		return apperrors.NewTaggingError(fmt.Sprintf("unsupported file format: %s", ext), nil)
	}

	cover := w.loadCover(path, coverPath)

	tmpPath := path + tempSuffix
	defer os.Remove(tmpPath)

	var err error
	switch ext {
	case "mp3":
		err = w.writeID3(path, tmpPath, tags, cover)
	case "flac":
		err = w.writeVorbis(path, tmpPath, tags, cover)
	}
	if err != nil {
		return apperrors.NewTaggingError(fmt.Sprintf("failed to tag %s", filepath.Base(path)), err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return apperrors.NewTaggingError("failed to replace tagged file", err)
	}
	return nil
}

func (w *TagWriter) loadCover(path, coverPath string) []byte {
	if coverPath == "" {
		return nil
	}
	cover, err := LoadArtwork(coverPath, w.artworkSize, ArtworkJPEG)
	if err != nil {
		w.logger.Warn("Skipping cover art",
			zap.String("file", filepath.Base(path)),
			zap.String("cover", coverPath),
			zap.Error(err))
		return nil
	}
	return cover
}

// writeID3 copies path to tmpPath without its ID3v1 trailer, then replaces
// the ID3v2 tag of the copy with a fresh one.
func (w *TagWriter) writeID3(path, tmpPath string, tags Tags, cover []byte) error {
	if err := copyWithoutID3v1(path, tmpPath); err != nil {
		return err
	}

	// Without parsing, the existing ID3v2 block is skipped on save and replaced
	tag, err := id3v2.Open(tmpPath, id3v2.Options{Parse: false})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.DeleteAllFrames()
	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	tag.SetTitle(tags.Title)
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Year > 0 {
		tag.SetYear(fmt.Sprintf("%04d", tags.Year))
	}
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}

	if len(cover) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    ArtworkJPEG.MimeType(),
			PictureType: id3v2.PTFrontCover,
			Description: coverDescription,
			Picture:     cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 tags: %w", err)
	}
	return nil
}

func copyWithoutID3v1(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	size := info.Size()
	if size >= id3v1Size {
		trailer := make([]byte, 3)
		if _, err := in.ReadAt(trailer, size-id3v1Size); err != nil {
			return fmt.Errorf("failed to read trailer: %w", err)
		}
		if bytes.Equal(trailer, []byte("TAG")) {
			size -= id3v1Size
		}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(out, io.NewSectionReader(in, 0, size)); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return nil
}

// writeVorbis drops every Vorbis comment and picture block and writes fresh ones to tmpPath
func (w *TagWriter) writeVorbis(path, tmpPath string, tags Tags, cover []byte) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open FLAC file: %w", err)
	}
	defer in.Close()

	f, err := flac.ParseBytes(bufio.NewReader(in))
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	meta := make([]*flac.MetaDataBlock, 0, len(f.Meta)+2)
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment && block.Type != flac.Picture {
			meta = append(meta, block)
		}
	}

	cmt := flacvorbis.New()
	fields := [][2]string{
		{flacvorbis.FIELD_TITLE, tags.Title},
		{flacvorbis.FIELD_ARTIST, tags.Artist},
		{flacvorbis.FIELD_ALBUM, tags.Album},
	}
	if tags.Year > 0 {
		fields = append(fields, [2]string{flacvorbis.FIELD_DATE, fmt.Sprintf("%04d", tags.Year)})
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		if err := cmt.Add(field[0], field[1]); err != nil {
			return fmt.Errorf("failed to add %s: %w", field[0], err)
		}
	}
	cmtBlock := cmt.Marshal()
	meta = append(meta, &cmtBlock)

	if len(cover) > 0 {
		meta = append(meta, &flac.MetaDataBlock{
			Type: flac.Picture,
			Data: pictureBlock(cover, ArtworkJPEG.MimeType()),
		})
	}
	f.Meta = meta

	if err := f.Save(tmpPath); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

// pictureBlock builds the body of a FLAC PICTURE metadata block
func pictureBlock(imageData []byte, mimeType string) []byte {
	// type, mime length, mime, description length, description,
	// width, height, depth, colors, data length, data
	size := 4 + 4 + len(mimeType) + 4 + len(coverDescription) + 16 + 4 + len(imageData)
	data := make([]byte, size)

	pos := 0
	putUint32(data[pos:], 3) // front cover
	pos += 4
	putUint32(data[pos:], uint32(len(mimeType)))
	pos += 4
	pos += copy(data[pos:], mimeType)
	putUint32(data[pos:], uint32(len(coverDescription)))
	pos += 4
	pos += copy(data[pos:], coverDescription)

	// Dimensions, depth and palette size stay zero; decoders read them from the image
	pos += 16

	putUint32(data[pos:], uint32(len(imageData)))
	pos += 4
	copy(data[pos:], imageData)

	return data
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
