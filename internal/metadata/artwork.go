package metadata

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/nfnt/resize"

	// Thumbnails arrive as webp more often than not
	_ "golang.org/x/image/webp"
)

// ArtworkFormat is the encoding used for re-encoded artwork
type ArtworkFormat string

const (
	// ArtworkJPEG is used for covers embedded in tags
	ArtworkJPEG ArtworkFormat = "jpeg"
	// ArtworkPNG is used for the lossless cover store
	ArtworkPNG ArtworkFormat = "png"
)

// MimeType returns the MIME type of the format
func (f ArtworkFormat) MimeType() string {
	if f == ArtworkPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// LoadArtwork reads an image file and re-encodes it
func LoadArtwork(path string, maxSize int, format ArtworkFormat) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork: %w", err)
	}
	return EncodeArtwork(data, maxSize, format)
}

// EncodeArtwork decodes jpeg, png or webp image data, scales it so the longer
// side is at most maxSize (0 keeps the original size) and encodes it in format.
func EncodeArtwork(data []byte, maxSize int, format ArtworkFormat) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}

	if maxSize > 0 && (width > maxSize || height > maxSize) {
		// Keep the aspect ratio; the longer side becomes maxSize
		if width >= height {
			img = resize.Resize(uint(maxSize), 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, uint(maxSize), img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	switch format {
	case ArtworkPNG:
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}
