// Package codec detects still-image formats by their leading bytes and
// decodes or encodes single images in PNG, JPEG, GIF, BMP, TIFF and WebP.
//
// It is the single-frame boundary of the apng module: animation is handled
// elsewhere, and this package never looks past the first image of a file.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	nativewebp "github.com/HugoSmits86/nativewebp"
	gen2brain "github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	xwebp "golang.org/x/image/webp"

	"github.com/deepteams/apng/internal/container"
)

// Type identifies an image file format.
type Type int

const (
	Unknown Type = iota
	JPEG
	JPEG2000
	TIFF
	BMP
	ICO
	ICNS
	GIF
	PNG
	WebP
)

var typeNames = [...]string{
	Unknown:  "unknown",
	JPEG:     "jpeg",
	JPEG2000: "jpeg2000",
	TIFF:     "tiff",
	BMP:      "bmp",
	ICO:      "ico",
	ICNS:     "icns",
	GIF:      "gif",
	PNG:      "png",
	WebP:     "webp",
}

var typeExts = [...]string{
	JPEG:     "jpg",
	JPEG2000: "jp2",
	TIFF:     "tiff",
	BMP:      "bmp",
	ICO:      "ico",
	ICNS:     "icns",
	GIF:      "gif",
	PNG:      "png",
	WebP:     "webp",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeNames[t]
}

// Extension returns the usual file extension without a dot, or "" for
// Unknown.
func (t Type) Extension() string {
	if t < 0 || int(t) >= len(typeExts) {
		return ""
	}
	return typeExts[t]
}

// ParseType returns the Type named by s, accepting names and extensions
// such as "jpeg", "jpg", "tif" and "webp".
func ParseType(s string) (Type, error) {
	switch s {
	case "jpg", "jpeg":
		return JPEG, nil
	case "jp2", "jpeg2000":
		return JPEG2000, nil
	case "tif", "tiff":
		return TIFF, nil
	case "bmp":
		return BMP, nil
	case "ico":
		return ICO, nil
	case "icns":
		return ICNS, nil
	case "gif":
		return GIF, nil
	case "png", "apng":
		return PNG, nil
	case "webp":
		return WebP, nil
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnsupported, s)
}

var (
	ErrUnsupported = errors.New("codec: unsupported image type")
	ErrNilImage    = errors.New("codec: image is nil")
)

var jp2Magic = []byte{0x00, 0x00, 0x00, 0x0C, 'j', 'P', ' ', ' ', 0x0D, 0x0A, 0x87, 0x0A}

// DetectType identifies the format of data from its leading bytes.
func DetectType(data []byte) Type {
	switch {
	case len(data) < 2:
		return Unknown
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return JPEG
	case bytes.HasPrefix(data, jp2Magic):
		return JPEG2000
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return TIFF
	case bytes.HasPrefix(data, []byte{0x00, 0x00, 0x01, 0x00}):
		return ICO
	case bytes.HasPrefix(data, []byte("icns")):
		return ICNS
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return GIF
	case container.HasSignature(data):
		return PNG
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return WebP
	case data[0] == 'B' && data[1] == 'M':
		return BMP
	}
	return Unknown
}

// IsAnimatedPNG reports whether data is a PNG whose acTL chunk precedes the
// first IDAT, which is what makes it animated. Only chunk headers are read;
// checksums are not verified.
func IsAnimatedPNG(data []byte) bool {
	if !container.HasSignature(data) {
		return false
	}
	pos := container.SignatureSize
	for len(data)-pos >= container.ChunkHeaderSize {
		length, fourcc, err := container.ReadChunkHeader(data[pos:])
		if err != nil {
			return false
		}
		switch fourcc {
		case container.FourCCacTL:
			return true
		case container.FourCCIDAT, container.FourCCIEND:
			return false
		}
		pos += container.ChunkOverhead + int(length)
	}
	return false
}

// Decode decodes the first image in data, choosing the decoder from the
// detected type.
func Decode(data []byte) (image.Image, Type, error) {
	t := DetectType(data)
	r := bytes.NewReader(data)
	var (
		img image.Image
		err error
	)
	switch t {
	case PNG:
		img, err = png.Decode(r)
	case JPEG:
		img, err = jpeg.Decode(r)
	case GIF:
		img, err = gif.Decode(r)
	case BMP:
		img, err = bmp.Decode(r)
	case TIFF:
		img, err = tiff.Decode(r)
	case WebP:
		img, err = xwebp.Decode(r)
	default:
		return nil, t, fmt.Errorf("%w: %v", ErrUnsupported, t)
	}
	if err != nil {
		return nil, t, fmt.Errorf("codec: decoding %v: %w", t, err)
	}
	return img, t, nil
}

// Options controls Encode.
type Options struct {
	// Quality in [0,100] for lossy formats. 0 selects the format default.
	Quality int
	// Lossless selects lossless WebP.
	Lossless bool
}

const defaultQuality = 75

// Encode writes img to w in format t. opts may be nil.
func Encode(w io.Writer, img image.Image, t Type, opts *Options) error {
	if img == nil {
		return ErrNilImage
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	q := o.Quality
	if q <= 0 || q > 100 {
		q = defaultQuality
	}

	var err error
	switch t {
	case PNG:
		err = png.Encode(w, img)
	case JPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: q})
	case GIF:
		err = gif.Encode(w, img, nil)
	case BMP:
		err = bmp.Encode(w, img)
	case TIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case WebP:
		if o.Lossless {
			err = nativewebp.Encode(w, img, nil)
		} else {
			err = gen2brain.Encode(w, img, gen2brain.Options{Quality: q})
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnsupported, t)
	}
	if err != nil {
		return fmt.Errorf("codec: encoding %v: %w", t, err)
	}
	return nil
}
