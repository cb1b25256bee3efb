// Package media sniffs inbound media formats and produces JPEG thumbnails
// small enough for the vision model.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// DefaultThumbnailSize bounds the longest edge of a thumbnail in pixels.
const DefaultThumbnailSize = 512

// ThumbnailQuality is the JPEG quality of generated thumbnails.
const ThumbnailQuality = 85

var (
	// ErrUnknownFormat is returned when the magic bytes match no supported format.
	ErrUnknownFormat = errors.New("unknown media format")
	// ErrEmptyMedia is returned for zero-length payloads.
	ErrEmptyMedia = errors.New("empty media payload")
)

// Format is a media container recognized by its leading bytes.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatOgg  Format = "ogg"
	FormatMP3  Format = "mp3"
)

// MimeType returns the MIME type of the format.
func (f Format) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatOgg:
		return "audio/ogg"
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// Ext returns the conventional file extension, without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// IsImage reports whether the format is an image.
func (f Format) IsImage() bool { return f == FormatJPEG || f == FormatPNG }

// IsAudio reports whether the format is audio.
func (f Format) IsAudio() bool { return f == FormatOgg || f == FormatMP3 }

var signatures = []struct {
	magic  []byte
	format Format
}{
	{[]byte{0xFF, 0xD8, 0xFF}, FormatJPEG},
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, FormatPNG},
	{[]byte("OggS"), FormatOgg},
	{[]byte("ID3"), FormatMP3},
	{[]byte{0xFF, 0xFB}, FormatMP3},
}

// Sniff identifies data by its magic bytes.
func Sniff(data []byte) (Format, error) {
	if len(data) == 0 {
		return "", ErrEmptyMedia
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.magic) {
			return sig.format, nil
		}
	}
	return "", ErrUnknownFormat
}

// Thumbnail decodes a JPEG or PNG image, scales it so the longest edge is at
// most maxSize pixels (never enlarging), and re-encodes it as JPEG.
func Thumbnail(data []byte, maxSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMedia
	}
	if maxSize <= 0 {
		maxSize = DefaultThumbnailSize
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxSize)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten transparent pixels onto white.
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales (w, h) down to fit a limit x limit box, keeping the aspect ratio.
func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		nh := h * limit / w
		if nh < 1 {
			nh = 1
		}
		return limit, nh
	}
	nw := w * limit / h
	if nw < 1 {
		nw = 1
	}
	return nw, limit
}
