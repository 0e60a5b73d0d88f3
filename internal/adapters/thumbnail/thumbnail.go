// Package thumbnail turns a copied ring slot into the base64 string sent with detections.
package thumbnail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/okian/posebridge/internal/domain/model"
)

// Output formats.
const (
	FormatRaw  = "raw"
	FormatJPEG = "jpeg"
)

// ErrBadThumbnail is returned when pixel data does not match the announced size.
var ErrBadThumbnail = errors.New("thumbnail data does not match its dimensions")

// Encoder converts thumbnails to base64 text.
type Encoder struct {
	format   string
	maxWidth int
	quality  int
}

// Option applies a configuration option to the Encoder.
type Option func(*Encoder)

// WithFormat selects raw passthrough or JPEG re-encoding.
func WithFormat(format string) Option {
	return func(e *Encoder) {
		if format == FormatRaw || format == FormatJPEG {
			e.format = format
		}
	}
}

// WithMaxWidth downscales JPEG output wider than w, keeping the aspect ratio. Zero disables.
func WithMaxWidth(w int) Option {
	return func(e *Encoder) {
		if w >= 0 {
			e.maxWidth = w
		}
	}
}

// WithQuality sets the JPEG quality (1..100).
func WithQuality(q int) Option {
	return func(e *Encoder) {
		if q >= 1 && q <= 100 {
			e.quality = q
		}
	}
}

// New creates an Encoder; the default is raw passthrough.
func New(opts ...Option) *Encoder {
	e := &Encoder{
		format:  FormatRaw,
		quality: jpeg.DefaultQuality,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Format returns the configured output format.
func (e *Encoder) Format() string { return e.format }

// Encode returns t as base64. Raw mode encodes the packed RGB bytes as-is.
func (e *Encoder) Encode(t *model.Thumbnail) (string, error) {
	if t == nil || len(t.Data) == 0 {
		return "", ErrBadThumbnail
	}
	if e.format == FormatRaw {
		return base64.StdEncoding.EncodeToString(t.Data), nil
	}

	img, err := toRGBA(t)
	if err != nil {
		return "", err
	}

	var src image.Image = img
	if e.maxWidth > 0 && t.Width > e.maxWidth {
		h := t.Height * e.maxWidth / t.Width
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, e.maxWidth, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: e.quality}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func toRGBA(t *model.Thumbnail) (*image.RGBA, error) {
	if t.Width <= 0 || t.Height <= 0 || len(t.Data) != t.Width*t.Height*3 {
		return nil, fmt.Errorf("%w: %dx%d with %d bytes", ErrBadThumbnail, t.Width, t.Height, len(t.Data))
	}
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	for i, j := 0, 0; i < len(t.Data); i, j = i+3, j+4 {
		img.Pix[j] = t.Data[i]
		img.Pix[j+1] = t.Data[i+1]
		img.Pix[j+2] = t.Data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}
