package screenshots

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Encoding defaults for uploaded frames.
const (
	DefaultWidth       = 1200
	DefaultHeight      = 800
	DefaultThumbWidth  = 300
	DefaultThumbHeight = 200
	DefaultQuality     = 60
)

// EncoderOptions control output sizes and JPEG quality.
type EncoderOptions struct {
	Width       int
	Height      int
	ThumbWidth  int
	ThumbHeight int
	Quality     int
}

// Encoder scales frames to the upload and thumbnail sizes.
type Encoder struct {
	opts EncoderOptions
}

// Encoded holds base64 JPEG data ready for the payload.
type Encoded struct {
	Image     string
	Thumbnail string
	// Bytes is the combined size of both JPEGs before base64.
	Bytes int
}

// NewEncoder applies defaults and validates options.
func NewEncoder(opts EncoderOptions) (*Encoder, error) {
	if opts.Width == 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height == 0 {
		opts.Height = DefaultHeight
	}
	if opts.ThumbWidth == 0 {
		opts.ThumbWidth = DefaultThumbWidth
	}
	if opts.ThumbHeight == 0 {
		opts.ThumbHeight = DefaultThumbHeight
	}
	if opts.Quality == 0 {
		opts.Quality = DefaultQuality
	}
	if opts.Width < 0 || opts.Height < 0 || opts.ThumbWidth < 0 || opts.ThumbHeight < 0 {
		return nil, errors.New("image dimensions must be positive")
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		return nil, fmt.Errorf("jpeg quality %d must be between 1 and 100", opts.Quality)
	}
	return &Encoder{opts: opts}, nil
}

// Encode decodes the captured frame and produces the full-size image and thumbnail.
func (e *Encoder) Encode(frame FrameCapture) (Encoded, error) {
	if len(frame.Data) == 0 {
		return Encoded{}, errors.New("capture provider returned empty image data")
	}
	src, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return Encoded{}, fmt.Errorf("decode frame: %w", err)
	}

	full, err := e.scale(src, e.opts.Width, e.opts.Height)
	if err != nil {
		return Encoded{}, fmt.Errorf("encode image: %w", err)
	}
	thumb, err := e.scale(src, e.opts.ThumbWidth, e.opts.ThumbHeight)
	if err != nil {
		return Encoded{}, fmt.Errorf("encode thumbnail: %w", err)
	}
	return Encoded{
		Image:     base64.StdEncoding.EncodeToString(full),
		Thumbnail: base64.StdEncoding.EncodeToString(thumb),
		Bytes:     len(full) + len(thumb),
	}, nil
}

func (e *Encoder) scale(src image.Image, width, height int) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, dst, &jpeg.Options{Quality: e.opts.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
