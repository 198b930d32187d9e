// Package preprocess turns arbitrary uploaded images into the fixed-size
// canonical JPEG the classifier is fed with.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	// WebP is decoded in addition to the formats imaging registers.
	_ "golang.org/x/image/webp"
)

// Fit selects how a non-square image is brought to a square.
type Fit string

const (
	// FitCover scales the image to cover the square and crops the overflow
	// around the centre.
	FitCover Fit = "cover"
	// FitStretch scales each axis independently, distorting the aspect ratio.
	FitStretch Fit = "stretch"
)

// ErrDecode is returned when the input bytes are not a decodable image.
var ErrDecode = errors.New("image could not be decoded")

type Options struct {
	Size        int
	Fit         Fit
	JPEGQuality int
	// AutoOrient rotates images according to their EXIF orientation tag.
	// Off by default: models trained on unrotated pixels expect them as stored.
	AutoOrient bool
}

type Preprocessor struct {
	size       int
	fit        Fit
	quality    int
	autoOrient bool
}

func New(opts Options) (*Preprocessor, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", opts.Size)
	}
	switch opts.Fit {
	case FitCover, FitStretch:
	case "":
		opts.Fit = FitCover
	default:
		return nil, fmt.Errorf("unknown resize fit %q", opts.Fit)
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = 80
	}
	return &Preprocessor{
		size:       opts.Size,
		fit:        opts.Fit,
		quality:    opts.JPEGQuality,
		autoOrient: opts.AutoOrient,
	}, nil
}

// Canonicalize decodes raw, resizes it to Size×Size and re-encodes it as JPEG.
func (p *Preprocessor) Canonicalize(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(p.autoOrient))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrDecode)
	}

	resized := p.resize(img)

	// JPEG has no alpha channel; transparent pixels become black.
	canvas := imaging.New(p.size, p.size, color.Black)
	canvas = imaging.Overlay(canvas, resized, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, fmt.Errorf("encode canonical image: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Preprocessor) resize(img image.Image) image.Image {
	if p.fit == FitStretch {
		return resize.Resize(uint(p.size), uint(p.size), img, resize.Lanczos3)
	}
	return imaging.Fill(img, p.size, p.size, imaging.Center, imaging.Lanczos)
}
