package model

import (
	"errors"
	"fmt"
	"image"
)

var ErrEmptyScores = errors.New("score vector is empty")

// ImageTensor lays out img as a batch of one 3-channel image in the layout m
// expects. Every 8-bit intensity is divided by 255 so values fall in [0, 1].
func ImageTensor(img image.Image, m Metadata) ([]float32, error) {
	h, w := m.ImageSize()
	b := img.Bounds()
	if b.Dx() != w || b.Dy() != h {
		return nil, fmt.Errorf("%w: image is %dx%d, model expects %dx%d",
			ErrInputSize, b.Dx(), b.Dy(), w, h)
	}

	data := make([]float32, channels*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rgb := [channels]float32{
				float32(r>>8) / 255.0,
				float32(g>>8) / 255.0,
				float32(bl>>8) / 255.0,
			}

			pixel := y*w + x
			for c, v := range rgb {
				if m.Layout == LayoutNCHW {
					data[c*plane+pixel] = v
				} else {
					data[pixel*channels+c] = v
				}
			}
		}
	}
	return data, nil
}

// Argmax returns the index of the highest score. Ties go to the lowest index.
func Argmax(scores []float32) (int, error) {
	if len(scores) == 0 {
		return 0, ErrEmptyScores
	}

	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx, nil
}
