package model

import (
	"errors"
	"fmt"
)

// Layout is the axis order of the image input tensor.
type Layout string

const (
	LayoutNHWC Layout = "NHWC"
	LayoutNCHW Layout = "NCHW"
)

const channels = 3

// Metadata describes the model graph stored next to it in the model
// directory.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Layout      Layout   `json:"layout"`
	Classes     []string `json:"classes,omitempty"`
}

var ErrInvalidMetadata = errors.New("invalid model metadata")

// normalize fills defaults and pins a dynamic batch dimension to one.
func (m *Metadata) normalize() error {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.Layout == "" {
		m.Layout = LayoutNHWC
	}

	if len(m.InputShape) != 4 {
		return fmt.Errorf("%w: input shape %v must have 4 dimensions", ErrInvalidMetadata, m.InputShape)
	}
	if len(m.OutputShape) != 2 {
		return fmt.Errorf("%w: output shape %v must be [batch, classes]", ErrInvalidMetadata, m.OutputShape)
	}
	m.InputShape = append([]int64(nil), m.InputShape...)
	m.OutputShape = append([]int64(nil), m.OutputShape...)
	if m.InputShape[0] == -1 {
		m.InputShape[0] = 1
	}
	if m.OutputShape[0] == -1 {
		m.OutputShape[0] = 1
	}
	if m.InputShape[0] != 1 || m.OutputShape[0] != 1 {
		return fmt.Errorf("%w: batch dimension must be 1", ErrInvalidMetadata)
	}

	var c int64
	switch m.Layout {
	case LayoutNHWC:
		c = m.InputShape[3]
	case LayoutNCHW:
		c = m.InputShape[1]
	default:
		return fmt.Errorf("%w: unknown layout %q", ErrInvalidMetadata, m.Layout)
	}
	if c != channels {
		return fmt.Errorf("%w: expected %d channels, got %d", ErrInvalidMetadata, channels, c)
	}

	h, w := m.ImageSize()
	if h <= 0 || w <= 0 {
		return fmt.Errorf("%w: image dimensions must be positive", ErrInvalidMetadata)
	}
	if m.NumClasses() < 1 {
		return fmt.Errorf("%w: model must have at least one class", ErrInvalidMetadata)
	}
	if len(m.Classes) > 0 && len(m.Classes) != m.NumClasses() {
		return fmt.Errorf("%w: %d class labels for %d outputs", ErrInvalidMetadata, len(m.Classes), m.NumClasses())
	}
	return nil
}

// ImageSize returns the height and width the model expects.
func (m Metadata) ImageSize() (int, int) {
	if len(m.InputShape) != 4 {
		return 0, 0
	}
	if m.Layout == LayoutNCHW {
		return int(m.InputShape[2]), int(m.InputShape[3])
	}
	return int(m.InputShape[1]), int(m.InputShape[2])
}

// NumClasses is K, the length of the score vector.
func (m Metadata) NumClasses() int {
	if len(m.OutputShape) == 0 {
		return 0
	}
	return int(m.OutputShape[len(m.OutputShape)-1])
}

// InputSize is the number of float32 values in one input batch.
func (m Metadata) InputSize() int {
	n := 1
	for _, d := range m.InputShape {
		n *= int(d)
	}
	return n
}
