// Package tensor holds the float32 source form of weights and biases.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Tensor is a dense row-major array of float32 values.
//
// Shape and data are copied on construction and never handed out mutably, so a
// Tensor can be shared between goroutines without locking.
type Tensor struct {
	shape []int
	data  []float32
}

// New creates a tensor with the given shape, copying data.
// It returns an error when the shape has a non-positive extent or when len(data)
// does not equal the product of the extents.
func New(shape []int, data []float32) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("tensor: shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &Tensor{
		shape: slices.Clone(shape),
		data:  slices.Clone(data),
	}, nil
}

// NumElements returns the product of shape's extents.
func NumElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errors.New("tensor: empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("tensor: invalid extent %d in shape %v", d, shape)
		}
		if n > math.MaxInt/d {
			return 0, fmt.Errorf("tensor: shape %v overflows", shape)
		}
		n *= d
	}
	return n, nil
}

func (t *Tensor) Rank() int { return len(t.shape) }

func (t *Tensor) Len() int { return len(t.data) }

// Shape returns a copy of the tensor extents.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Dim returns the extent of axis i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// At returns the i-th value in row-major order.
func (t *Tensor) At(i int) float32 { return t.data[i] }

// Values returns a copy of the flattened data.
func (t *Tensor) Values() []float32 { return slices.Clone(t.data) }

// ShapeEqual reports whether the tensor has exactly the given extents.
func (t *Tensor) ShapeEqual(shape ...int) bool {
	return slices.Equal(t.shape, shape)
}

// ShapeString formats a shape the way error messages print it: (784,30) or (30,).
func ShapeString(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	b := make([]byte, 0, 16)
	b = append(b, '(')
	for i, d := range shape {
		if i > 0 {
			b = append(b, ',')
		}
		b = fmt.Appendf(b, "%d", d)
	}
	b = append(b, ')')
	return string(b)
}
