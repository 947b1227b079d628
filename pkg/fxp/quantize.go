package fxp

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/samcharles93/fabric/pkg/tensor"
)

// QuantizedTensor holds signed fixed-point words together with the parameters
// that produced them. Values that fell outside the word range were saturated and
// are flagged in the clamp mask.
type QuantizedTensor struct {
	shape   []int
	values  []int32
	clamped []bool
	nclamp  int
	params  Params
	kind    WidthKind
}

// Quantize maps every value v of t to round(v * 2^frac) using round-half-to-even,
// then saturates to the DataWidth-bit signed range. NaN maps to zero and counts as
// a clamp. The result depends only on the inputs.
//
// p is validated as a whole budget: DataWidth must exceed both WeightIntSize and
// InputIntSize whichever kind is being quantised, since weights and activations
// of one model share the same word.
func Quantize(t *tensor.Tensor, p Params, kind WidthKind) (*QuantizedTensor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if kind != WidthWeight && kind != WidthInput {
		return nil, fmt.Errorf("fxp: unknown width kind %d", kind)
	}
	if t == nil {
		return nil, fmt.Errorf("fxp: nil tensor")
	}

	q := &QuantizedTensor{
		shape:   t.Shape(),
		values:  make([]int32, t.Len()),
		clamped: make([]bool, t.Len()),
		params:  p,
		kind:    kind,
	}
	scale := math.Ldexp(1, p.FracBits(kind))
	lo, hi := p.WordRange()
	for i := range q.values {
		w, clamped := quantizeValue(float64(t.At(i)), scale, lo, hi)
		q.values[i] = w
		if clamped {
			q.clamped[i] = true
			q.nclamp++
		}
	}
	return q, nil
}

func quantizeValue(v, scale float64, lo, hi int64) (int32, bool) {
	if math.IsNaN(v) {
		return 0, true
	}
	s := math.RoundToEven(v * scale)
	switch {
	case s < float64(lo):
		return int32(lo), true
	case s > float64(hi):
		return int32(hi), true
	}
	return int32(s), false
}

// NewQuantizedTensor rebuilds a tensor from stored words, eg when reading a
// container back. Words outside the DataWidth range are rejected.
func NewQuantizedTensor(shape []int, values []int32, clamped []bool, p Params, kind WidthKind) (*QuantizedTensor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n, err := tensor.NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(values) {
		return nil, fmt.Errorf("fxp: shape %s needs %d words, got %d", tensor.ShapeString(shape), n, len(values))
	}
	if clamped != nil && len(clamped) != n {
		return nil, fmt.Errorf("fxp: clamp mask has %d entries, want %d", len(clamped), n)
	}
	q := &QuantizedTensor{
		shape:   slices.Clone(shape),
		values:  slices.Clone(values),
		clamped: make([]bool, n),
		params:  p,
		kind:    kind,
	}
	if clamped != nil {
		copy(q.clamped, clamped)
	}
	for _, c := range q.clamped {
		if c {
			q.nclamp++
		}
	}
	if err := q.CheckRange(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QuantizedTensor) Shape() []int { return slices.Clone(q.shape) }

func (q *QuantizedTensor) ShapeEqual(shape ...int) bool { return slices.Equal(q.shape, shape) }

func (q *QuantizedTensor) Len() int { return len(q.values) }

func (q *QuantizedTensor) Params() Params { return q.params }

func (q *QuantizedTensor) Kind() WidthKind { return q.kind }

func (q *QuantizedTensor) FracBits() int { return q.params.FracBits(q.kind) }

// At returns the i-th word in row-major order.
func (q *QuantizedTensor) At(i int) int32 { return q.values[i] }

// Values returns a copy of the words.
func (q *QuantizedTensor) Values() []int32 { return slices.Clone(q.values) }

// Clamped reports whether the i-th value was saturated.
func (q *QuantizedTensor) Clamped(i int) bool { return q.clamped[i] }

// ClampMask returns a copy of the per-element clamp flags.
func (q *QuantizedTensor) ClampMask() []bool { return slices.Clone(q.clamped) }

// ClampCount returns how many values were saturated.
func (q *QuantizedTensor) ClampCount() int { return q.nclamp }

// Real returns the real value the i-th word encodes.
func (q *QuantizedTensor) Real(i int) float64 {
	return math.Ldexp(float64(q.values[i]), -q.FracBits())
}

// Dequantize returns the real value of every word.
func (q *QuantizedTensor) Dequantize() []float64 {
	out := make([]float64, len(q.values))
	for i := range q.values {
		out[i] = q.Real(i)
	}
	return out
}

// Bits returns the i-th word as a DataWidth-character two's complement string,
// the form memory initialisation files expect.
func (q *QuantizedTensor) Bits(i int) string {
	return WordBits(q.values[i], q.params.DataWidth)
}

// CheckRange verifies every word lies in the DataWidth-bit signed range.
func (q *QuantizedTensor) CheckRange() error {
	lo, hi := q.params.WordRange()
	for i, v := range q.values {
		if int64(v) < lo || int64(v) > hi {
			return fmt.Errorf("fxp: word %d = %d outside [%d, %d]", i, v, lo, hi)
		}
	}
	return nil
}

// WordBits formats v as a width-bit two's complement binary string.
func WordBits(v int32, width int) string {
	mask := uint64(1)<<width - 1
	u := uint64(int64(v)) & mask
	s := strconv.FormatUint(u, 2)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}
