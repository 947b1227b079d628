package fxp

import (
	"math"
	"slices"
)

// LUT is the sigmoid lookup table addressed by the top SigmoidSize bits of a
// neuron's accumulated sum.
//
// The sum of a weight (WeightIntSize integer bits) times an activation
// (InputIntSize integer bits) carries WeightIntSize+InputIntSize integer bits, so
// the table starts at -2^(WeightIntSize+InputIntSize-1) and steps by
// 2^-(SigmoidSize-WeightIntSize-InputIntSize). Outputs are activation words.
type LUT struct {
	params  Params
	start   float64
	step    float64
	entries []int32
	nclamp  int
}

// SigmoidLUT builds the table for p.
func SigmoidLUT(p Params) (*LUT, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	intBits := p.WeightIntSize + p.InputIntSize
	fracBits := max(p.SigmoidSize-intBits, 0)

	t := &LUT{
		params:  p,
		start:   -math.Ldexp(1, intBits-1),
		step:    math.Ldexp(1, -fracBits),
		entries: make([]int32, 1<<p.SigmoidSize),
	}

	scale := math.Ldexp(1, p.FracBits(WidthInput))
	lo, hi := p.WordRange()
	for k := range t.entries {
		x := t.start + float64(k)*t.step
		w, clamped := quantizeValue(sigmoid(x), scale, lo, hi)
		t.entries[k] = w
		if clamped {
			t.nclamp++
		}
	}
	return t, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func (t *LUT) Params() Params { return t.params }

func (t *LUT) Len() int { return len(t.entries) }

// Start is the input value addressed by entry 0.
func (t *LUT) Start() float64 { return t.start }

// Step is the input distance between adjacent entries.
func (t *LUT) Step() float64 { return t.step }

func (t *LUT) At(k int) int32 { return t.entries[k] }

func (t *LUT) Entries() []int32 { return slices.Clone(t.entries) }

// ClampCount is the number of entries saturated at the top of the word range.
func (t *LUT) ClampCount() int { return t.nclamp }

func (t *LUT) Bits(k int) string { return WordBits(t.entries[k], t.params.DataWidth) }

// Index returns the entry addressed by input x, saturating at both ends.
func (t *LUT) Index(x float64) int {
	k := math.Floor((x - t.start) / t.step)
	switch {
	case math.IsNaN(k) || k < 0:
		return 0
	case k >= float64(len(t.entries)):
		return len(t.entries) - 1
	}
	return int(k)
}

// Lookup returns the activation word for input x.
func (t *LUT) Lookup(x float64) int32 { return t.entries[t.Index(x)] }
