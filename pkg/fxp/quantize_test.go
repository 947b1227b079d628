package fxp

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/samcharles93/fabric/pkg/tensor"
)

func randomTensor(t *testing.T, n int, spread float64, seed uint64) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]float32, n)
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * spread)
	}
	tt, err := tensor.New([]int{n}, data)
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}
	return tt
}

func TestQuantizeDeterministic(t *testing.T) {
	t.Parallel()

	src := randomTensor(t, 4096, 20, 7)
	p := DefaultParams()
	for _, kind := range []WidthKind{WidthWeight, WidthInput} {
		a, err := Quantize(src, p, kind)
		if err != nil {
			t.Fatalf("quantize: %v", err)
		}
		b, err := Quantize(src, p, kind)
		if err != nil {
			t.Fatalf("quantize: %v", err)
		}
		if !slices.Equal(a.Values(), b.Values()) {
			t.Fatalf("%s: repeated quantisation differs", kind)
		}
		if !slices.Equal(a.ClampMask(), b.ClampMask()) {
			t.Fatalf("%s: repeated clamp mask differs", kind)
		}
	}
}

func TestQuantizeErrorBoundAndClamp(t *testing.T) {
	t.Parallel()

	params := []Params{
		DefaultParams(),
		{DataWidth: 16, WeightIntSize: 3, InputIntSize: 2, SigmoidSize: 8},
		{DataWidth: 32, WeightIntSize: 8, InputIntSize: 1, SigmoidSize: 12},
		{DataWidth: 2, WeightIntSize: 1, InputIntSize: 1, SigmoidSize: 1},
	}
	src := randomTensor(t, 2048, 40, 11)

	for _, p := range params {
		for _, kind := range []WidthKind{WidthWeight, WidthInput} {
			q, err := Quantize(src, p, kind)
			if err != nil {
				t.Fatalf("%v/%s: %v", p, kind, err)
			}
			lo, hi := p.WordRange()
			rlo, rhi := p.Range(kind)
			bound := math.Ldexp(1, -(p.FracBits(kind) + 1))
			clamps := 0
			for i := 0; i < q.Len(); i++ {
				v := float64(src.At(i))
				w := int64(q.At(i))
				if w < lo || w > hi {
					t.Fatalf("%v/%s: word %d out of range", p, kind, w)
				}
				if q.Clamped(i) {
					clamps++
					if v < rlo && w != lo {
						t.Fatalf("%v/%s: %v clamped to %d want %d", p, kind, v, w, lo)
					}
					if v > rhi && w != hi {
						t.Fatalf("%v/%s: %v clamped to %d want %d", p, kind, v, w, hi)
					}
					continue
				}
				if diff := math.Abs(q.Real(i) - v); diff > bound {
					t.Fatalf("%v/%s: |%v - %v| = %v exceeds %v", p, kind, q.Real(i), v, diff, bound)
				}
			}
			if clamps != q.ClampCount() {
				t.Fatalf("%v/%s: clamp count %d, mask has %d", p, kind, q.ClampCount(), clamps)
			}
		}
	}
}

func TestQuantizeRoundHalfToEven(t *testing.T) {
	t.Parallel()

	// 4 fractional bits: one LSB is 1/16.
	data := []float32{0.5 / 16, 1.5 / 16, 2.5 / 16, -0.5 / 16, -1.5 / 16}
	want := []int32{0, 2, 2, 0, -2}
	src, err := tensor.New([]int{len(data)}, data)
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}
	q, err := Quantize(src, DefaultParams(), WidthWeight)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if got := q.Values(); !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestQuantizeSaturatesSpecialValues(t *testing.T) {
	t.Parallel()

	data := []float32{float32(math.Inf(1)), float32(math.Inf(-1)), float32(math.NaN()), 100, -100}
	src, err := tensor.New([]int{len(data)}, data)
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}
	q, err := Quantize(src, DefaultParams(), WidthWeight)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	want := []int32{127, -128, 0, 127, -128}
	if got := q.Values(); !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if q.ClampCount() != len(data) {
		t.Fatalf("clamp count: got %d want %d", q.ClampCount(), len(data))
	}
}

func TestQuantizeInvalidParams(t *testing.T) {
	t.Parallel()

	src := randomTensor(t, 4, 1, 1)
	tests := []struct {
		p     Params
		param string
	}{
		{Params{DataWidth: 0, WeightIntSize: 1, InputIntSize: 1, SigmoidSize: 1}, "dataWidth"},
		{Params{DataWidth: 8, WeightIntSize: -1, InputIntSize: 1, SigmoidSize: 1}, "weightIntSize"},
		{Params{DataWidth: 8, WeightIntSize: 1, InputIntSize: 0, SigmoidSize: 1}, "inputIntSize"},
		{Params{DataWidth: 8, WeightIntSize: 1, InputIntSize: 1, SigmoidSize: 0}, "sigmoidSize"},
		{Params{DataWidth: 8, WeightIntSize: 8, InputIntSize: 1, SigmoidSize: 1}, "weightIntSize"},
		{Params{DataWidth: 4, WeightIntSize: 1, InputIntSize: 6, SigmoidSize: 1}, "inputIntSize"},
		{Params{DataWidth: 33, WeightIntSize: 1, InputIntSize: 1, SigmoidSize: 1}, "dataWidth"},
		{Params{DataWidth: 8, WeightIntSize: 1, InputIntSize: 1, SigmoidSize: 25}, "sigmoidSize"},
	}
	for _, tc := range tests {
		_, err := Quantize(src, tc.p, WidthWeight)
		var ip *InvalidParamsError
		if !errors.As(err, &ip) {
			t.Errorf("%v: expected InvalidParamsError, got %v", tc.p, err)
			continue
		}
		if ip.Param != tc.param {
			t.Errorf("%v: offending param %q want %q", tc.p, ip.Param, tc.param)
		}
		if !errors.Is(err, ErrInvalidParams) {
			t.Errorf("%v: expected errors.Is ErrInvalidParams", tc.p)
		}
	}
}

func TestWordBits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v     int32
		width int
		want  string
	}{
		{5, 8, "00000101"},
		{-1, 8, "11111111"},
		{-128, 8, "10000000"},
		{127, 8, "01111111"},
		{-2, 4, "1110"},
		{-1, 32, "11111111111111111111111111111111"},
	}
	for _, tc := range tests {
		if got := WordBits(tc.v, tc.width); got != tc.want {
			t.Errorf("WordBits(%d, %d): got %q want %q", tc.v, tc.width, got, tc.want)
		}
	}
}

func TestNewQuantizedTensorRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	if _, err := NewQuantizedTensor([]int{2}, []int32{1, 300}, nil, DefaultParams(), WidthWeight); err == nil {
		t.Fatal("expected range error")
	}
	q, err := NewQuantizedTensor([]int{2}, []int32{1, -128}, []bool{false, true}, DefaultParams(), WidthInput)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if q.ClampCount() != 1 || !q.Clamped(1) {
		t.Fatalf("clamp mask not carried: count=%d", q.ClampCount())
	}
}
