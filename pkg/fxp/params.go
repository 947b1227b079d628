// Package fxp converts floating-point tensors into signed fixed-point words for
// the fabric datapath.
//
// A word is DataWidth bits wide. Weights use WeightIntSize integer bits and
// activations (inputs, biases, sigmoid outputs) use InputIntSize; the remaining
// bits hold the fraction.
package fxp

import (
	"errors"
	"fmt"
)

const (
	// MaxDataWidth bounds DataWidth so every word fits in an int32.
	MaxDataWidth = 32
	// MaxSigmoidSize bounds the sigmoid lookup table to 2^24 entries.
	MaxSigmoidSize = 24
)

var ErrInvalidParams = errors.New("fxp: invalid quantisation parameters")

// InvalidParamsError names the offending parameter and its value.
type InvalidParamsError struct {
	Param  string
	Value  int
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("fxp: invalid %s=%d: %s", e.Param, e.Value, e.Reason)
}

func (e *InvalidParamsError) Unwrap() error { return ErrInvalidParams }

// Params is the bit-width budget for a compiled model.
type Params struct {
	DataWidth     int `yaml:"data_width" json:"data_width"`
	WeightIntSize int `yaml:"weight_int_size" json:"weight_int_size"`
	InputIntSize  int `yaml:"input_int_size" json:"input_int_size"`
	SigmoidSize   int `yaml:"sigmoid_size" json:"sigmoid_size"`
}

// DefaultParams matches the reference MNIST build: 8-bit words, 4 integer bits
// for weights, 1 for activations and a 10-bit sigmoid table.
func DefaultParams() Params {
	return Params{DataWidth: 8, WeightIntSize: 4, InputIntSize: 1, SigmoidSize: 10}
}

// Validate checks every size is positive, within bounds, and leaves at least one
// fractional bit for both weights and activations.
func (p Params) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"dataWidth", p.DataWidth},
		{"weightIntSize", p.WeightIntSize},
		{"inputIntSize", p.InputIntSize},
		{"sigmoidSize", p.SigmoidSize},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return &InvalidParamsError{Param: c.name, Value: c.value, Reason: "must be positive"}
		}
	}
	if p.DataWidth > MaxDataWidth {
		return &InvalidParamsError{Param: "dataWidth", Value: p.DataWidth, Reason: fmt.Sprintf("must be at most %d", MaxDataWidth)}
	}
	if p.SigmoidSize > MaxSigmoidSize {
		return &InvalidParamsError{Param: "sigmoidSize", Value: p.SigmoidSize, Reason: fmt.Sprintf("must be at most %d", MaxSigmoidSize)}
	}
	if p.DataWidth <= p.WeightIntSize {
		return &InvalidParamsError{Param: "weightIntSize", Value: p.WeightIntSize,
			Reason: fmt.Sprintf("leaves no fractional bits in a %d-bit word", p.DataWidth)}
	}
	if p.DataWidth <= p.InputIntSize {
		return &InvalidParamsError{Param: "inputIntSize", Value: p.InputIntSize,
			Reason: fmt.Sprintf("leaves no fractional bits in a %d-bit word", p.DataWidth)}
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("dataWidth=%d weightIntSize=%d inputIntSize=%d sigmoidSize=%d",
		p.DataWidth, p.WeightIntSize, p.InputIntSize, p.SigmoidSize)
}

// WidthKind selects which integer-part width governs a tensor.
type WidthKind uint8

const (
	WidthWeight WidthKind = iota
	WidthInput
)

func (k WidthKind) String() string {
	switch k {
	case WidthWeight:
		return "weight"
	case WidthInput:
		return "input"
	default:
		return fmt.Sprintf("width(%d)", uint8(k))
	}
}

// IntSize returns the integer-part width for kind.
func (p Params) IntSize(kind WidthKind) int {
	if kind == WidthWeight {
		return p.WeightIntSize
	}
	return p.InputIntSize
}

// FracBits returns DataWidth minus the integer-part width for kind.
func (p Params) FracBits(kind WidthKind) int {
	return p.DataWidth - p.IntSize(kind)
}

// WordRange returns the inclusive signed integer range of a DataWidth-bit word.
func (p Params) WordRange() (lo, hi int64) {
	hi = int64(1)<<(p.DataWidth-1) - 1
	return -hi - 1, hi
}

// Range returns the smallest and largest real values representable for kind.
func (p Params) Range(kind WidthKind) (lo, hi float64) {
	wlo, whi := p.WordRange()
	scale := float64(int64(1) << p.FracBits(kind))
	return float64(wlo) / scale, float64(whi) / scale
}
