// Package graph describes the ordered layer structure of a dense classifier and
// validates its shapes as layers are appended.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Activation is the nonlinearity applied after a dense layer.
type Activation uint8

const (
	Identity Activation = iota
	Sigmoid
	// Hardmax marks the output decision layer: the index of the largest sum
	// wins. It may only appear on the last layer.
	Hardmax
)

func (a Activation) String() string {
	switch a {
	case Identity:
		return "identity"
	case Sigmoid:
		return "sigmoid"
	case Hardmax:
		return "hardmax"
	default:
		return fmt.Sprintf("activation(%d)", uint8(a))
	}
}

// ParseActivation accepts the activation names used in model configs.
func ParseActivation(s string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "identity", "linear", "":
		return Identity, nil
	case "sigmoid":
		return Sigmoid, nil
	case "hardmax", "argmax":
		return Hardmax, nil
	default:
		return 0, fmt.Errorf("graph: unknown activation %q", s)
	}
}

func (a Activation) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Activation) UnmarshalText(b []byte) error {
	v, err := ParseActivation(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Layer is the closed set of layer kinds: Flatten and Dense. The unexported
// method keeps other packages from adding variants, so a type switch over the
// two is exhaustive.
type Layer interface {
	InputSize() int
	OutputSize() int
	String() string
	layer()
}

// Flatten presents the network input as a flat vector of Size activations.
type Flatten struct {
	Size int
}

func (f Flatten) InputSize() int  { return f.Size }
func (f Flatten) OutputSize() int { return f.Size }
func (f Flatten) String() string  { return fmt.Sprintf("flatten(%d)", f.Size) }
func (Flatten) layer()            {}

// Dense is a fully connected layer of Units neurons, each reading Inputs values.
type Dense struct {
	Inputs     int
	Units      int
	Activation Activation
}

func (d Dense) InputSize() int  { return d.Inputs }
func (d Dense) OutputSize() int { return d.Units }
func (d Dense) String() string {
	return fmt.Sprintf("dense(%d->%d, %s)", d.Inputs, d.Units, d.Activation)
}
func (Dense) layer() {}

// Graph accumulates layers in order. The zero value is not usable; call New.
type Graph struct {
	inputSize int
	layers    []Layer
}

// New starts a graph whose first layer must read inputSize values.
func New(inputSize int) *Graph {
	return &Graph{inputSize: inputSize}
}

// InputSize returns the declared network input size.
func (g *Graph) InputSize() int { return g.inputSize }

// Len returns the number of layers appended so far.
func (g *Graph) Len() int { return len(g.layers) }

// OutputSize is the size the next appended layer must read.
func (g *Graph) OutputSize() int {
	if len(g.layers) == 0 {
		return g.inputSize
	}
	return g.layers[len(g.layers)-1].OutputSize()
}

// Append validates spec against the current tail and appends it. A rejected
// layer leaves the graph unchanged.
func (g *Graph) Append(spec Layer) error {
	if err := checkNext(g.inputSize, g.layers, spec); err != nil {
		return err
	}
	g.layers = append(g.layers, spec)
	return nil
}

// Dense appends a dense layer that reads the current output size.
func (g *Graph) Dense(units int, act Activation) error {
	return g.Append(Dense{Inputs: g.OutputSize(), Units: units, Activation: act})
}

// Finalize returns a copy of the validated layer list.
func (g *Graph) Finalize() ([]Layer, error) {
	if len(g.layers) == 0 {
		return nil, &EmptyGraphError{}
	}
	return slices.Clone(g.layers), nil
}

// Validate checks a complete layer list against a network input size, applying
// the same rules as Append. It is used when layers arrive as a slice.
func Validate(inputSize int, layers []Layer) error {
	if len(layers) == 0 {
		return &EmptyGraphError{}
	}
	for i := range layers {
		if err := checkNext(inputSize, layers[:i], layers[i]); err != nil {
			return err
		}
	}
	return nil
}

func checkNext(inputSize int, prev []Layer, spec Layer) error {
	pos := len(prev)
	if spec == nil {
		return &InvalidTopologyError{Position: pos, Reason: "nil layer"}
	}
	if inputSize <= 0 {
		return &InvalidTopologyError{Position: pos, Reason: fmt.Sprintf("network input size %d must be positive", inputSize)}
	}

	switch l := spec.(type) {
	case Flatten:
		if pos != 0 {
			return &InvalidTopologyError{Position: pos, Reason: "flatten must be the first layer"}
		}
		if l.Size <= 0 {
			return &InvalidTopologyError{Position: pos, Reason: fmt.Sprintf("flatten size %d must be positive", l.Size)}
		}
	case Dense:
		if l.Units <= 0 {
			return &InvalidTopologyError{Position: pos, Reason: fmt.Sprintf("dense units %d must be positive", l.Units)}
		}
		switch l.Activation {
		case Identity, Sigmoid, Hardmax:
		default:
			return &InvalidTopologyError{Position: pos, Reason: fmt.Sprintf("unknown activation %d", uint8(l.Activation))}
		}
	default:
		return &InvalidTopologyError{Position: pos, Reason: fmt.Sprintf("unsupported layer type %T", spec)}
	}

	if pos > 0 {
		if d, ok := prev[pos-1].(Dense); ok && d.Activation == Hardmax {
			return &InvalidTopologyError{Position: pos, Reason: fmt.Sprintf("cannot follow hardmax layer %d: hardmax is only valid on the final layer", pos-1)}
		}
	}

	want := inputSize
	if pos > 0 {
		want = prev[pos-1].OutputSize()
	}
	if spec.InputSize() != want {
		return &ShapeMismatchError{Position: pos, Layer: spec.String(), Expected: want, Actual: spec.InputSize()}
	}
	return nil
}

var (
	ErrShapeMismatch   = errors.New("graph: shape mismatch")
	ErrEmptyGraph      = errors.New("graph: no layers")
	ErrInvalidTopology = errors.New("graph: invalid topology")
)

// ShapeMismatchError reports a layer whose input size differs from the output
// of the layer before it (or the network input, at position 0).
type ShapeMismatchError struct {
	Position int
	Layer    string
	Expected int
	Actual   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("graph: layer %d %s reads %d values, previous output is %d",
		e.Position, e.Layer, e.Actual, e.Expected)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

type EmptyGraphError struct{}

func (e *EmptyGraphError) Error() string { return "graph: no layers appended" }

func (e *EmptyGraphError) Unwrap() error { return ErrEmptyGraph }

// InvalidTopologyError reports a structurally invalid layer sequence.
type InvalidTopologyError struct {
	Position int
	Reason   string
}

func (e *InvalidTopologyError) Error() string {
	return fmt.Sprintf("graph: layer %d: %s", e.Position, e.Reason)
}

func (e *InvalidTopologyError) Unwrap() error { return ErrInvalidTopology }
