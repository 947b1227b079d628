package compiler

import (
	"fmt"
	"slices"

	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
	"github.com/samcharles93/fabric/pkg/weights"
)

// Layer is one compiled layer: its spec plus, for dense layers, the quantised
// weight (inputs, units) and bias (units,) tensors.
type Layer struct {
	spec       graph.Layer
	denseIndex int
	weights    *fxp.QuantizedTensor
	biases     *fxp.QuantizedTensor
}

func (l Layer) Spec() graph.Layer { return l.spec }

// Dense returns the dense spec and true, or false for a flatten layer.
func (l Layer) Dense() (graph.Dense, bool) {
	d, ok := l.spec.(graph.Dense)
	return d, ok
}

// DenseIndex is the weight-store index of a dense layer, -1 otherwise.
func (l Layer) DenseIndex() int { return l.denseIndex }

// Weights is nil for flatten layers.
func (l Layer) Weights() *fxp.QuantizedTensor { return l.weights }

// Biases is nil for flatten layers.
func (l Layer) Biases() *fxp.QuantizedTensor { return l.biases }

// ClampCount is the number of saturated weight and bias values.
func (l Layer) ClampCount() int {
	n := 0
	if l.weights != nil {
		n += l.weights.ClampCount()
	}
	if l.biases != nil {
		n += l.biases.ClampCount()
	}
	return n
}

// Descriptor is the compiled, quantised model handed to hardware generation.
// It has no mutators; accessors return copies or immutable values.
type Descriptor struct {
	inputSize int
	params    fxp.Params
	layers    []Layer
	sigmoid   *fxp.LUT
}

func (d *Descriptor) InputSize() int { return d.inputSize }

func (d *Descriptor) OutputSize() int { return d.layers[len(d.layers)-1].spec.OutputSize() }

func (d *Descriptor) Params() fxp.Params { return d.params }

func (d *Descriptor) Len() int { return len(d.layers) }

func (d *Descriptor) Layer(i int) Layer { return d.layers[i] }

// Layers returns the compiled layers in graph order.
func (d *Descriptor) Layers() []Layer { return slices.Clone(d.layers) }

// Specs returns the layer specs in graph order.
func (d *Descriptor) Specs() []graph.Layer {
	out := make([]graph.Layer, len(d.layers))
	for i, l := range d.layers {
		out[i] = l.spec
	}
	return out
}

// DenseLayers returns only the layers that carry parameters, in order.
func (d *Descriptor) DenseLayers() []Layer {
	out := make([]Layer, 0, len(d.layers))
	for _, l := range d.layers {
		if l.weights != nil {
			out = append(out, l)
		}
	}
	return out
}

// Sigmoid returns the sigmoid table, or nil when no layer uses sigmoid.
func (d *Descriptor) Sigmoid() *fxp.LUT { return d.sigmoid }

// Parameters is the total number of weight and bias words.
func (d *Descriptor) Parameters() int {
	n := 0
	for _, l := range d.layers {
		if l.weights != nil {
			n += l.weights.Len() + l.biases.Len()
		}
	}
	return n
}

// ClampCount is the number of saturated parameter words across all layers.
func (d *Descriptor) ClampCount() int {
	n := 0
	for _, l := range d.layers {
		n += l.ClampCount()
	}
	return n
}

// Verify re-checks the invariants a hardware generator relies on: the layer
// chain is valid, every dense layer has weight and bias tensors of the right
// shape quantised with the descriptor params, and every word is in range.
func (d *Descriptor) Verify() error {
	if d == nil {
		return fmt.Errorf("nil descriptor")
	}
	if err := d.params.Validate(); err != nil {
		return err
	}
	if err := graph.Validate(d.inputSize, d.Specs()); err != nil {
		return err
	}

	needSigmoid := false
	dense := 0
	for i, l := range d.layers {
		spec, ok := l.Dense()
		if !ok {
			if l.weights != nil || l.biases != nil {
				return fmt.Errorf("layer %d: %s carries parameters", i, l.spec)
			}
			continue
		}
		if l.denseIndex != dense {
			return fmt.Errorf("layer %d: dense index %d, want %d", i, l.denseIndex, dense)
		}
		dense++
		if spec.Activation == graph.Sigmoid {
			needSigmoid = true
		}
		if err := checkTensor(l.denseIndex, weights.Weight, l.weights, d.params, fxp.WidthWeight, spec.Inputs, spec.Units); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if err := checkTensor(l.denseIndex, weights.Bias, l.biases, d.params, fxp.WidthInput, spec.Units); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}

	switch {
	case needSigmoid && d.sigmoid == nil:
		return fmt.Errorf("sigmoid layers present but no sigmoid table")
	case d.sigmoid != nil && d.sigmoid.Params() != d.params:
		return fmt.Errorf("sigmoid table params %v differ from model params %v", d.sigmoid.Params(), d.params)
	}
	return nil
}

func checkTensor(denseIndex int, kind weights.Kind, q *fxp.QuantizedTensor, p fxp.Params, width fxp.WidthKind, shape ...int) error {
	if q == nil {
		return &weights.NotFoundError{Layer: denseIndex, Kind: kind}
	}
	if !q.ShapeEqual(shape...) {
		return &TensorShapeError{DenseIndex: denseIndex, Kind: kind, Expected: shape, Actual: q.Shape()}
	}
	if q.Params() != p {
		return fmt.Errorf("%s tensor quantised with %v, model uses %v", kind, q.Params(), p)
	}
	if q.Kind() != width {
		return fmt.Errorf("%s tensor uses %s width, want %s", kind, q.Kind(), width)
	}
	return q.CheckRange()
}

// Assemble builds a descriptor from already quantised parts, eg when decoding a
// container, and verifies it. Flatten layers take nil tensors.
func Assemble(inputSize int, p fxp.Params, specs []graph.Layer, w, b []*fxp.QuantizedTensor) (*Descriptor, error) {
	if len(w) != len(specs) || len(b) != len(specs) {
		return nil, fmt.Errorf("compiler: %d specs but %d weight and %d bias entries", len(specs), len(w), len(b))
	}
	d := &Descriptor{inputSize: inputSize, params: p, layers: make([]Layer, len(specs))}
	dense := 0
	for i, s := range specs {
		l := Layer{spec: s, denseIndex: -1}
		if _, ok := s.(graph.Dense); ok {
			l.denseIndex = dense
			l.weights = w[i]
			l.biases = b[i]
			dense++
			if l.weights == nil || l.biases == nil {
				return nil, fmt.Errorf("compiler: layer %d: %s is missing quantised tensors", i, s)
			}
		}
		d.layers[i] = l
	}
	if usesSigmoid(specs) {
		lut, err := fxp.SigmoidLUT(p)
		if err != nil {
			return nil, err
		}
		d.sigmoid = lut
	}
	if err := d.Verify(); err != nil {
		return nil, err
	}
	return d, nil
}

func usesSigmoid(specs []graph.Layer) bool {
	for _, s := range specs {
		if d, ok := s.(graph.Dense); ok && d.Activation == graph.Sigmoid {
			return true
		}
	}
	return false
}
