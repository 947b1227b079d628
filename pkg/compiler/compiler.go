// Package compiler turns a layer graph, a weight source and a bit-width budget
// into a verified fixed-point model descriptor.
//
// Compilation is all-or-nothing: either a fully verified Descriptor is returned
// or a single *CompilationError, never both.
package compiler

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/fabric/internal/logger"
	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
	"github.com/samcharles93/fabric/pkg/tensor"
	"github.com/samcharles93/fabric/pkg/weights"
)

// WeightSource supplies float tensors by dense-layer index. *weights.Store
// satisfies it.
type WeightSource interface {
	Get(layer int, kind weights.Kind) (*tensor.Tensor, error)
}

// Stats summarises one compilation attempt for observers.
type Stats struct {
	Layers     int
	Dense      int
	Parameters int
	Clamps     int
	Duration   time.Duration
}

type options struct {
	workers  int
	log      logger.Logger
	observer func(Stats, error)
}

type Option func(*options)

// WithWorkers quantises up to n dense layers concurrently. Output order always
// follows the layer list. n <= 1 compiles sequentially.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver registers fn to receive stats after every compilation,
// successful or not.
func WithObserver(fn func(Stats, error)) Option {
	return func(o *options) { o.observer = fn }
}

// CompileGraph finalises g and compiles it.
func CompileGraph(ctx context.Context, g *graph.Graph, src WeightSource, p fxp.Params, opts ...Option) (*Descriptor, error) {
	layers, err := g.Finalize()
	if err != nil {
		return nil, &CompilationError{Layer: -1, Stage: StageGraph, Err: err}
	}
	return compile(ctx, g.InputSize(), layers, src, p, opts...)
}

// Compile validates layers as a chain reading layers[0].InputSize() values,
// fetches and quantises every dense layer's parameters from src, and returns
// the verified descriptor. Neither layers nor src is modified.
func Compile(ctx context.Context, layers []graph.Layer, src WeightSource, p fxp.Params, opts ...Option) (*Descriptor, error) {
	inputSize := 0
	if len(layers) > 0 && layers[0] != nil {
		inputSize = layers[0].InputSize()
	}
	return compile(ctx, inputSize, layers, src, p, opts...)
}

func compile(ctx context.Context, inputSize int, layers []graph.Layer, src WeightSource, p fxp.Params, opts ...Option) (desc *Descriptor, err error) {
	o := options{workers: 1, log: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	if o.observer != nil {
		defer func() {
			st := Stats{Layers: len(layers), Duration: time.Since(start)}
			if desc != nil {
				st.Dense = len(desc.DenseLayers())
				st.Parameters = desc.Parameters()
				st.Clamps = desc.ClampCount()
			}
			o.observer(st, err)
		}()
	}

	if err := p.Validate(); err != nil {
		return nil, &CompilationError{Layer: -1, Stage: StageParams, Err: err}
	}
	if err := graph.Validate(inputSize, layers); err != nil {
		return nil, &CompilationError{Layer: layerOf(err), Stage: StageGraph, Err: err}
	}
	if src == nil {
		return nil, &CompilationError{Layer: -1, Stage: StageWeights, Err: errors.New("nil weight source")}
	}

	d := &Descriptor{
		inputSize: inputSize,
		params:    p,
		layers:    make([]Layer, len(layers)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.workers, 1))
	dense := 0
	for i, spec := range layers {
		d.layers[i] = Layer{spec: spec, denseIndex: -1}
		ds, ok := spec.(graph.Dense)
		if !ok {
			continue
		}
		idx := dense
		dense++
		d.layers[i].denseIndex = idx

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &CompilationError{Layer: i, Stage: StageQuantize, Err: err}
			}
			w, b, err := compileDense(i, idx, ds, src, p)
			if err != nil {
				return err
			}
			d.layers[i].weights = w
			d.layers[i].biases = b
			o.log.Debug("quantised layer", "layer", i, "spec", ds.String(),
				"weight_clamps", w.ClampCount(), "bias_clamps", b.ClampCount())
			if n := w.ClampCount() + b.ClampCount(); n > 0 {
				o.log.Warn("values saturated during quantisation", "layer", i, "dense_index", idx, "clamped", n)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if usesSigmoid(layers) {
		lut, err := fxp.SigmoidLUT(p)
		if err != nil {
			return nil, &CompilationError{Layer: -1, Stage: StageSigmoid, Err: err}
		}
		d.sigmoid = lut
	}

	if err := d.Verify(); err != nil {
		return nil, &CompilationError{Layer: -1, Stage: StageVerify, Err: err}
	}

	o.log.Info("compiled model", "layers", d.Len(), "dense", dense,
		"parameters", d.Parameters(), "clamped", d.ClampCount(), "params", p.String())
	return d, nil
}

// compileDense fetches, shape-checks and quantises one dense layer. Weights use
// the weight integer width; biases are added to activation-scaled sums and use
// the input width.
func compileDense(pos, idx int, spec graph.Dense, src WeightSource, p fxp.Params) (*fxp.QuantizedTensor, *fxp.QuantizedTensor, error) {
	wt, err := src.Get(idx, weights.Weight)
	if err != nil {
		return nil, nil, &CompilationError{Layer: pos, Stage: StageWeights, Err: err}
	}
	bt, err := src.Get(idx, weights.Bias)
	if err != nil {
		return nil, nil, &CompilationError{Layer: pos, Stage: StageWeights, Err: err}
	}
	if !wt.ShapeEqual(spec.Inputs, spec.Units) {
		return nil, nil, &CompilationError{Layer: pos, Stage: StageWeights, Err: &TensorShapeError{
			DenseIndex: idx, Kind: weights.Weight, Expected: []int{spec.Inputs, spec.Units}, Actual: wt.Shape(),
		}}
	}
	if !bt.ShapeEqual(spec.Units) {
		return nil, nil, &CompilationError{Layer: pos, Stage: StageWeights, Err: &TensorShapeError{
			DenseIndex: idx, Kind: weights.Bias, Expected: []int{spec.Units}, Actual: bt.Shape(),
		}}
	}

	wq, err := fxp.Quantize(wt, p, fxp.WidthWeight)
	if err != nil {
		return nil, nil, &CompilationError{Layer: pos, Stage: StageQuantize, Err: err}
	}
	bq, err := fxp.Quantize(bt, p, fxp.WidthInput)
	if err != nil {
		return nil, nil, &CompilationError{Layer: pos, Stage: StageQuantize, Err: err}
	}
	return wq, bq, nil
}

func layerOf(err error) int {
	var sm *graph.ShapeMismatchError
	if errors.As(err, &sm) {
		return sm.Position
	}
	var it *graph.InvalidTopologyError
	if errors.As(err, &it) {
		return it.Position
	}
	return -1
}
