package compiler

import (
	"errors"
	"fmt"

	"github.com/samcharles93/fabric/pkg/tensor"
	"github.com/samcharles93/fabric/pkg/weights"
)

var ErrCompilation = errors.New("compiler: compilation failed")

// Stage names the compilation step that failed.
type Stage string

const (
	StageParams   Stage = "params"
	StageGraph    Stage = "graph"
	StageWeights  Stage = "weights"
	StageQuantize Stage = "quantize"
	StageSigmoid  Stage = "sigmoid"
	StageVerify   Stage = "verify"
)

// CompilationError wraps the error that aborted a compilation. Layer is the
// position in the layer list, or -1 when the failure is not tied to a layer.
type CompilationError struct {
	Layer int
	Stage Stage
	Err   error
}

func (e *CompilationError) Error() string {
	if e.Layer >= 0 {
		return fmt.Sprintf("compile: layer %d: %s: %v", e.Layer, e.Stage, e.Err)
	}
	return fmt.Sprintf("compile: %s: %v", e.Stage, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCompilation) match any CompilationError.
func (e *CompilationError) Is(target error) bool { return target == ErrCompilation }

// TensorShapeError reports a weight or bias tensor whose shape disagrees with
// the dense layer that uses it.
type TensorShapeError struct {
	DenseIndex int
	Kind       weights.Kind
	Expected   []int
	Actual     []int
}

func (e *TensorShapeError) Error() string {
	return fmt.Sprintf("layer %d %s: expected shape %s, got %s",
		e.DenseIndex, e.Kind, tensor.ShapeString(e.Expected), tensor.ShapeString(e.Actual))
}
