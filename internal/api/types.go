package api

import (
	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
)

// CompileRequest is the body of POST /v1/compile. Weights holds the block text
// format, or the JSON dump when WeightsFormat is "json".
type CompileRequest struct {
	InputSize     int          `json:"input_size"`
	Layers        []graph.Spec `json:"layers"`
	Params        *fxp.Params  `json:"params,omitempty"`
	Weights       string       `json:"weights"`
	WeightsFormat string       `json:"weights_format,omitempty"`
	// IncludeWords adds every quantised word to the response.
	IncludeWords bool `json:"include_words,omitempty"`
}

type CompileResponse struct {
	ID             string        `json:"id"`
	Object         string        `json:"object"`
	CreatedAt      int64         `json:"created_at"`
	InputSize      int           `json:"input_size"`
	OutputSize     int           `json:"output_size"`
	Params         fxp.Params    `json:"params"`
	Parameters     int           `json:"parameters"`
	Clamped        int           `json:"clamped"`
	SigmoidEntries int           `json:"sigmoid_entries,omitempty"`
	Layers         []LayerResult `json:"layers"`
	DurationMS     float64       `json:"duration_ms"`
}

type LayerResult struct {
	Index       int        `json:"index"`
	Spec        graph.Spec `json:"spec"`
	DenseIndex  int        `json:"dense_index"`
	WeightShape []int      `json:"weight_shape,omitempty"`
	BiasShape   []int      `json:"bias_shape,omitempty"`
	Clamped     int        `json:"clamped"`
	Weights     []int32    `json:"weights,omitempty"`
	Biases      []int32    `json:"biases,omitempty"`
}

// LUTRequest is the body of POST /v1/lut. Omitted params use the defaults.
type LUTRequest struct {
	Params *fxp.Params `json:"params,omitempty"`
	Bits   bool        `json:"bits,omitempty"`
}

type LUTResponse struct {
	Params  fxp.Params `json:"params"`
	Start   float64    `json:"start"`
	Step    float64    `json:"step"`
	Clamped int        `json:"clamped"`
	Entries []int32    `json:"entries"`
	Bits    []string   `json:"bits,omitempty"`
}

type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Layer   *int   `json:"layer,omitempty"`
	Stage   string `json:"stage,omitempty"`
}
