package weights

import (
	"io"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/fabric/pkg/tensor"
)

// jsonDump is the layout written by the python toolchain's training scripts:
// weights[layer][neuron][input] and biases[layer][neuron].
type jsonDump struct {
	Weights [][][]float64 `json:"weights"`
	Biases  [][]float64   `json:"biases"`
}

// LoadJSON reads a {"weights": ..., "biases": ...} dump. Weights are stored
// neuron-major in the dump and are transposed into the (inputs, units) layout
// used everywhere else.
func LoadJSON(r io.Reader) (*Store, error) {
	var dump jsonDump
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return nil, formatErrorf(0, "decode json: %v", err)
	}
	if len(dump.Weights) == 0 && len(dump.Biases) == 0 {
		return nil, formatErrorf(0, "source contains no blocks")
	}

	blocks := make([]Block, 0, len(dump.Weights)+len(dump.Biases))
	for l, neurons := range dump.Weights {
		units := len(neurons)
		if units == 0 {
			return nil, formatErrorf(0, "layer %d weight: no neurons", l)
		}
		inputs := len(neurons[0])
		if inputs == 0 {
			return nil, formatErrorf(0, "layer %d weight: neuron 0 has no inputs", l)
		}
		data := make([]float32, inputs*units)
		for n, row := range neurons {
			if len(row) != inputs {
				return nil, formatErrorf(0, "layer %d weight: neuron %d has %d inputs, neuron 0 has %d", l, n, len(row), inputs)
			}
			for i, v := range row {
				data[i*units+n] = float32(v)
			}
		}
		t, err := tensor.New([]int{inputs, units}, data)
		if err != nil {
			return nil, formatErrorf(0, "layer %d weight: %v", l, err)
		}
		blocks = append(blocks, Block{Layer: l, Kind: Weight, Tensor: t})
	}

	for l, bias := range dump.Biases {
		if len(bias) == 0 {
			return nil, formatErrorf(0, "layer %d bias: empty", l)
		}
		data := make([]float32, len(bias))
		for i, v := range bias {
			data[i] = float32(v)
		}
		t, err := tensor.New([]int{len(bias)}, data)
		if err != nil {
			return nil, formatErrorf(0, "layer %d bias: %v", l, err)
		}
		blocks = append(blocks, Block{Layer: l, Kind: Bias, Tensor: t})
	}

	return New(blocks...)
}
