// Package weights loads and indexes the per-layer weight and bias tensors of a
// trained dense network.
//
// Layer indices count dense layers only, starting at 0: index 0 is the first
// layer that owns parameters, regardless of any flatten layer in front of it.
package weights

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samcharles93/fabric/pkg/tensor"
)

// Kind selects the weight or bias block of a layer.
type Kind uint8

const (
	Weight Kind = iota
	Bias
)

func (k Kind) String() string {
	switch k {
	case Weight:
		return "weight"
	case Bias:
		return "bias"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the block tags used by the text format.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "weight", "weights", "w":
		return Weight, nil
	case "bias", "biases", "b":
		return Bias, nil
	default:
		return 0, fmt.Errorf("unknown block kind %q", s)
	}
}

// Block is one tagged tensor of a store.
type Block struct {
	Layer  int
	Kind   Kind
	Tensor *tensor.Tensor
}

type blockKey struct {
	layer int
	kind  Kind
}

// Store is an immutable index of weight and bias tensors.
// It is safe for concurrent use.
type Store struct {
	blocks map[blockKey]*tensor.Tensor
	layers int
}

// New builds a store from explicit blocks. Duplicate (layer, kind) pairs, negative
// layer indices and gaps in the layer numbering are reported as FormatError.
func New(blocks ...Block) (*Store, error) {
	s := &Store{blocks: make(map[blockKey]*tensor.Tensor, len(blocks))}
	seen := make(map[int]struct{})
	for _, b := range blocks {
		if b.Layer < 0 {
			return nil, formatErrorf(0, "negative layer index %d", b.Layer)
		}
		if b.Tensor == nil {
			return nil, formatErrorf(0, "layer %d %s: nil tensor", b.Layer, b.Kind)
		}
		k := blockKey{layer: b.Layer, kind: b.Kind}
		if _, dup := s.blocks[k]; dup {
			return nil, formatErrorf(0, "duplicate %s block for layer %d", b.Kind, b.Layer)
		}
		s.blocks[k] = b.Tensor
		seen[b.Layer] = struct{}{}
	}
	if err := checkContiguous(seen); err != nil {
		return nil, err
	}
	s.layers = len(seen)
	return s, nil
}

func checkContiguous(seen map[int]struct{}) error {
	for i := 0; i < len(seen); i++ {
		if _, ok := seen[i]; !ok {
			return formatErrorf(0, "layers run to index %d but layer %d is absent", maxKey(seen), i)
		}
	}
	return nil
}

func maxKey(m map[int]struct{}) int {
	out := -1
	for k := range m {
		out = max(out, k)
	}
	return out
}

// LoadPath reads a store from disk, choosing the decoder by file extension:
// .json is read as a weights/biases dump, anything else as the block text format.
func LoadPath(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(f)
	}
	return Load(f)
}

// LoadFile reads the block text format from path.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Get returns the tensor stored for (layer, kind).
func (s *Store) Get(layer int, kind Kind) (*tensor.Tensor, error) {
	if s != nil {
		if t, ok := s.blocks[blockKey{layer: layer, kind: kind}]; ok {
			return t, nil
		}
	}
	return nil, &NotFoundError{Layer: layer, Kind: kind}
}

// Has reports whether a block exists for (layer, kind).
func (s *Store) Has(layer int, kind Kind) bool {
	_, err := s.Get(layer, kind)
	return err == nil
}

// Layers returns the number of distinct layer indices in the store.
func (s *Store) Layers() int {
	if s == nil {
		return 0
	}
	return s.layers
}

// Blocks returns every block ordered by layer, then weight before bias.
func (s *Store) Blocks() []Block {
	if s == nil {
		return nil
	}
	out := make([]Block, 0, len(s.blocks))
	for k, t := range s.blocks {
		out = append(out, Block{Layer: k.layer, Kind: k.kind, Tensor: t})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
