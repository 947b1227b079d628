// Package config reads the YAML files fabric is driven by: the per-user
// defaults file and model build descriptions.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
	"github.com/samcharles93/fabric/pkg/hwgen"
)

// User is the per-user config file ($XDG_CONFIG_HOME/fabric/config.yaml).
// Empty fields mean "not set".
type User struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	ServerAddress string `yaml:"server_address"`
	OutputDir     string `yaml:"output_dir"`
	Workers       *int   `yaml:"workers"`
}

// UserPath returns the user config location, or "" when no config directory
// can be determined.
func UserPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "fabric", "config.yaml")
}

// LoadUser reads the user config. A missing file yields a zero User; a file
// that exists but does not parse is an error.
func LoadUser(path string) (User, error) {
	var u User
	if path == "" {
		return u, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return u, nil
	}
	if err != nil {
		return u, err
	}
	if err := yaml.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return u, nil
}

// Model describes one network build.
type Model struct {
	Name      string       `yaml:"name,omitempty"`
	InputSize int          `yaml:"input_size"`
	Layers    []graph.Spec `yaml:"layers"`
	Quant     *fxp.Params  `yaml:"quant,omitempty"`
	Target    hwgen.Target `yaml:"target,omitempty"`
	// Weights is a text or JSON weight file. Relative paths resolve against the
	// directory of the model file.
	Weights string `yaml:"weights,omitempty"`
}

// DefaultModel is the reference MNIST network: 784 inputs, three sigmoid
// layers and a hardmax decision layer.
func DefaultModel() Model {
	p := fxp.DefaultParams()
	return Model{
		Name:      "mnist",
		InputSize: 784,
		Layers: []graph.Spec{
			{Type: "flatten", Size: 784},
			{Type: "dense", Inputs: 784, Units: 30, Activation: graph.Sigmoid},
			{Type: "dense", Inputs: 30, Units: 20, Activation: graph.Sigmoid},
			{Type: "dense", Inputs: 20, Units: 10, Activation: graph.Sigmoid},
			{Type: "dense", Inputs: 10, Units: 10, Activation: graph.Hardmax},
		},
		Quant:   &p,
		Target:  hwgen.DefaultTarget(),
		Weights: "WeightsAndBiases.txt",
	}
}

// LoadModel reads a model file and resolves its weights path.
func LoadModel(path string) (Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return Model{}, err
	}
	defer func() { _ = f.Close() }()

	m, err := DecodeModel(f)
	if err != nil {
		return Model{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if m.Weights != "" && !filepath.IsAbs(m.Weights) {
		m.Weights = filepath.Join(filepath.Dir(path), m.Weights)
	}
	return m, nil
}

// modelDoc is the on-disk shape of Model.
type modelDoc struct {
	Name      string       `yaml:"name"`
	InputSize int          `yaml:"input_size"`
	Layers    []graph.Spec `yaml:"layers"`
	Quant     *quantDoc    `yaml:"quant"`
	Target    hwgen.Target `yaml:"target"`
	Weights   string       `yaml:"weights"`
}

// quantDoc keeps an omitted field apart from an explicit zero.
type quantDoc struct {
	DataWidth     *int `yaml:"data_width"`
	WeightIntSize *int `yaml:"weight_int_size"`
	InputIntSize  *int `yaml:"input_int_size"`
	SigmoidSize   *int `yaml:"sigmoid_size"`
}

func (q *quantDoc) params() fxp.Params {
	p := fxp.DefaultParams()
	for _, f := range []struct {
		dst *int
		src *int
	}{
		{&p.DataWidth, q.DataWidth},
		{&p.WeightIntSize, q.WeightIntSize},
		{&p.InputIntSize, q.InputIntSize},
		{&p.SigmoidSize, q.SigmoidSize},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	return p
}

// DecodeModel parses a model document. Unknown keys are rejected. Omitted
// quant fields take the reference defaults and the merged budget must
// validate; omitted target fields are left for the generator to fill.
func DecodeModel(r io.Reader) (Model, error) {
	var doc modelDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Model{}, errors.New("empty model document")
		}
		return Model{}, err
	}

	p := fxp.DefaultParams()
	if doc.Quant != nil {
		p = doc.Quant.params()
		if err := p.Validate(); err != nil {
			return Model{}, fmt.Errorf("quant: %w", err)
		}
	}
	m := Model{
		Name:      doc.Name,
		InputSize: doc.InputSize,
		Layers:    doc.Layers,
		Quant:     &p,
		Target:    doc.Target,
		Weights:   doc.Weights,
	}
	if m.InputSize == 0 && len(m.Layers) > 0 {
		if first := m.Layers[0]; first.Size > 0 {
			m.InputSize = first.Size
		} else {
			m.InputSize = first.Inputs
		}
	}
	return m, nil
}

// Params returns the quantisation parameters, falling back to the defaults.
func (m Model) Params() fxp.Params {
	if m.Quant == nil {
		return fxp.DefaultParams()
	}
	return *m.Quant
}

// Graph validates the layer list and returns it as a graph.
func (m Model) Graph() (*graph.Graph, error) {
	if len(m.Layers) == 0 {
		return nil, &graph.EmptyGraphError{}
	}
	return graph.Build(m.InputSize, m.Layers)
}

// Encode writes m as YAML.
func (m Model) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}
