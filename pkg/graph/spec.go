package graph

import (
	"fmt"
	"strings"
)

// Spec is the serialisable form of a Layer, shared by model configs, API
// bodies and the container's model info. Type is "flatten" or "dense".
type Spec struct {
	Type       string     `yaml:"type" json:"type"`
	Size       int        `yaml:"size,omitempty" json:"size,omitempty"`
	Inputs     int        `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Units      int        `yaml:"units,omitempty" json:"units,omitempty"`
	Activation Activation `yaml:"activation,omitempty" json:"activation,omitempty"`
}

// SpecOf converts a layer to its serialisable form.
func SpecOf(l Layer) Spec {
	switch v := l.(type) {
	case Flatten:
		return Spec{Type: "flatten", Size: v.Size}
	case Dense:
		return Spec{Type: "dense", Inputs: v.Inputs, Units: v.Units, Activation: v.Activation}
	default:
		return Spec{}
	}
}

// Specs converts a layer list.
func Specs(layers []Layer) []Spec {
	out := make([]Spec, len(layers))
	for i, l := range layers {
		out[i] = SpecOf(l)
	}
	return out
}

// Layer converts s back to a layer. It checks only the type name; chain
// validity is left to Validate.
func (s Spec) Layer() (Layer, error) {
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "flatten":
		return Flatten{Size: s.Size}, nil
	case "dense":
		return Dense{Inputs: s.Inputs, Units: s.Units, Activation: s.Activation}, nil
	default:
		return nil, fmt.Errorf("graph: unknown layer type %q", s.Type)
	}
}

// Build appends every spec to a new graph reading inputSize values. A dense
// spec with Inputs == 0 takes the previous layer's output size.
func Build(inputSize int, specs []Spec) (*Graph, error) {
	g := New(inputSize)
	for i, s := range specs {
		if strings.EqualFold(strings.TrimSpace(s.Type), "dense") && s.Inputs == 0 {
			s.Inputs = g.OutputSize()
		}
		l, err := s.Layer()
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if err := g.Append(l); err != nil {
			return nil, err
		}
	}
	return g, nil
}
