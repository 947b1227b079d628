// Package hwgen turns a compiled descriptor into the artifacts an FPGA build
// consumes: per-neuron memory initialisation files, the sigmoid table and a
// Verilog parameter include.
package hwgen

import (
	"context"
	"time"

	"github.com/samcharles93/fabric/pkg/compiler"
	"github.com/samcharles93/fabric/pkg/fxp"
)

// Generator consumes a verified descriptor. The core never interprets Target.
type Generator interface {
	Generate(ctx context.Context, d *compiler.Descriptor, t Target) (*Manifest, error)
}

// Target names the hardware build the artifacts are meant for.
type Target struct {
	Device  string `yaml:"device" json:"device"`
	Project string `yaml:"project" json:"project"`
	IP      string `yaml:"ip" json:"ip"`
	System  string `yaml:"system" json:"system"`
}

// DefaultTarget is the Zynq-7020 board used by the reference MNIST build.
func DefaultTarget() Target {
	return Target{
		Device:  "xc7z020clg484-1",
		Project: "myPro6",
		IP:      "myPro6",
		System:  "myBlock3",
	}
}

// WithDefaults fills empty fields from DefaultTarget.
func (t Target) WithDefaults() Target {
	def := DefaultTarget()
	if t.Device == "" {
		t.Device = def.Device
	}
	if t.Project == "" {
		t.Project = def.Project
	}
	if t.IP == "" {
		t.IP = t.Project
	}
	if t.System == "" {
		t.System = def.System
	}
	return t
}

// LayerSummary describes one generated dense layer. Number is 1-based, matching
// the file names.
type LayerSummary struct {
	Number     int    `json:"number"`
	Inputs     int    `json:"inputs"`
	Units      int    `json:"units"`
	Activation string `json:"activation"`
	Clamped    int    `json:"clamped"`
}

// Manifest records what a generation run produced.
type Manifest struct {
	BuildID   string         `json:"build_id"`
	CreatedAt time.Time      `json:"created_at"`
	Target    Target         `json:"target"`
	Params    fxp.Params     `json:"params"`
	Layers    []LayerSummary `json:"layers"`
	Files     []string       `json:"files"`
	Clamped   int            `json:"clamped"`
}

// Summarise fills the layer section of a manifest from d.
func Summarise(d *compiler.Descriptor) []LayerSummary {
	dense := d.DenseLayers()
	out := make([]LayerSummary, len(dense))
	for i, l := range dense {
		spec, _ := l.Dense()
		out[i] = LayerSummary{
			Number:     l.DenseIndex() + 1,
			Inputs:     spec.Inputs,
			Units:      spec.Units,
			Activation: spec.Activation.String(),
			Clamped:    l.ClampCount(),
		}
	}
	return out
}
