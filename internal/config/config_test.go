package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
	"github.com/samcharles93/fabric/pkg/hwgen"
)

const modelYAML = `name: tiny
layers:
  - type: flatten
    size: 4
  - type: dense
    units: 3
    activation: sigmoid
  - type: dense
    units: 2
    activation: hardmax
quant:
  data_width: 12
  sigmoid_size: 8
target:
  project: tinyPro
weights: w.txt
`

func TestLoadModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(path, []byte(modelYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadModel(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.InputSize != 4 {
		t.Fatalf("input size = %d, want 4 (from flatten)", m.InputSize)
	}
	want := fxp.Params{DataWidth: 12, WeightIntSize: 4, InputIntSize: 1, SigmoidSize: 8}
	if m.Params() != want {
		t.Fatalf("params = %v, want %v", m.Params(), want)
	}
	if m.Weights != filepath.Join(dir, "w.txt") {
		t.Fatalf("weights = %q", m.Weights)
	}
	if m.Target.Project != "tinyPro" || m.Target.Device != "" {
		t.Fatalf("target = %+v", m.Target)
	}

	g, err := m.Graph()
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	layers, err := g.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 3 || layers[2] != (graph.Dense{Inputs: 3, Units: 2, Activation: graph.Hardmax}) {
		t.Fatalf("layers = %v", layers)
	}
}

func TestDecodeModelErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"unknown key", "input_size: 4\nbogus: 1\n"},
		{"bad activation", "layers:\n  - type: dense\n    units: 2\n    activation: relu\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecodeModel(strings.NewReader(tt.doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDecodeModelExplicitZeroQuant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		doc   string
		param string
	}{
		{"quant:\n  data_width: 0\n", "dataWidth"},
		{"quant:\n  weight_int_size: 0\n", "weightIntSize"},
		{"quant:\n  sigmoid_size: 0\n", "sigmoidSize"},
		{"quant:\n  data_width: 4\n", "weightIntSize"},
	}
	for _, tt := range tests {
		_, err := DecodeModel(strings.NewReader("input_size: 4\n" + tt.doc))
		var ip *fxp.InvalidParamsError
		if !errors.As(err, &ip) || ip.Param != tt.param {
			t.Fatalf("%q: err = %v, want InvalidParamsError for %s", tt.doc, err, tt.param)
		}
	}

	m, err := DecodeModel(strings.NewReader("input_size: 4\nquant: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Params() != fxp.DefaultParams() {
		t.Fatalf("empty quant block = %v, want defaults", m.Params())
	}
}

func TestModelGraphErrors(t *testing.T) {
	t.Parallel()

	m, err := DecodeModel(strings.NewReader("input_size: 4\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Graph(); err == nil {
		t.Fatalf("expected empty graph error")
	}

	m, err = DecodeModel(strings.NewReader("input_size: 4\nlayers:\n  - type: dense\n    inputs: 5\n    units: 2\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Graph(); err == nil {
		t.Fatalf("expected shape mismatch")
	}
}

func TestDefaultModelRoundTrip(t *testing.T) {
	t.Parallel()

	def := DefaultModel()
	var buf bytes.Buffer
	if err := def.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeModel(&buf)
	if err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if back.Params() != fxp.DefaultParams() || back.InputSize != 784 || back.Target != hwgen.DefaultTarget() {
		t.Fatalf("round trip = %+v", back)
	}
	g, err := back.Graph()
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if g.Len() != 5 || g.OutputSize() != 10 {
		t.Fatalf("graph len/out = %d/%d", g.Len(), g.OutputSize())
	}
}

func TestLoadUser(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u, err := LoadUser(filepath.Join(dir, "missing.yaml"))
	if err != nil || u != (User{}) {
		t.Fatalf("missing file = %+v, %v", u, err)
	}

	path := filepath.Join(dir, "config.yaml")
	doc := "log_level: debug\nserver_address: 127.0.0.1:9000\nworkers: 4\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	u, err = LoadUser(path)
	if err != nil {
		t.Fatal(err)
	}
	if u.LogLevel != "debug" || u.ServerAddress != "127.0.0.1:9000" || u.Workers == nil || *u.Workers != 4 {
		t.Fatalf("user = %+v", u)
	}

	if err := os.WriteFile(path, []byte("log_level: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadUser(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
