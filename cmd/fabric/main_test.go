package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fabric/pkg/fxc"
	"github.com/samcharles93/fabric/pkg/hwgen"
)

const tinyModel = `name: tiny
layers:
  - type: flatten
    size: 3
  - type: dense
    units: 2
    activation: sigmoid
  - type: dense
    units: 2
    activation: hardmax
weights: tiny.txt
`

const tinyWeights = `layer 0 weight 3 2
0.5 -0.25
1 2
-1.5 100
layer 0 bias 2
0.1 -0.1
layer 1 weight 2 2
1 0
0 1
layer 1 bias 2
0 0
`

// run executes the CLI in-process with an isolated user config directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	err := app.Run(context.Background(), append([]string{"fabric", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestCompileInspectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "tiny.yaml")
	if err := os.WriteFile(modelPath, []byte(tinyModel), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tiny.txt"), []byte(tinyWeights), 0o644); err != nil {
		t.Fatal(err)
	}

	fxcPath := filepath.Join(dir, "out", "tiny.fxc")
	hwDir := filepath.Join(dir, "hw")
	out, err := run(t, "compile", "--config", modelPath, "--out", fxcPath, "--hw-dir", hwDir, "--project", "tinyPro", "-j", "2")
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, out)
	}
	for _, want := range []string{"tiny: 3 inputs -> 2 outputs", "clamped=1", "container: " + fxcPath} {
		if !strings.Contains(out, want) {
			t.Fatalf("compile output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(hwDir, hwgen.WeightFile(1, 1))); err != nil {
		t.Fatalf("weight memory not written: %v", err)
	}
	manifest, err := os.ReadFile(filepath.Join(hwDir, hwgen.ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(manifest), `"project": "tinyPro"`) {
		t.Fatalf("manifest target not applied:\n%s", manifest)
	}

	d, info, err := fxc.Load(fxcPath)
	if err != nil {
		t.Fatalf("load container: %v", err)
	}
	if info.Clamped != 1 || d.Len() != 3 {
		t.Fatalf("container info = %+v", info)
	}

	out, err = run(t, "inspect", "--model", fxcPath, "--sections", "--tensors", "--words", "2")
	if err != nil {
		t.Fatalf("inspect: %v\n%s", err, out)
	}
	for _, want := range []string{"tensor_data", "dense.0.weight", "q4.4 clamped=1", "verified: ok"} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestCompileFlagsOverrideModel(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "tiny.yaml")
	if err := os.WriteFile(modelPath, []byte(tinyModel), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tiny.txt"), []byte(tinyWeights), 0o644); err != nil {
		t.Fatal(err)
	}

	fxcPath := filepath.Join(dir, "wide.fxc")
	out, err := run(t, "compile", "--config", modelPath, "--out", fxcPath, "--data-width", "16", "--weight-int-size", "8")
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, out)
	}
	_, info, err := fxc.Load(fxcPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Params.DataWidth != 16 || info.Params.WeightIntSize != 8 || info.Params.InputIntSize != 1 {
		t.Fatalf("params = %v", info.Params)
	}
	if info.Clamped != 0 {
		t.Fatalf("clamped = %d, want 0 with 8 integer bits", info.Clamped)
	}
}

func TestCompileRejectsInvalidParams(t *testing.T) {
	dir := t.TempDir()
	weightsPath := filepath.Join(dir, "tiny.txt")
	if err := os.WriteFile(weightsPath, []byte(tinyWeights), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "compile", "--weights", weightsPath, "--data-width", "4", "--no-container")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "weightIntSize") {
		t.Fatalf("error does not name the parameter: %v", err)
	}
}

func TestInitAndLUT(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.yaml")
	out, err := run(t, "init", "--out", modelPath)
	if err != nil {
		t.Fatalf("init: %v\n%s", err, out)
	}
	raw, err := os.ReadFile(modelPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "input_size: 784") || !strings.Contains(string(raw), "activation: hardmax") {
		t.Fatalf("default model:\n%s", raw)
	}
	if _, err := run(t, "init", "--out", modelPath); err == nil {
		t.Fatalf("second init without --force should fail")
	}

	out, err = run(t, "lut", "--format", "int")
	if err != nil {
		t.Fatalf("lut: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1024 || lines[512] != "64" || lines[1023] != "127" {
		t.Fatalf("lut lines = %d, [512]=%q, [1023]=%q", len(lines), lines[512], lines[1023])
	}
}

func TestResolveContainerOut(t *testing.T) {
	dir := t.TempDir()

	got, err := resolveContainerOut(filepath.Join(dir, "a", "b.fxc"), "", "ignored")
	if err != nil || got != filepath.Join(dir, "a", "b.fxc") {
		t.Fatalf("explicit = %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a")); err != nil {
		t.Fatalf("parent not created: %v", err)
	}

	got, err = resolveContainerOut("", filepath.Join(dir, "cfg"), "mnist")
	if err != nil || got != filepath.Join(dir, "cfg", "mnist.fxc") {
		t.Fatalf("config dir = %q, %v", got, err)
	}

	t.Setenv(envFabricOutDir, filepath.Join(dir, "env"))
	got, err = resolveContainerOut("", "", "mnist")
	if err != nil || got != filepath.Join(dir, "env", "mnist.fxc") {
		t.Fatalf("env dir = %q, %v", got, err)
	}

	if _, err := resolveContainerOut("", "", "a/b"); err == nil {
		t.Fatalf("expected error for name with separator")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "version:    ") || !strings.Contains(out, "\ngo:         go") {
		t.Fatalf("version output:\n%s", out)
	}
}
