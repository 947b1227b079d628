package hwgen

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/fabric/internal/logger"
	"github.com/samcharles93/fabric/pkg/compiler"
)

const (
	SigmoidFile  = "sigContent.mif"
	IncludeFile  = "include.v"
	ManifestFile = "manifest.json"
)

// WeightFile names the memory file for neuron n of dense layer number (1-based).
func WeightFile(number, n int) string { return fmt.Sprintf("w_%d_%d.mif", number, n) }

// BiasFile names the bias memory file for neuron n of dense layer number.
func BiasFile(number, n int) string { return fmt.Sprintf("b_%d_%d.mif", number, n) }

// FileGenerator writes artifacts into Dir, creating it if needed. Existing
// files with the same names are replaced.
type FileGenerator struct {
	Dir string
	Log logger.Logger
}

var _ Generator = (*FileGenerator)(nil)

func (g *FileGenerator) log() logger.Logger {
	if g.Log == nil {
		return logger.Discard()
	}
	return g.Log
}

// Generate writes one weight and one bias file per neuron, the sigmoid table
// when used, include.v and manifest.json.
func (g *FileGenerator) Generate(ctx context.Context, d *compiler.Descriptor, t Target) (*Manifest, error) {
	if err := d.Verify(); err != nil {
		return nil, fmt.Errorf("hwgen: descriptor failed verification: %w", err)
	}
	if g.Dir == "" {
		return nil, fmt.Errorf("hwgen: output directory not set")
	}
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("hwgen: %w", err)
	}

	m := &Manifest{
		BuildID:   uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Target:    t.WithDefaults(),
		Params:    d.Params(),
		Layers:    Summarise(d),
		Clamped:   d.ClampCount(),
	}
	width := d.Params().DataWidth

	for _, l := range d.DenseLayers() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec, _ := l.Dense()
		number := l.DenseIndex() + 1
		w, b := l.Weights(), l.Biases()
		for n := range spec.Units {
			name := WeightFile(number, n)
			// Column n of the (inputs, units) matrix feeds neuron n.
			err := g.writeLines(name, spec.Inputs, func(i int) string { return w.Bits(i*spec.Units + n) })
			if err != nil {
				return nil, err
			}
			m.Files = append(m.Files, name)

			name = BiasFile(number, n)
			if err := g.writeLines(name, 1, func(int) string { return b.Bits(n) }); err != nil {
				return nil, err
			}
			m.Files = append(m.Files, name)
		}
		g.log().Debug("wrote layer memories", "layer", number, "neurons", spec.Units, "width", width)
	}

	if lut := d.Sigmoid(); lut != nil {
		if err := g.writeLines(SigmoidFile, lut.Len(), lut.Bits); err != nil {
			return nil, err
		}
		m.Files = append(m.Files, SigmoidFile)
	}

	if err := g.writeFile(IncludeFile, []byte(Include(d))); err != nil {
		return nil, err
	}
	m.Files = append(m.Files, IncludeFile)

	m.Files = append(m.Files, ManifestFile)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("hwgen: encode manifest: %w", err)
	}
	if err := g.writeFile(ManifestFile, append(data, '\n')); err != nil {
		return nil, err
	}

	g.log().Info("generated hardware artifacts", "dir", g.Dir, "files", len(m.Files),
		"build_id", m.BuildID, "device", m.Target.Device)
	return m, nil
}

func (g *FileGenerator) writeLines(name string, n int, line func(int) string) (err error) {
	f, err := os.Create(filepath.Join(g.Dir, name))
	if err != nil {
		return fmt.Errorf("hwgen: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("hwgen: %w", cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	for i := range n {
		if _, err := bw.WriteString(line(i)); err != nil {
			return fmt.Errorf("hwgen: %s: %w", name, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("hwgen: %s: %w", name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("hwgen: %s: %w", name, err)
	}
	return nil
}

func (g *FileGenerator) writeFile(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(g.Dir, name), data, 0o644); err != nil {
		return fmt.Errorf("hwgen: %w", err)
	}
	return nil
}
