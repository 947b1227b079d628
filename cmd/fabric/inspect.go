package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fabric/pkg/fxc"
	"github.com/samcharles93/fabric/pkg/tensor"
	"github.com/samcharles93/fabric/pkg/weights"
)

func inspectCmd() *cli.Command {
	var (
		modelPath    string
		showSections bool
		showTensors  bool
		words        int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect and verify an .fxc container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .fxc file",
				Destination: &modelPath,
				Required:    true,
			},
			&cli.BoolFlag{Name: "sections", Usage: "show section directory", Destination: &showSections},
			&cli.BoolFlag{Name: "tensors", Usage: "list tensor index with quantisation info", Destination: &showTensors},
			&cli.IntFlag{Name: "words", Usage: "print the first N words of every parameter tensor", Destination: &words},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			stat, err := os.Stat(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat model path %q: %v", modelPath, err), 1)
			}

			f, err := fxc.Open(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open container: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			w := stdout(cmd)
			_, _ = fmt.Fprintf(w, "FXC Inspect: %s (%s)\n", modelPath, formatBytes(uint64(stat.Size())))
			_, _ = fmt.Fprintf(w, "FXC Header: v%d.%d sections=%d header=%dB\n",
				f.Header.Major, f.Header.Minor, f.Header.SectionCount, f.Header.HeaderSize)

			info, err := fxc.ReadModelInfo(f)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			printModelInfo(w, info)

			if showSections {
				section(w, "Sections")
				for _, s := range f.Sections {
					_, _ = fmt.Fprintf(w, "%-14s v%-2d off=%-10d size=%s\n",
						fxc.SectionType(s.Type), s.Version, s.Offset, formatBytes(s.Size))
				}
			}
			if showTensors {
				if err := printTensors(w, f); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			d, err := fxc.Decode(f)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: verify: %v", err), 1)
			}
			if words > 0 {
				section(w, "Words")
				for _, l := range d.DenseLayers() {
					for _, kind := range []weights.Kind{weights.Weight, weights.Bias} {
						q := l.Weights()
						if kind == weights.Bias {
							q = l.Biases()
						}
						n := min(words, q.Len())
						bits := make([]string, n)
						for i := range n {
							bits[i] = q.Bits(i)
						}
						_, _ = fmt.Fprintf(w, "%-16s %s\n", fxc.TensorName(l.DenseIndex(), kind), strings.Join(bits, " "))
					}
				}
			}
			_, _ = fmt.Fprintln(w, "verified: ok")
			return nil
		},
	}
}

func printModelInfo(w io.Writer, info fxc.ModelInfo) {
	section(w, "Model")
	row(w, "input_size", fmt.Sprint(info.InputSize))
	row(w, "output_size", fmt.Sprint(info.OutputSize))
	row(w, "params", info.Params.String())
	row(w, "parameters", fmt.Sprint(info.Parameters))
	row(w, "clamped", fmt.Sprint(info.Clamped))
	if info.SigmoidEntries > 0 {
		row(w, "sigmoid_entries", fmt.Sprint(info.SigmoidEntries))
	}
	section(w, "Layers")
	for i, s := range info.Layers {
		l, err := s.Layer()
		if err != nil {
			_, _ = fmt.Fprintf(w, "%-3d (invalid: %v)\n", i, err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%-3d %s\n", i, l)
	}
}

func printTensors(w io.Writer, f *fxc.File) error {
	recs, err := fxc.DecodeTensorIndex(f.SectionData(f.Section(fxc.SectionTensorIndex)))
	if err != nil {
		return err
	}
	quant, err := fxc.DecodeQuantInfo(f.SectionData(f.Section(fxc.SectionQuantInfo)))
	if err != nil {
		return err
	}
	byTensor := make(map[uint32]fxc.QuantRecord, len(quant))
	for _, q := range quant {
		byTensor[q.TensorIndex] = q
	}

	section(w, "Tensors")
	for i, r := range recs {
		line := fmt.Sprintf("%-22s %-4s %-10s off=%-8d size=%s", r.Name, r.DType, tensor.ShapeString(r.Shape), r.DataOff, formatBytes(r.DataSize))
		if q, ok := byTensor[uint32(i)]; ok {
			line += fmt.Sprintf("  q%d.%d clamped=%d range=[%d,%d]",
				q.IntSize, int(q.DataWidth)-int(q.IntSize), q.ClampCount, q.MinWord, q.MaxWord)
		}
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

func section(w io.Writer, title string) {
	line := strings.Repeat("-", len(title)+8)
	_, _ = fmt.Fprintf(w, "\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "%-24s %s\n", label+":", value)
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
