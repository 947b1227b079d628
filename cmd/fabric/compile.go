package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fabric/internal/config"
	"github.com/samcharles93/fabric/internal/logger"
	"github.com/samcharles93/fabric/pkg/compiler"
	"github.com/samcharles93/fabric/pkg/fxc"
	"github.com/samcharles93/fabric/pkg/hwgen"
	"github.com/samcharles93/fabric/pkg/weights"
)

func compileCmd() *cli.Command {
	var (
		modelConfig string
		weightsPath string
		outPath     string
		hwDir       string
		noContainer bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "model YAML (defaults to the built-in MNIST network)",
			Destination: &modelConfig,
		},
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "weight file (.json dump or block text); overrides the model file",
			Destination: &weightsPath,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "output .fxc path (default: <output_dir>/<name>.fxc)",
			Destination: &outPath,
		},
		&cli.StringFlag{
			Name:        "hw-dir",
			Usage:       "also write memory files, include.v and manifest.json here",
			Destination: &hwDir,
		},
		&cli.BoolFlag{
			Name:        "no-container",
			Usage:       "skip writing the .fxc container",
			Destination: &noContainer,
		},
		workerFlag(),
	}
	flags = append(flags, quantFlags()...)
	flags = append(flags, targetFlags()...)

	return &cli.Command{
		Name:  "compile",
		Usage: "Quantise a network's weights and emit the container and hardware artifacts",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyWorkersConfig(cmd, userCfg)

			model := config.DefaultModel()
			if modelConfig != "" {
				m, err := config.LoadModel(modelConfig)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				model = m
			}
			if weightsPath != "" {
				model.Weights = weightsPath
			}
			if model.Weights == "" {
				return cli.Exit("error: no weight file: set --weights or 'weights' in the model file", 1)
			}
			p := applyQuantFlags(cmd, model.Params())
			target := applyTargetFlags(cmd, model.Target)

			g, err := model.Graph()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: model: %v", err), 1)
			}
			store, err := weights.LoadPath(model.Weights)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Debug("loaded weights", "path", model.Weights, "layers", store.Layers())

			d, err := compiler.CompileGraph(ctx, g, store, p,
				compiler.WithWorkers(workers),
				compiler.WithLogger(log),
			)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			w := stdout(cmd)
			printCompileSummary(w, model.Name, d)

			if !noContainer {
				name := model.Name
				if name == "" {
					name = "model"
				}
				path, err := resolveContainerOut(outPath, userCfg.OutputDir, name)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if err := fxc.WriteFile(path, d); err != nil {
					return cli.Exit(fmt.Sprintf("error: write container: %v", err), 1)
				}
				log.Info("wrote container", "path", path)
				_, _ = fmt.Fprintf(w, "container: %s\n", path)
			}

			if hwDir != "" {
				gen := &hwgen.FileGenerator{Dir: hwDir, Log: log}
				m, err := gen.Generate(ctx, d, target)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				_, _ = fmt.Fprintf(w, "artifacts: %d files in %s (build %s)\n", len(m.Files), hwDir, m.BuildID)
			}
			return nil
		},
	}
}

func printCompileSummary(w io.Writer, name string, d *compiler.Descriptor) {
	if name == "" {
		name = "model"
	}
	_, _ = fmt.Fprintf(w, "%s: %d inputs -> %d outputs, %s\n", name, d.InputSize(), d.OutputSize(), d.Params())
	for i, l := range d.Layers() {
		if l.Weights() == nil {
			_, _ = fmt.Fprintf(w, "  %-2d %s\n", i, l.Spec())
			continue
		}
		_, _ = fmt.Fprintf(w, "  %-2d %-32s clamped=%d\n", i, l.Spec(), l.ClampCount())
	}
	parts := []string{fmt.Sprintf("parameters=%d", d.Parameters()), fmt.Sprintf("clamped=%d", d.ClampCount())}
	if lut := d.Sigmoid(); lut != nil {
		parts = append(parts, fmt.Sprintf("sigmoid_entries=%d", lut.Len()))
	}
	_, _ = fmt.Fprintf(w, "  %s\n", strings.Join(parts, " "))
}
