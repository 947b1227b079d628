package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fabric/pkg/fxp"
)

func lutCmd() *cli.Command {
	var (
		format  string
		outPath string
	)

	return &cli.Command{
		Name:  "lut",
		Usage: "Print or write the sigmoid lookup table for a bit-width budget",
		Flags: append(quantFlags(),
			&cli.StringFlag{
				Name:        "format",
				Usage:       "entry format (bits, int, real)",
				Value:       "bits",
				Destination: &format,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write to a file instead of stdout (eg sigContent.mif)",
				Destination: &outPath,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p := applyQuantFlags(cmd, fxp.DefaultParams())
			lut, err := fxp.SigmoidLUT(p)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var w io.Writer = stdout(cmd)
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			if err := writeLUT(w, lut, format); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}

func writeLUT(w io.Writer, lut *fxp.LUT, format string) error {
	var entry func(k int) string
	frac := lut.Params().FracBits(fxp.WidthInput)
	switch format {
	case "bits", "":
		entry = lut.Bits
	case "int":
		entry = func(k int) string { return fmt.Sprint(lut.At(k)) }
	case "real":
		entry = func(k int) string {
			x := lut.Start() + float64(k)*lut.Step()
			return fmt.Sprintf("%g\t%g", x, float64(lut.At(k))/float64(int64(1)<<frac))
		}
	default:
		return fmt.Errorf("unknown format %q (want bits, int or real)", format)
	}

	bw := bufio.NewWriter(w)
	for k := range lut.Len() {
		if _, err := fmt.Fprintln(bw, entry(k)); err != nil {
			return err
		}
	}
	return bw.Flush()
}
