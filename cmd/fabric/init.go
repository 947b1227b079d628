package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fabric/internal/config"
)

func initCmd() *cli.Command {
	var (
		outPath string
		force   bool
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Write the reference MNIST model file as a starting point",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "model file to create",
				Value:       "model.yaml",
				Destination: &outPath,
			},
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file", Destination: &force},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			f, err := os.OpenFile(outPath, flag, 0o644)
			if errors.Is(err, os.ErrExist) {
				return cli.Exit(fmt.Sprintf("error: %s exists (use --force)", outPath), 1)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			if err := config.DefaultModel().Encode(f); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			_, _ = fmt.Fprintf(stdout(cmd), "wrote %s\n", outPath)
			return nil
		},
	}
}
