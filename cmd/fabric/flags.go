package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/hwgen"
)

var (
	logLevel  string
	logFormat string
	debug     bool
	workers   int

	dataWidth     int
	weightIntSize int
	inputIntSize  int
	sigmoidSize   int

	targetDevice  string
	targetProject string
	targetSystem  string
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (console, json, text)",
			Value:       "console",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func workerFlag() cli.Flag {
	return &cli.IntFlag{
		Name:        "workers",
		Aliases:     []string{"j"},
		Usage:       "dense layers quantised concurrently",
		Value:       1,
		Destination: &workers,
	}
}

// quantFlags default to the reference build; values from a model file win
// unless the flag is given explicitly.
func quantFlags() []cli.Flag {
	def := fxp.DefaultParams()
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "data-width",
			Usage:       "bits per fixed-point word",
			Value:       def.DataWidth,
			Destination: &dataWidth,
		},
		&cli.IntFlag{
			Name:        "weight-int-size",
			Usage:       "integer bits of a weight word",
			Value:       def.WeightIntSize,
			Destination: &weightIntSize,
		},
		&cli.IntFlag{
			Name:        "input-int-size",
			Usage:       "integer bits of an activation or bias word",
			Value:       def.InputIntSize,
			Destination: &inputIntSize,
		},
		&cli.IntFlag{
			Name:        "sigmoid-size",
			Usage:       "log2 of the sigmoid table length",
			Value:       def.SigmoidSize,
			Destination: &sigmoidSize,
		},
	}
}

func targetFlags() []cli.Flag {
	def := hwgen.DefaultTarget()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "device",
			Usage:       "FPGA part number",
			Value:       def.Device,
			Destination: &targetDevice,
		},
		&cli.StringFlag{
			Name:        "project",
			Usage:       "hardware project name",
			Value:       def.Project,
			Destination: &targetProject,
		},
		&cli.StringFlag{
			Name:        "system",
			Usage:       "block design name",
			Value:       def.System,
			Destination: &targetSystem,
		},
	}
}
