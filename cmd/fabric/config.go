package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fabric/internal/config"
	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/hwgen"
)

// applyLoggingConfig applies user config defaults to the logging flags when
// they were not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg config.User) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyWorkersConfig(c *cli.Command, cfg config.User) {
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
}

// applyQuantFlags overlays explicitly set quantisation flags on base.
func applyQuantFlags(c *cli.Command, base fxp.Params) fxp.Params {
	if c.IsSet("data-width") {
		base.DataWidth = dataWidth
	}
	if c.IsSet("weight-int-size") {
		base.WeightIntSize = weightIntSize
	}
	if c.IsSet("input-int-size") {
		base.InputIntSize = inputIntSize
	}
	if c.IsSet("sigmoid-size") {
		base.SigmoidSize = sigmoidSize
	}
	return base
}

// applyTargetFlags overlays explicitly set target flags on base.
func applyTargetFlags(c *cli.Command, base hwgen.Target) hwgen.Target {
	if c.IsSet("device") {
		base.Device = targetDevice
	}
	if c.IsSet("project") {
		base.Project = targetProject
		base.IP = targetProject
	}
	if c.IsSet("system") {
		base.System = targetSystem
	}
	return base.WithDefaults()
}

// applyServeConfig applies user config defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg config.User, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	applyWorkersConfig(c, cfg)
}
