package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
)

const envFabricOutDir = "FABRIC_OUT_DIR"

// resolveContainerOut picks the .fxc path: the explicit flag, else
// <dir>/<name>.fxc where dir comes from the user config, FABRIC_OUT_DIR or
// ./out in that order. Parent directories are created.
func resolveContainerOut(outFlag, cfgDir, name string) (string, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outPath := filepath.Clean(outFlag)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return "", err
		}
		return outPath, nil
	}

	name = strings.TrimSpace(name)
	if name == "" || name == "." || strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("invalid model name %q", name)
	}

	dir := strings.TrimSpace(cfgDir)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envFabricOutDir))
	}
	if dir == "" {
		dir = filepath.Join(".", "out")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".fxc"), nil
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
