//go:build !linux

package logger

import "io"

// IsTerminal is false off Linux; console output stays uncolored there.
func IsTerminal(io.Writer) bool { return false }
