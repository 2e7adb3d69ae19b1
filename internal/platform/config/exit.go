package config

import (
	"fmt"
	"io"
	"os"
)

// Exitf writes a formatted error message to stderr and exits with code 1.
// It provides a consistent fatal-exit pattern for CLI entry points.
func Exitf(format string, args ...any) {
	Exit(os.Stderr, 1, format, args...)
}

// Exit writes a formatted message to w and exits with code.
func Exit(w io.Writer, code int, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
	os.Exit(code)
}
