// Package logging builds the zap loggers used by command entry points.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FormatJSON writes one JSON object per entry.
	FormatJSON = "json"
	// FormatConsole writes human-readable entries.
	FormatConsole = "console"
)

// Config selects the level and encoding of a logger.
type Config struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// New builds a logger that writes to w, or stderr when w is nil.
func New(cfg Config, w io.Writer) (*zap.Logger, error) {
	levelText := strings.TrimSpace(cfg.Level)
	if levelText == "" {
		levelText = "info"
	}
	level, err := zapcore.ParseLevel(levelText)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", FormatJSON:
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case FormatConsole:
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return nil, fmt.Errorf("log format %q must be %s or %s", cfg.Format, FormatJSON, FormatConsole)
	}

	if w == nil {
		w = os.Stderr
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	return zap.New(core), nil
}
