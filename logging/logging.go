// Package logging wires this module's ambient logr.Logger interface to a
// concrete zap backend, the same production/development split and
// zapr conversion the pack's services use (grounded on
// jordigilh-kubernaut's StartTestGateway helpers).
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the zap encoder used by New.
type Format string

const (
	// FormatJSON emits structured JSON log lines, the production default.
	FormatJSON Format = "json"
	// FormatConsole emits human-readable colorized lines, for local runs.
	FormatConsole Format = "console"
)

// Options configures New.
type Options struct {
	// Format selects JSON or console encoding. Defaults to FormatJSON.
	Format Format
	// Development enables zap's development defaults (DPanic on
	// programmer errors, caller info, no sampling).
	Development bool
	// Level is the minimum enabled level ("debug", "info", "warn",
	// "error"). Defaults to "info".
	Level string
	// OutputPaths overrides where logs are written. Defaults to stdout.
	OutputPaths []string
}

func (o Options) withDefaults() Options {
	if o.Format == "" {
		o.Format = FormatJSON
	}
	if o.Level == "" {
		o.Level = "info"
	}
	if len(o.OutputPaths) == 0 {
		o.OutputPaths = []string{"stdout"}
	}
	return o
}

// New builds a logr.Logger backed by zap, following the same
// NewProductionConfig-with-stdout-override shape the pack's integration
// test harness uses for its long-running services.
func New(opts Options) (logr.Logger, func() error, error) {
	opts = opts.withDefaults()

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		return logr.Logger{}, nil, fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = opts.OutputPaths
	cfg.ErrorOutputPaths = []string{"stderr"}
	if opts.Format == FormatConsole {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.Encoding = "json"
	}

	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("logging: build zap logger: %w", err)
	}

	return zapr.NewLogger(zl), zl.Sync, nil
}

// Discard returns a no-op logr.Logger, for tests and tools that don't
// care about log output.
func Discard() logr.Logger {
	return logr.Discard()
}
