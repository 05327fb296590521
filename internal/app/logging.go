package app

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/plugbus/internal/config"
)

// LoggerConfig configures the logger.
type LoggerConfig struct {
	// Level is the minimum level to output.
	Level zapcore.Level

	// Format is console or json.
	Format string

	// Output is where logs are written. Defaults to os.Stderr.
	Output zapcore.WriteSyncer

	// File additionally receives every entry when set.
	File string
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  zapcore.InfoLevel,
		Format: "console",
		Output: zapcore.Lock(os.Stderr),
	}
}

// LoggerConfigFrom converts the logging section of the host config.
func LoggerConfigFrom(c config.LoggingConfig) LoggerConfig {
	lc := DefaultLoggerConfig()
	lc.Level = ParseLogLevel(c.Level)
	if c.Format != "" {
		lc.Format = c.Format
	}
	lc.File = c.File
	return lc
}

// ParseLogLevel parses a level name. Unknown names yield info.
func ParseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "warning":
		return zapcore.WarnLevel
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// NewLogger builds a zap logger. The returned function closes the log
// file, if any.
func NewLogger(cfg LoggerConfig) (*zap.Logger, func(), error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}
	closeFile := func() {}
	if cfg.File != "" {
		file, closeFn, err := zap.Open(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.NewMultiWriteSyncer(out, file)
		closeFile = closeFn
	}

	core := zapcore.NewCore(enc, out, cfg.Level)
	return zap.New(core, zap.AddCaller()), closeFile, nil
}
