// Package logger builds the process-wide zap logger used by the systask CLI.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger  *zap.Logger
	once    sync.Once
	initErr error
)

// Config holds logger configuration
type Config struct {
	Level      zapcore.Level
	JSONFormat bool   // JSON instead of the human-readable console encoder
	Filename   string // rotated JSON log file; empty disables file output
	MaxSize    int    // megabytes
	MaxAge     int    // days
	MaxBackups int
	Compress   bool
}

const (
	DefaultMaxSize    = 100 // megabytes
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10
)

// Option configures the logger.
type Option func(*Config)

// WithLevel sets the logging level from its name. Unknown names select info.
func WithLevel(level string) Option {
	return func(c *Config) {
		if err := c.Level.UnmarshalText([]byte(level)); err != nil {
			c.Level = zapcore.InfoLevel
		}
	}
}

// WithJSONFormat switches console output to JSON.
func WithJSONFormat(enabled bool) Option {
	return func(c *Config) { c.JSONFormat = enabled }
}

// WithFile additionally writes JSON entries to filename, rotated by size.
func WithFile(filename string) Option {
	return func(c *Config) { c.Filename = filename }
}

// Init initializes the logger once; later calls return the first result.
func Init(opts ...Option) (*zap.Logger, error) {
	once.Do(func() {
		cfg := &Config{
			Level:      zapcore.InfoLevel,
			MaxSize:    DefaultMaxSize,
			MaxAge:     DefaultMaxAge,
			MaxBackups: DefaultMaxBackups,
			Compress:   true,
		}
		for _, opt := range opts {
			opt(cfg)
		}
		logger, initErr = build(cfg)
	})
	return logger, initErr
}

func build(cfg *Config) (*zap.Logger, error) {
	var consoleEncoder zapcore.Encoder
	if cfg.JSONFormat {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.StacktraceKey = ""
		consoleEncoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), cfg.Level),
	}

	if cfg.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCfg.EncodeCaller = zapcore.ShortCallerEncoder

		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.Filename,
				MaxSize:    cfg.MaxSize,
				MaxAge:     cfg.MaxAge,
				MaxBackups: cfg.MaxBackups,
				Compress:   cfg.Compress,
			}),
			cfg.Level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Get returns the logger, initializing it at info level if needed.
func Get() *zap.Logger {
	l, err := Init()
	if err != nil || l == nil {
		return zap.NewNop()
	}
	return l
}

// Sync flushes any buffered log entries.
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}
