// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logger shared by every package in the service.
// The *w variants take alternating key/value pairs.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})

	// With returns a child logger that always carries the given fields.
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type loggerOptions struct {
	name       string
	path       string
	level      string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	console    bool
}

// Option configures NewApplicationLogger.
type Option func(*loggerOptions)

// Name sets the logger name; it is also used as the log file name.
func Name(name string) Option {
	return func(o *loggerOptions) { o.name = name }
}

// Path sets the directory the rotated log file is written to. An empty path
// disables file output.
func Path(path string) Option {
	return func(o *loggerOptions) { o.path = path }
}

// Level sets the minimum level: debug, info, warn, error.
func Level(level string) Option {
	return func(o *loggerOptions) { o.level = level }
}

// Rotation overrides the lumberjack rotation limits.
func Rotation(maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *loggerOptions) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

// Console toggles the stdout core.
func Console(enabled bool) Option {
	return func(o *loggerOptions) { o.console = enabled }
}

type applicationLogger struct {
	*zap.SugaredLogger
}

// NewApplicationLogger builds a zap logger writing JSON to a rotated file
// (when a path is configured) and human readable lines to stdout.
func NewApplicationLogger(opts ...Option) (Logger, error) {
	o := &loggerOptions{
		name:       "viewer",
		level:      "info",
		maxSizeMB:  50,
		maxBackups: 3,
		maxAgeDays: 7,
		console:    true,
	}
	for _, opt := range opts {
		opt(o)
	}

	level, err := zapcore.ParseLevel(strings.ToLower(o.level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", o.level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if o.path != "" {
		if err := os.MkdirAll(o.path, 0o755); err != nil {
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(o.path, o.name+".log"),
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(rotator),
			level,
		))
	}
	if o.console {
		consoleCfg := encoderCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stdout),
			level,
		))
	}
	if len(cores) == 0 {
		return &applicationLogger{zap.NewNop().Sugar()}, nil
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named(o.name)
	return &applicationLogger{base.Sugar()}, nil
}

func (l *applicationLogger) With(keysAndValues ...interface{}) Logger {
	return &applicationLogger{l.SugaredLogger.With(keysAndValues...)}
}
