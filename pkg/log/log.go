// Copyright 2025 Dynatrace LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the logging abstraction used throughout the agent.
// The agent is embedded in application processes, so it never writes to a
// destination the application did not configure: the root logger discards
// everything until Setup is called or the application injects its own
// Logger through the builder.
package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the log level.
type Level zapcore.Level

// The different log levels.
const (
	LevelDebug = Level(zapcore.DebugLevel)
	LevelInfo  = Level(zapcore.InfoLevel)
	LevelWarn  = Level(zapcore.WarnLevel)
	LevelError = Level(zapcore.ErrorLevel)
)

// LevelFromString parses the log level.
func LevelFromString(lvl string) (Level, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelDebug, fmt.Errorf("unknown log level: %s", lvl)
	}
}

// Logger is the interface all agent components log through. Context is
// passed as alternating key/value pairs, the keys must be strings.
type Logger interface {
	// New returns a Logger that has the given context attached to every
	// entry it emits.
	New(ctx ...any) Logger
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	// Enabled reports whether entries at the given level are emitted.
	// Callers use it to avoid building expensive context.
	Enabled(lvl Level) bool
}

type logger struct {
	logger *zap.Logger
}

// New creates a logger with the given context, on top of the process-wide
// zap logger.
func New(ctx ...any) Logger {
	return &logger{logger: zap.L().With(convertCtx(ctx)...)}
}

// NewFromZap wraps an existing zap logger. Applications that already run
// zap hand their logger to the builder this way.
func NewFromZap(l *zap.Logger) Logger {
	return &logger{logger: l}
}

func (l *logger) New(ctx ...any) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...any) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...any) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Warn(msg string, ctx ...any) {
	l.logger.Warn(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...any) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(zapcore.Level(lvl))
}

// WithOptions returns a logger with the given zap options applied.
func (l *logger) WithOptions(opts ...zap.Option) Logger {
	return &logger{logger: l.logger.WithOptions(opts...)}
}

// Root returns the root logger. It never returns nil.
func Root() Logger {
	return &logger{logger: zap.L()}
}

// Discard returns a logger that drops every entry. It is the default for
// agents whose host application configured no logging.
func Discard() Logger {
	return &logger{logger: zap.NewNop()}
}

// Config configures the process-wide logger installed by Setup.
type Config struct {
	// Level is the minimum level to emit. Defaults to info.
	Level string
	// Console switches from JSON to console encoding.
	Console bool
}

// InitDefaults populates unset fields with default values.
func (c *Config) InitDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Setup builds a zap logger according to the config and installs it as the
// process-wide logger that Root and New derive from.
func Setup(cfg Config) error {
	cfg.InitDefaults()
	lvl, err := LevelFromString(cfg.Level)
	if err != nil {
		return err
	}
	zCfg := zap.NewProductionConfig()
	if cfg.Console {
		zCfg = zap.NewDevelopmentConfig()
	}
	zCfg.Level = zap.NewAtomicLevelAt(zapcore.Level(lvl))
	zCfg.DisableStacktrace = true
	l, err := zCfg.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(l)
	return nil
}

// SafeDebug logs at debug level if the logger is non-nil and debug is
// enabled. Components treat a nil Logger as "no logging".
func SafeDebug(l Logger, msg string, ctx ...any) {
	if l != nil && l.Enabled(LevelDebug) {
		if o, ok := l.(*logger); ok {
			o.logger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, convertCtx(ctx)...)
			return
		}
		l.Debug(msg, ctx...)
	}
}

// SafeInfo logs at info level if the logger is non-nil.
func SafeInfo(l Logger, msg string, ctx ...any) {
	if l != nil {
		if o, ok := l.(*logger); ok {
			o.logger.WithOptions(zap.AddCallerSkip(1)).Info(msg, convertCtx(ctx)...)
			return
		}
		l.Info(msg, ctx...)
	}
}

// SafeWarn logs at warn level if the logger is non-nil.
func SafeWarn(l Logger, msg string, ctx ...any) {
	if l != nil {
		if o, ok := l.(*logger); ok {
			o.logger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, convertCtx(ctx)...)
			return
		}
		l.Warn(msg, ctx...)
	}
}

// SafeError logs at error level if the logger is non-nil.
func SafeError(l Logger, msg string, ctx ...any) {
	if l != nil {
		if o, ok := l.(*logger); ok {
			o.logger.WithOptions(zap.AddCallerSkip(1)).Error(msg, convertCtx(ctx)...)
			return
		}
		l.Error(msg, ctx...)
	}
}

func convertCtx(ctx []any) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fields = append(fields, zap.Any(ctx[i].(string), ctx[i+1]))
	}
	return fields
}
