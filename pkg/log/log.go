// Package log is the structured logger of the lab runtime. Every component
// receives a Logger at construction; the package-level functions write to
// the logger installed by Init.
package log

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Keys shared by every log line that concerns one instrument.
const (
	KeyDevice = "device"
	KeyKind   = "kind"
)

// Logger takes a message and loose key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	// Error logs at error level with err attached under "error"; err may be nil.
	Error(err error, msg string, keysAndValues ...any)

	// WithName appends a dot-separated segment to the logger name.
	WithName(name string) Logger
	WithValues(keysAndValues ...any) Logger

	Sync() error
}

// ForDevice scopes l to one instrument. kind may be empty.
func ForDevice(l Logger, id, kind string) Logger {
	if kind == "" {
		return l.WithValues(KeyDevice, id)
	}
	return l.WithValues(KeyDevice, id, KeyKind, kind)
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	z *zap.Logger
}

// NewLogger builds a zap logger from opts. Unknown levels fall back to info.
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}

	cfg := zap.Config{
		DisableCaller:    opts.DisableCaller,
		Level:            zap.NewAtomicLevelAt(parseLevel(opts.Level)),
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig(opts),
		OutputPaths:      paths,
		ErrorOutputPaths: []string{"stderr"},
	}

	z, err := cfg.Build(zap.AddCallerSkip(opts.CallerSkip), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		panic(fmt.Sprintf("log: build zap logger: %v", err))
	}
	if opts.Name != "" {
		z = z.Named(opts.Name)
	}
	return &zapLogger{z: z}
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// encoderConfig writes durations as fractional milliseconds, which keeps
// poll and task latencies comparable across log lines.
func encoderConfig(opts *Options) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: millis,
	}
	if opts.Format == "console" && opts.EnableColor {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

func millis(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendFloat64(float64(d) / float64(time.Millisecond))
}

func (l *zapLogger) Debug(msg string, kv ...any) { l.z.Debug(msg, toFields(kv...)...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.z.Info(msg, toFields(kv...)...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.z.Warn(msg, toFields(kv...)...) }

func (l *zapLogger) Error(err error, msg string, kv ...any) {
	fields := toFields(kv...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

func (l *zapLogger) WithName(name string) Logger { return &zapLogger{z: l.z.Named(name)} }

func (l *zapLogger) WithValues(kv ...any) Logger {
	return &zapLogger{z: l.z.With(toFields(kv...)...)}
}

func (l *zapLogger) Sync() error { return l.z.Sync() }

var (
	initOnce sync.Once
	std      = NewNopLogger()
)

// Init installs the process logger. Later calls are ignored.
func Init(opts *Options) {
	initOnce.Do(func() { std = NewLogger(opts) })
}

// Std returns the process logger; a no-op logger until Init runs.
func Std() Logger { return std }

func NewNopLogger() Logger { return &zapLogger{z: zap.NewNop()} }

func Debug(msg string, kv ...any)            { std.Debug(msg, kv...) }
func Info(msg string, kv ...any)             { std.Info(msg, kv...) }
func Warn(msg string, kv ...any)             { std.Warn(msg, kv...) }
func Error(err error, msg string, kv ...any) { std.Error(err, msg, kv...) }
func WithName(name string) Logger            { return std.WithName(name) }
func WithValues(kv ...any) Logger            { return std.WithValues(kv...) }
func Sync() error                            { return std.Sync() }
