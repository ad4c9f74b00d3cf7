// Package logger is the process-wide zap logger. Every call takes a context
// and attaches the trace, request and submission ids found in it.
package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"codejudge/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration.
type Config struct {
	Level      string `yaml:"level"`      // debug, info, warn, error
	Format     string `yaml:"format"`     // json, console
	OutputPath string `yaml:"outputPath"` // file path or "stdout"
	ErrorPath  string `yaml:"errorPath"`  // internal zap errors: file path or "stderr"
}

var global *zap.Logger

var contextFields = []contextkey.Key{
	contextkey.TraceID,
	contextkey.RequestID,
	contextkey.SubmissionID,
}

// Init builds the global logger from cfg.
func Init(cfg Config) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	global = l
	return nil
}

// NewLogger builds a logger from cfg. An empty level means debug.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level := zapcore.DebugLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	out, err := openSink(cfg.OutputPath, "stdout", os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}
	errOut, err := openSink(cfg.ErrorPath, "stderr", os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open error output: %w", err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), out, level)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(errOut),
	), nil
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    "func",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func openSink(path, stdName string, std *os.File) (zapcore.WriteSyncer, error) {
	if path == "" || path == stdName {
		return zapcore.AddSync(std), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

func forContext(ctx context.Context) *zap.Logger {
	if global == nil {
		return nil
	}
	if ctx == nil {
		return global
	}
	var fields []zap.Field
	for _, k := range contextFields {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			fields = append(fields, zap.String(string(k), v))
		}
	}
	return global.With(fields...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if l := forContext(ctx); l != nil {
		l.Debug(msg, fields...)
	}
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	if l := forContext(ctx); l != nil {
		l.Info(msg, fields...)
	}
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	if l := forContext(ctx); l != nil {
		l.Warn(msg, fields...)
	}
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	if l := forContext(ctx); l != nil {
		l.Error(msg, fields...)
	}
}

// Sync flushes the global logger.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}

// Replace swaps the global logger and returns a func restoring the previous one.
func Replace(l *zap.Logger) func() {
	prev := global
	global = l
	return func() { global = prev }
}
