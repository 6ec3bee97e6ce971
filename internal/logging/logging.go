// Package logging builds the zap logger from the logging section of the config.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"taskboard/internal/config"
)

const RequestIDKey = "request_id"

// New returns a logger writing to the configured output. The returned close func
// flushes buffered entries and releases the log file, if any.
func New(cfg config.LoggingConfig) (*zap.Logger, func() error, error) {
	ws, closer, err := buildWriteSyncer(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build log output: %w", err)
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	core := zapcore.NewCore(buildEncoder(cfg.Format), ws, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, func() error {
		_ = logger.Sync()
		if closer != nil {
			return closer.Close()
		}
		return nil
	}, nil
}

// NewWriter returns a logger that writes JSON lines to w. Used by tests and the CLI.
func NewWriter(w io.Writer, level zapcore.Level) *zap.Logger {
	return zap.New(zapcore.NewCore(buildEncoder("json"), zapcore.AddSync(w), level))
}

func buildEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if strings.EqualFold(format, "json") {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func buildWriteSyncer(cfg config.LoggingConfig) (zapcore.WriteSyncer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr", "":
		return zapcore.AddSync(os.Stderr), nil, nil
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil, nil
	case "file":
		if cfg.File.Path == "" {
			return nil, nil, fmt.Errorf("logging.file.path is required when output is 'file'")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		lumber := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
			LocalTime:  true,
		}
		return zapcore.AddSync(lumber), lumber, nil
	default:
		return nil, nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return l, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

type ctxKey struct{}

// WithContext stores logger in ctx.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request-scoped logger, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
