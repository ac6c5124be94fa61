package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values fall back to info.
	Level       string
	ServiceName string
	Development bool
}

// Logger wraps zap.Logger with the message-first API used across services
type Logger struct {
	z *zap.Logger
}

var (
	global   *Logger
	globalMu sync.RWMutex
)

// Init builds the process-wide logger
func Init(cfg *Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}

	globalMu.Lock()
	global = l
	globalMu.Unlock()
	return nil
}

// New builds a logger without touching the process-wide instance
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{Level: "info"}
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level, cfg.Development))

	z, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName != "" {
		z = z.With(zap.String("service", cfg.ServiceName))
	}

	return &Logger{z: z}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Get returns the process-wide logger, or a no-op logger before Init
func Get() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global == nil {
		return NewNop()
	}
	return global
}

// Sync flushes buffered entries
func Sync() {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global != nil {
		_ = global.z.Sync()
	}
}

func parseLevel(level string, development bool) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "info":
		return zapcore.InfoLevel
	}
	if development {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// With returns a child logger carrying the given fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.z
}
