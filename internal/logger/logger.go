// Package logger is the bridge's structured logger: zap underneath, with
// alternating key/value arguments at call sites.
package logger

import (
	"errors"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with key/value helpers. Children created by
// Named and With share the level of their parent.
type Logger struct {
	*zap.Logger
	level *zap.AtomicLevel
}

// LogConfig contains logging configuration. Format is "json" or "text";
// Output is "stdout", "stderr" or a file path.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

const redacted = "[REDACTED]"

// sensitiveKeys never reach the log sink with their value
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"auth_token":    {},
	"access_token":  {},
	"api_key":       {},
	"authorization": {},
	"web_login":     {},
}

// New creates a logger from configuration. An unknown level falls back
// to info.
func New(cfg LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewDevelopmentConfig()
	zcfg.Encoding = "console"
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
		zcfg.Encoding = "json"
	}
	atom := zap.NewAtomicLevelAt(level)
	zcfg.Level = atom
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	switch cfg.Output {
	case "", "stdout":
	default:
		zcfg.OutputPaths = []string{cfg.Output}
		zcfg.ErrorOutputPaths = []string{cfg.Output}
	}

	z, err := zcfg.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: z, level: &atom}, nil
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Sync flushes buffered entries; errors from terminal sinks are ignored
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// Named returns a child logger scoped to a component
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component), level: l.level}
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(toZap(fields)...), level: l.level}
}

// SetLevel changes the level of this logger and every logger derived
// from the same root
func (l *Logger) SetLevel(level string) error {
	if l.level == nil {
		return errors.New("logger level is fixed")
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.Logger.Info(msg, toZap(fields)...)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.Logger.Error(msg, toZap(fields)...)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.Logger.Warn(msg, toZap(fields)...)
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.Logger.Debug(msg, toZap(fields)...)
}

// toZap turns alternating key/value pairs into zap fields. Pairs with a
// non-string key and a trailing odd value are dropped, errors render as
// strings and sensitive keys are masked.
func toZap(kv []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if isSensitive(key) {
			out = append(out, zap.String(key, redacted))
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			out = append(out, zap.NamedError(key, v))
		default:
			out = append(out, zap.Any(key, v))
		}
	}
	return out
}

func isSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}
