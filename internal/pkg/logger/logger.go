// Package logger provides structured JSON logging with optional PII
// redaction. Entries are written through zap; a rotating file sink can be
// attached with Configure.
package logger

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zapLevels = map[Level]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level. Unknown
// names yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// Options configure the default logger.
type Options struct {
	Level     Level
	RedactPII bool
	// File enables a rotating JSON file sink in addition to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	z         *zap.Logger
	level     zap.AtomicLevel
	redactPII bool
}

var defaultLogger = newLogger(zapcore.AddSync(os.Stderr), INFO, true)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "time",
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeTime:  zapcore.RFC3339TimeEncoder,
		EncodeLevel: zapcore.CapitalLevelEncoder,
	}
}

func newLogger(ws zapcore.WriteSyncer, l Level, redact bool) *Logger {
	level := zap.NewAtomicLevelAt(zapLevels[l])
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, level)
	return &Logger{z: zap.New(core), level: level, redactPII: redact}
}

// Configure replaces the default logger's sinks and settings.
func Configure(opts Options) {
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if opts.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 7),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}))
	}
	l := newLogger(zapcore.NewMultiWriteSyncer(sinks...), opts.Level, opts.RedactPII)

	defaultLogger.mu.Lock()
	defaultLogger.z = l.z
	defaultLogger.level = l.level
	defaultLogger.redactPII = l.redactPII
	defaultLogger.mu.Unlock()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.SetLevel(zapLevels[l]) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	defaultLogger.mu.RLock()
	defer defaultLogger.mu.RUnlock()
	return defaultLogger.z.Sync()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	z, redact := l.z, l.redactPII
	l.mu.RUnlock()

	ce := z.Check(zapLevels[level], msg)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if redact {
			val = redactPIIValue(key, val)
		}
		zf = append(zf, zap.String(key, val))
	}
	ce.Write(zf...)
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
