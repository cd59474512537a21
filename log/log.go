package log

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

type Config struct {
	Level    string // debug | info | warn | error, default info
	Encoding string // json | console, default json

	// File enables rotation through lumberjack. Empty means stderr only.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init replaces the package logger. Safe to call more than once.
func Init(cfg Config) error {
	lvl, err := zapcore.ParseLevel(defaultString(cfg.Level, string(InfoLevel)))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(defaultString(cfg.Encoding, "json")) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return errors.Errorf("invalid log encoding %q", cfg.Encoding)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    defaultInt(cfg.MaxSizeMB, 50),
			MaxBackups: defaultInt(cfg.MaxBackups, 5),
			MaxAge:     defaultInt(cfg.MaxAgeDays, 30),
			Compress:   cfg.Compress,
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rotating))
	}

	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(lvl))
	SetLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)))
	return nil
}

// SetLogger installs l as the package logger; tests use it with zaptest/observer.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l.Sugar()
}

func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Sync()
}

func Debug(msg string, keysAndValues ...interface{}) { Log(DebugLevel, msg, keysAndValues...) }
func Info(msg string, keysAndValues ...interface{})  { Log(InfoLevel, msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...interface{})  { Log(WarnLevel, msg, keysAndValues...) }
func Error(msg string, keysAndValues ...interface{}) { Log(ErrorLevel, msg, keysAndValues...) }

// Log writes msg at level. Unknown levels are logged at info.
func Log(level Level, msg string, keysAndValues ...interface{}) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	switch level {
	case DebugLevel:
		l.Debugw(msg, keysAndValues...)
	case WarnLevel:
		l.Warnw(msg, keysAndValues...)
	case ErrorLevel:
		l.Errorw(msg, keysAndValues...)
	default:
		l.Infow(msg, keysAndValues...)
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
