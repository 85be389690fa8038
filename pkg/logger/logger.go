// Package logger owns the process-wide zap logger. Components take children
// via Get().With(...) so every line carries its component field.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Config controls the global logger. Zero values fall back to the
// NODEWARDEN_LOG_LEVEL and NODEWARDEN_LOG_FORMAT environment variables, then
// to info-level JSON.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// Init replaces the global logger. Call it once, early; components that
// fetched children before Init keep their old parent.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	global = l
	mu.Unlock()
	return nil
}

// Get returns the global logger, building an environment-configured one on
// first use.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		l, err := build(Config{})
		if err != nil {
			l = zap.Must(zap.NewProduction())
		}
		global = l
	}
	return global
}

// Sync flushes buffered entries. Callers defer it in main.
func Sync() error {
	mu.Lock()
	l := global
	mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}

func build(cfg Config) (*zap.Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = os.Getenv("NODEWARDEN_LOG_LEVEL")
	}
	if levelName == "" {
		levelName = "info"
	}
	level, err := zapcore.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		return nil, err
	}

	format := cfg.Format
	if format == "" {
		format = os.Getenv("NODEWARDEN_LOG_FORMAT")
	}

	var zapCfg zap.Config
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
