// Package logger provides component-tagged structured logging on top of zap.
//
// Every call names the component that produced it ("setup", "reconcile",
// "discord", ...) so log lines can be filtered per subsystem.
package logger

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newLogger(zapcore.AddSync(os.Stderr))
)

func newLogger(ws zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, level)
	return zap.New(core)
}

// SetLevel changes the minimum level emitted by every component.
func SetLevel(l LogLevel) {
	level.SetLevel(toZap(l))
}

// GetLevel returns the current minimum level.
func GetLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return INFO
	}
}

// SetOutput redirects log output. Used by tests to capture lines.
func SetOutput(ws zapcore.WriteSyncer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(ws)
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func toZap(l LogLevel) zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func log(l LogLevel, component, msg string, fields map[string]any) {
	mu.RLock()
	lg := base
	mu.RUnlock()

	ce := lg.Check(toZap(l), msg)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("component", component))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			zf = append(zf, zap.NamedError(k, err))
			continue
		}
		zf = append(zf, zap.Any(k, fields[k]))
	}
	ce.Write(zf...)
}

func DebugC(component, msg string) { log(DEBUG, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]any) { log(DEBUG, component, msg, fields) }

func InfoC(component, msg string) { log(INFO, component, msg, nil) }

func InfoCF(component, msg string, fields map[string]any) { log(INFO, component, msg, fields) }

func WarnC(component, msg string) { log(WARN, component, msg, nil) }

func WarnCF(component, msg string, fields map[string]any) { log(WARN, component, msg, fields) }

func ErrorC(component, msg string) { log(ERROR, component, msg, nil) }

func ErrorCF(component, msg string, fields map[string]any) { log(ERROR, component, msg, fields) }
