// Package logging provides the engine's leveled, namespaced diagnostic
// output. Two namespaces exist: System (always live) and Element
// (live only for bindings carrying the debug attribute). Both are thin
// wrappers over a shared *zap.Logger so log shape stays consistent;
// a process-wide kill switch swaps the active core for a no-op core,
// matching the "global kill switch suppresses all output" requirement
// without every call site paying more than an atomic load.
package logging

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the four levels the spec requires, in monotonic order.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

var (
	liveCore atomic.Pointer[zap.Logger]
	muted    atomic.Bool
)

func init() {
	liveCore.Store(buildLogger())
}

func buildLogger() *zap.Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.LowercaseColorLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), zapcore.DebugLevel),
	}

	if path := os.Getenv("HTMLEX_LOG_FILE"); path != "" {
		fileEncoderCfg := zap.NewProductionEncoderConfig()
		fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		writer := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     7,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), zapcore.AddSync(writer), zapcore.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}

// Mute silences all output from both namespaces until Unmute is called.
func Mute() { muted.Store(true) }

// Unmute restores output.
func Unmute() { muted.Store(false) }

func current() *zap.Logger {
	if muted.Load() {
		return zap.NewNop()
	}
	return liveCore.Load()
}

// Logger is a namespaced, leveled sink.
type Logger struct {
	sugar *zap.SugaredLogger
}

// System returns the always-on, global-scope logger.
func System() *Logger {
	return &Logger{sugar: current().Named("system").Sugar()}
}

// Element returns a logger scoped to one element. If debug is false
// (the element does not carry the debug attribute) every call is a
// no-op, matching the spec's "only emits when the element carries the
// attribute debug" rule.
func Element(id string, debug bool) *Logger {
	if !debug {
		return &Logger{sugar: zap.NewNop().Sugar()}
	}
	return &Logger{sugar: current().Named("element." + id).Sugar()}
}

// sink returns l's sugared logger, or a no-op one while Mute is in effect.
func (l *Logger) sink() *zap.SugaredLogger {
	if muted.Load() {
		return zap.NewNop().Sugar()
	}
	return l.sugar
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.sink().Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.sink().Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.sink().Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.sink().Errorf(format, args...) }

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() {
	_ = current().Sync()
}
