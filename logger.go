package forgeauth

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging interface used for debug output.
// Keys and values alternate in keysAndValues.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DebugConfig selects which lifecycle events are logged. Logging is off unless
// both a Logger is configured and Enabled is true.
type DebugConfig struct {
	Enabled     bool
	LogRequests bool
	LogRetries  bool
	LogCircuit  bool
	LogTokens   bool
}

// DefaultDebugConfig enables all event categories (but not Enabled itself).
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogRequests: true,
		LogRetries:  true,
		LogCircuit:  true,
		LogTokens:   true,
	}
}

func (d *DebugConfig) on(l Logger) bool {
	return d != nil && d.Enabled && l != nil
}

// SimpleLogger writes human-readable lines to stderr.
type SimpleLogger struct{}

// NewSimpleLogger returns a console logger suitable for development.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{}
}

func (l *SimpleLogger) log(level, msg string, keysAndValues ...interface{}) {
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format(time.RFC3339), level, msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	fmt.Fprintln(os.Stderr, line)
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log("DEBUG", msg, keysAndValues...)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log("INFO", msg, keysAndValues...)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log("WARN", msg, keysAndValues...)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log("ERROR", msg, keysAndValues...)
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps the given zerolog.Logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func (l *ZerologLogger) emit(ev *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ev = ev.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Debug(), msg, keysAndValues...)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Info(), msg, keysAndValues...)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Warn(), msg, keysAndValues...)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Error(), msg, keysAndValues...)
}
