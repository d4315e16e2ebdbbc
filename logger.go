package tangguh

import (
	"log"
	"log/slog"
)

// Logger is the minimal structured logging surface the library emits to.
// Key-value pairs follow the message, slog-style.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes leveled lines via the standard log package.
type SimpleLogger struct{}

// NewSimpleLogger returns a console logger.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...any) {
	log.Println(append([]any{"DEBUG", msg}, keysAndValues...)...)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...any) {
	log.Println(append([]any{"INFO", msg}, keysAndValues...)...)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...any) {
	log.Println(append([]any{"WARN", msg}, keysAndValues...)...)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...any) {
	log.Println(append([]any{"ERROR", msg}, keysAndValues...)...)
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps an slog logger (slog.Default when nil).
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}
