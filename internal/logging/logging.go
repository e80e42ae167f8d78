// Package logging provides the leveled logger used throughout memsister and
// the rotating file sink it writes to.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger writes timestamped, leveled lines to a standard library logger.
type Logger struct {
	l *log.Logger
}

// New returns a Logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{l: log.New(w, "", log.LstdFlags)}
}

// Default returns a Logger writing to stderr.
func Default() *Logger {
	return New(os.Stderr)
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard)
}

// Info logs routine progress.
func (l *Logger) Info(format string, args ...any) {
	l.l.Printf("INFO - "+format, args...)
}

// Warn logs a problem that was worked around.
func (l *Logger) Warn(format string, args ...any) {
	l.l.Printf("WARNING - "+format, args...)
}

// Error logs a failure.
func (l *Logger) Error(format string, args ...any) {
	l.l.Printf("ERROR - "+format, args...)
}

// Std exposes the underlying *log.Logger for libraries that want one.
func (l *Logger) Std() *log.Logger {
	return l.l
}
