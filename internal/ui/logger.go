package ui

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Logger writes leveled, colored console messages
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool

	info    *color.Color
	success *color.Color
	warn    *color.Color
	err     *color.Color
	trace   *color.Color
}

// NewLogger creates a Logger writing to out
func NewLogger(out io.Writer, debug bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		out:     out,
		debug:   debug,
		info:    color.New(color.FgWhite),
		success: color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		err:     color.New(color.FgRed),
		trace:   color.New(color.FgCyan, color.Faint),
	}
}

// Discard returns a Logger that drops everything
func Discard() *Logger {
	return NewLogger(io.Discard, false)
}

// SetDebug toggles debug output
func (l *Logger) SetDebug(debug bool) {
	l.mu.Lock()
	l.debug = debug
	l.mu.Unlock()
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.print(l.info, "", format, args...)
}

func (l *Logger) Success(format string, args ...interface{}) {
	l.print(l.success, "", format, args...)
}

// Warn prints a WARNING: line
func (l *Logger) Warn(format string, args ...interface{}) {
	l.print(l.warn, "WARNING: ", format, args...)
}

// Error prints an ERROR: line
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(l.err, "ERROR: ", format, args...)
}

// Debug prints only when debug output is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	l.mu.Lock()
	enabled := l.debug
	l.mu.Unlock()
	if enabled {
		l.print(l.trace, "DEBUG: ", format, args...)
	}
}

func (l *Logger) print(c *color.Color, prefix, format string, args ...interface{}) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c.Fprintf(l.out, prefix+format, args...)
}
