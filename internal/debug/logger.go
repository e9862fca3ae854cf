// Package debug provides debug logging functionality using log/slog
package debug

import (
	"log/slog"
	"os"
	"sync"

	"github.com/fatih/color"
)

var (
	// logger is the global debug logger instance
	logger *slog.Logger
	// enabled indicates if debug logging is enabled
	enabled bool
	// colors indicates if warn/error output is colorized
	colors bool
	// mu protects the logger and flags
	mu sync.RWMutex
)

func init() {
	Init(false, false)
}

// Init initializes the debug logger
// If enable is true, debug logs will be written to os.Stderr
// If enable is false, debug logs will be silently discarded
func Init(enable, enableColors bool) {
	mu.Lock()
	defer mu.Unlock()

	enabled = enable
	colors = enableColors

	level := slog.LevelDebug
	if !enable {
		// a level higher than any actual level discards everything
		level = slog.LevelError + 1
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
}

// Enabled returns whether debug logging is enabled
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Info(msg, args...)
}

// Warn logs a warning message, colorized when enabled
func Warn(msg string, args ...any) {
	mu.RLock()
	l := logger
	c := colors
	mu.RUnlock()
	if c {
		msg = color.YellowString(msg)
	}
	l.Warn(msg, args...)
}

// Error logs an error message, colorized when enabled
func Error(msg string, args ...any) {
	mu.RLock()
	l := logger
	c := colors
	mu.RUnlock()
	if c {
		msg = color.RedString(msg)
	}
	l.Error(msg, args...)
}

// deprecated tracks warnings already emitted, once per pair
var deprecated sync.Map

// Deprecate logs a deprecation warning the first time it is seen
func Deprecate(old, replacement string) {
	key := old + "\x00" + replacement
	if _, seen := deprecated.LoadOrStore(key, true); seen {
		return
	}
	Warn("deprecated", "use", replacement, "instead-of", old)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	return l.With(args...)
}

// Logger returns the underlying slog.Logger instance
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
