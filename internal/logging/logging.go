// Package logging provides Forge's two-tier logging setup: a plain
// timestamped debug log file per project (always on, cheap, meant for
// "what happened" post-mortems) and an optional zap.Logger for
// structured output, built at debug level when configured verbosity
// is "full", discarded when it is "quiet", and at info level otherwise.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger pairs a file-backed debug log with a structured zap.Logger.
// The zero value is safe to use: both Log and the structured methods
// become no-ops.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	zl   *zap.Logger
}

// New creates a Logger writing its debug trace to logPath and its
// structured output through a zap.Logger configured per verbosity
// ("quiet", "normal", or "full"). An empty logPath disables the debug
// file; its parent directories are created as needed.
func New(logPath, verbosity string) (*Logger, error) {
	l := &Logger{zl: buildZap(verbosity)}

	if logPath == "" {
		return l, nil
	}
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l.file = f
	l.Log("=== Forge debug log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// ForProject creates a Logger writing under projectRoot/.forge/logs,
// falling back to a no-op debug file (structured logging still works)
// if the directory cannot be created.
func ForProject(projectRoot, verbosity string) *Logger {
	logPath := filepath.Join(projectRoot, ".forge", "logs", "forge-debug.log")
	l, err := New(logPath, verbosity)
	if err != nil {
		return &Logger{zl: buildZap(verbosity)}
	}
	return l
}

// Nop returns a Logger that discards everything, for tests and
// contexts where logging has not been configured.
func Nop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

func buildZap(verbosity string) *zap.Logger {
	if verbosity == "quiet" {
		return zap.NewNop()
	}

	cfg := zap.NewProductionConfig()
	if verbosity == "full" {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	zl, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return zl
}

// Log appends a timestamped line to the debug log file. A nil
// receiver or one with no open file is a safe no-op.
func (l *Logger) Log(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
	l.file.Sync()
}

// Structured returns the underlying zap.Logger for callers that want
// field-based structured logging. Never nil.
func (l *Logger) Structured() *zap.Logger {
	if l == nil || l.zl == nil {
		return zap.NewNop()
	}
	return l.zl
}

// Info logs a structured info-level message.
func (l *Logger) Info(msg string, fields ...zap.Field) { l.Structured().Info(msg, fields...) }

// Warn logs a structured warn-level message.
func (l *Logger) Warn(msg string, fields ...zap.Field) { l.Structured().Warn(msg, fields...) }

// Error logs a structured error-level message.
func (l *Logger) Error(msg string, fields ...zap.Field) { l.Structured().Error(msg, fields...) }

// Sync flushes the structured logger's buffered output.
func (l *Logger) Sync() error {
	if l == nil || l.zl == nil {
		return nil
	}
	return l.zl.Sync()
}

// Close closes the debug log file. Safe on a nil Logger or one with
// no open file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
