// Package logging provides structured logging for Graphiti using slog.
//
// Logs are JSON lines written to <state-dir>/logs/graphiti.log, falling
// back to stderr when the file cannot be created. In MCP mode stdout is
// reserved for JSON-RPC frames, so the stderr fallback is also the
// deliberate choice there.
package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevelEnvVar controls the log level. Config [logging].level applies
// when the variable is unset.
const LogLevelEnvVar = "GRAPHITI_LOG_LEVEL"

// LogFileName is the log file created under the state directory's logs/.
const LogFileName = "graphiti.log"

var (
	logger       *slog.Logger
	logFile      *os.File
	logBufWriter *bufio.Writer
	mu           sync.RWMutex

	// logLevelGetter reads the configured level without importing the
	// config package (which logs during load).
	logLevelGetter func() string
)

// SetLogLevelGetter registers a callback used when GRAPHITI_LOG_LEVEL is
// unset. Call before Init.
func SetLogLevelGetter(getter func() string) {
	mu.Lock()
	defer mu.Unlock()
	logLevelGetter = getter
}

// Init initializes the logger, writing JSON logs to
// <stateDir>/logs/graphiti.log. Failure to create the file is not an
// error; logging falls back to stderr.
func Init(stateDir string) {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()

	levelStr := os.Getenv(LogLevelEnvVar)
	if levelStr == "" && logLevelGetter != nil {
		levelStr = logLevelGetter()
	}
	level := parseLogLevel(levelStr)

	logsPath := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(logsPath, 0o750); err != nil {
		logger = newJSONLogger(os.Stderr, level)
		return
	}

	f, err := os.OpenFile(filepath.Join(logsPath, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		logger = newJSONLogger(os.Stderr, level)
		return
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192)
	logger = newJSONLogger(logBufWriter, level)
}

// InitStderr initializes the logger to write to stderr only. Used by the
// MCP server, where stdout must stay clean.
func InitStderr() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	levelStr := os.Getenv(LogLevelEnvVar)
	if levelStr == "" && logLevelGetter != nil {
		levelStr = logLevelGetter()
	}
	logger = newJSONLogger(os.Stderr, parseLogLevel(levelStr))
}

// Close flushes and closes the log file. Safe to call multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func newJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs at DEBUG level with context values automatically extracted.
func Debug(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs at INFO level with context values automatically extracted.
func Info(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs at WARN level with context values automatically extracted.
func Warn(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs at ERROR level with context values automatically extracted.
func Error(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelError, msg, attrs...)
}

// LogDuration logs a message with duration_ms measured from start.
// Designed for use with defer.
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	attrs = append(attrs, slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	log(ctx, level, msg, attrs...)
}

func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := getLogger()
	if component := ComponentFromContext(ctx); component != "" {
		attrs = append(attrs, slog.String("component", component))
	}
	if session := SessionFromContext(ctx); session != "" {
		attrs = append(attrs, slog.String("session_id", session))
	}
	l.Log(ctx, level, msg, attrs...)
}
