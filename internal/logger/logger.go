// Package logger wraps log/slog with rotating file output, exposed through
// the teacher's Debug/Info/Warn/Error(format, v...) call shape so call sites
// didn't have to switch to slog's attribute style.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger forwards printf-style calls to an underlying *slog.Logger.
type Logger struct {
	slog *slog.Logger
}

// Config controls rotation and destination.
type Config struct {
	Path          string
	Level         string
	IncludeStdout bool
	MaxSizeMB     int
	MaxBackups    int
}

// New builds a Logger writing JSON records to a rotating file (and
// optionally stdout), at the given level.
func New(cfg Config) (*Logger, error) {
	var writer io.Writer = &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     28,
		Compress:   true,
	}

	if cfg.IncludeStdout {
		writer = io.MultiWriter(os.Stdout, writer)
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	return &Logger{slog: slog.New(handler)}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) Debug(format string, v ...interface{}) { l.slog.Debug(fmt.Sprintf(format, v...)) }
func (l *Logger) Info(format string, v ...interface{})  { l.slog.Info(fmt.Sprintf(format, v...)) }
func (l *Logger) Warn(format string, v ...interface{})  { l.slog.Warn(fmt.Sprintf(format, v...)) }
func (l *Logger) Error(format string, v ...interface{}) { l.slog.Error(fmt.Sprintf(format, v...)) }

// Write satisfies io.Writer so stdlib packages that only know how to log to
// a writer (e.g. the net/http server log) can be routed through here too.
func (l *Logger) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
