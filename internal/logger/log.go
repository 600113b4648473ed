package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"smart-progress/internal/config"

	"gopkg.in/lumberjack.v2"
)

const serviceName = "smart-progress"

// Init installs the process-wide logger. Every record carries service=smart-progress
// so lines from the daemon and progressctl can share one rotated file.
func Init(cfg config.LogConfig) {
	slog.SetDefault(slog.New(newHandler(outputs(cfg), cfg)))
	Info("logger initialized", "level", cfg.Level, "format", cfg.Format, "file", cfg.File)
}

func outputs(cfg config.LogConfig) io.Writer {
	var ws []io.Writer
	if cfg.Console {
		ws = append(ws, os.Stdout)
	}
	if cfg.File != "" {
		ws = append(ws, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
		})
	}
	switch len(ws) {
	case 0:
		// Nothing configured; stdout stays reserved for CLI output.
		return os.Stderr
	case 1:
		return ws[0]
	}
	return io.MultiWriter(ws...)
}

func newHandler(w io.Writer, cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return h.WithAttrs([]slog.Attr{slog.String("service", serviceName)})
}

func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }
func Debug(msg string, args ...any) { slog.Debug(msg, args...) }

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
