package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

func parseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
}

// newLogger logs to the console, or to a rotating JSON file in dir.
// The returned closer releases the file.
func newLogger(level, dir string, console io.Writer) (*slog.Logger, io.Closer, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	if dir == "" {
		h := tint.NewHandler(console, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})
		return slog.New(h), nopCloser{}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "telemetry.slog"),
		MaxSize:    32, // MB
		MaxBackups: 3,
		MaxAge:     14,
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h), w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
