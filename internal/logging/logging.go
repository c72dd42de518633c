// Package logging builds the slog logger used by the CLI: a dated,
// append-only log file in the working directory, optionally mirrored to
// stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName returns the log file name for day t, e.g. CWAPI.20261019.log.
func FileName(t time.Time) string {
	return "CWAPI." + t.Format("20060102") + ".log"
}

// ParseLevel maps a config level name to a slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
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

// Options configures New.
type Options struct {
	Level  string
	Dir    string // empty = working directory
	Stderr bool
	Now    func() time.Time
}

// New opens (or creates) today's log file in append mode and returns a
// text logger writing to it. The returned closer closes the file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve log directory: %w", err)
		}
		dir = wd
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(dir, FileName(opts.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	var w io.Writer = f
	if opts.Stderr {
		w = io.MultiWriter(f, os.Stderr)
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)}))
	return logger, f, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
