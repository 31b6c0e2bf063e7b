// Package log assembles the slog handlers used by the winsso command: level
// parsing, secret redaction and size-based file rotation.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Defaults for Options.
const (
	DefaultMaxSize    = 10 << 20
	DefaultMaxBackups = 3
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error. Empty means warn.
	Level string
	// File, when set, receives the log instead of Output.
	File       string
	MaxSize    int64
	MaxBackups int
	// Output defaults to os.Stderr.
	Output io.Writer
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log: unknown level %q", s)
	}
}

// New builds a redacting text logger. The returned closer releases the log
// file, if any, and is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		maxSize, maxBackups := opts.MaxSize, opts.MaxBackups
		if maxSize <= 0 {
			maxSize = DefaultMaxSize
		}
		if maxBackups <= 0 {
			maxBackups = DefaultMaxBackups
		}
		rf, err := NewRotatingFile(opts.File, maxSize, maxBackups)
		if err != nil {
			return nil, nil, err
		}
		out, closer = rf, rf
	}

	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(h)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
