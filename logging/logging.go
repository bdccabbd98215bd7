// Package logging builds the zerolog loggers used for diagnostics. The
// conversation itself is never logged here; this is the operator-invisible
// channel where skipped agent turns and protocol traces end up.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/frend/errors"
	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing to w at the given level. An
// unknown level falls back to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Open returns a logger appending to the file at path, creating parent
// directories as needed. An empty path logs to stderr. The returned closer
// must be called when the logger is no longer used.
func Open(path, level string) (zerolog.Logger, io.Closer, error) {
	if path == "" {
		return New(os.Stderr, level), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return zerolog.Nop(), nil, errors.Wrapf(err, "could not create log directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), nil, errors.Wrapf(err, "could not open log file %s", path)
	}
	return New(f, level), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
