// Package monitoring configures process-wide structured logging from the
// inherited logger command-line options.
package monitoring

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Options mirrors the logger flags shared by all bridge binaries.
type Options struct {
	// Quiet raises the threshold to warnings only.
	Quiet bool

	// Verbose and Debug both lower the threshold to debug output;
	// Verbose exists for symmetry with the historical flag set.
	Verbose bool
	Debug   bool

	// LogFile, when set, sends output to the named file instead of
	// stderr.
	LogFile string
}

// Level resolves the flag combination to a slog level. Debug wins over
// quiet so a misordered flag pair still produces diagnostics.
func (o Options) Level() slog.Level {
	switch {
	case o.Debug || o.Verbose:
		return slog.LevelDebug
	case o.Quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Setup installs the process-wide default logger. The returned close
// function releases the log file, if any.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	var w io.Writer = os.Stderr
	closer := func() error { return nil }

	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
		closer = f.Close
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level()}))
	slog.SetDefault(logger)
	return logger, closer, nil
}
