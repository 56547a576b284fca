package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// LogOptions selects where a run's log lines go.
type LogOptions struct {
	Service string
	// Dir receives <service>.<stamp>.log as JSON lines. Empty disables the file.
	Dir   string
	Stamp string
	// Console receives human-readable output. Nil means os.Stderr.
	Console io.Writer
	Verbose bool
}

// NewLogger builds a zerolog logger writing to the console and, when Dir is
// set, to a per-run JSON log file. The returned close func releases the file.
func NewLogger(opts LogOptions) (zerolog.Logger, func() error, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}}
	closeFn := func() error { return nil }

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("telemetry: create log dir: %w", err)
		}
		path := filepath.Join(opts.Dir, LogFileName(opts.Service, opts.Stamp))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("telemetry: open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger()
	return logger, closeFn, nil
}

// LogFileName is <service>.<stamp>.log, or <service>.log without a stamp.
func LogFileName(service, stamp string) string {
	if stamp == "" {
		return service + ".log"
	}
	return service + "." + stamp + ".log"
}
