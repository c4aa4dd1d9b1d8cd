// Package logging offers an optional colorized slog.Handler for CLI
// callers. The library itself (internal/store, internal/applier,
// internal/sync, internal/retry) takes a plain
// *log.Logger field, exactly like the teacher's Ingester.Logger; nothing
// in the core requires structured logging. Grounded on maruel-mddb's
// cmd/mddb/main.go, which wraps github.com/lmittmann/tint the same way.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Options configures NewLogger. A zero Options is a reasonable default:
// info level, timestamps on, color on.
type Options struct {
	Level      slog.Level
	NoColor    bool
	TimeFormat string
	Writer     io.Writer
}

// NewLogger builds a *slog.Logger backed by a tint.Handler, for CLI
// entry points that want readable, colorized output. Library code never
// imports this package directly; it only ever sees the plain *log.Logger
// NewStdLogger derives from it.
func NewLogger(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	format := opts.TimeFormat
	if format == "" {
		format = "15:04:05.000"
	}
	h := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		TimeFormat: format,
		NoColor:    opts.NoColor,
	})
	return slog.New(h)
}

// NewStdLogger adapts a *slog.Logger into the plain *log.Logger the
// library's collaborators (Store, Applier, Facade, Controller)
// accept, tagging every line with prefix.
func NewStdLogger(logger *slog.Logger, prefix string) *log.Logger {
	l := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	l.SetPrefix(prefix)
	return l
}
