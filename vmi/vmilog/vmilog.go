// Package vmilog is a thin facade over log/slog so call sites across the
// engine stay terse (Debug/Info/Warn/Error plus With) without threading a
// *slog.Logger through every constructor.
package vmilog

import (
	"io"
	"log/slog"
	"os"
)

// L is the package-wide logger. It discards output until Init is called,
// matching the teacher's "safe by default" logger initialization.
var L *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configures Init.
type Options struct {
	Level  slog.Level // minimum level; default Info
	Writer io.Writer  // default os.Stderr
	JSON   bool       // structured JSON instead of text
}

// Init installs the package-wide logger used by the engine's worker pool,
// rule-check warnings, and resolution diagnostics.
func Init(opts Options) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(w, ho))
	} else {
		L = slog.New(slog.NewTextHandler(w, ho))
	}
}

// With returns a derived logger with the given structured fields attached.
func With(args ...any) *slog.Logger { return L.With(args...) }

func Debug(msg string, args ...any) { L.Debug(msg, args...) }
func Info(msg string, args ...any)  { L.Info(msg, args...) }
func Warn(msg string, args ...any)  { L.Warn(msg, args...) }
func Error(msg string, args ...any) { L.Error(msg, args...) }
