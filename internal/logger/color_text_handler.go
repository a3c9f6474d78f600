package logger

import (
	"context"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

// levelTints maps slog levels to the ANSI tint for the level tag.
var levelTints = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // cyan
	slog.LevelInfo:  "\033[32m", // green
	slog.LevelWarn:  "\033[33m", // yellow
	slog.LevelError: "\033[31m", // red
}

// ColorTextHandler wraps slog.TextHandler to prefix each record with an
// ANSI-tinted level tag and, when the record names a fleet role, the role
// itself, so daemon and worker lines stand apart on an operator console.
type ColorTextHandler struct {
	*slog.TextHandler
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	tint, ok := levelTints[r.Level]
	if !ok {
		tint = ansiReset
	}
	prefix := tint + r.Level.String() + ansiReset

	var role string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "role" {
			role = a.Value.String()
			return false
		}
		return true
	})
	if role != "" {
		prefix += " [" + role + "]"
	}

	r.Message = prefix + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
