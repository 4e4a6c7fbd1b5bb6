// Package logging configures the process-wide slog logger and carries
// request-scoped fields through context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config string to a slog level. Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(&FieldsHandler{Handler: handler})
}

// Setup installs New(w, level, format) as the slog default.
func Setup(w io.Writer, level, format string) *slog.Logger {
	l := New(w, level, format)
	slog.SetDefault(l)
	return l
}

type contextKey string

const fieldsKey contextKey = "log_fields"

// Fields are added to every record logged with a context that carries them.
type Fields struct {
	RequestID string
	UserID    string
	BugID     string
}

// WithFields merges f into ctx. Non-empty values in f win.
func WithFields(ctx context.Context, f Fields) context.Context {
	merged := FieldsFrom(ctx)
	if f.RequestID != "" {
		merged.RequestID = f.RequestID
	}
	if f.UserID != "" {
		merged.UserID = f.UserID
	}
	if f.BugID != "" {
		merged.BugID = f.BugID
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

// FieldsFrom returns the fields stored in ctx, or zero Fields.
func FieldsFrom(ctx context.Context) Fields {
	if f, ok := ctx.Value(fieldsKey).(Fields); ok {
		return f
	}
	return Fields{}
}

// FieldsHandler enriches records with the Fields found in their context.
type FieldsHandler struct {
	slog.Handler
}

func (h *FieldsHandler) Handle(ctx context.Context, r slog.Record) error {
	f := FieldsFrom(ctx)
	if f.RequestID != "" {
		r.AddAttrs(slog.String("request_id", f.RequestID))
	}
	if f.UserID != "" {
		r.AddAttrs(slog.String("user_id", f.UserID))
	}
	if f.BugID != "" {
		r.AddAttrs(slog.String("bug_id", f.BugID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *FieldsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &FieldsHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *FieldsHandler) WithGroup(name string) slog.Handler {
	return &FieldsHandler{Handler: h.Handler.WithGroup(name)}
}
