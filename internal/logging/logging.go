package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Structured log field keys shared across packages.
const (
	KeyComponent  = "component"
	KeyServer     = "server"
	KeyUpdateID   = "updateId"
	KeyTitle      = "title"
	KeyRule       = "rule"
	KeyStep       = "step"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// active holds the handler every component logger delegates to. Package-level
// loggers are built at init time, before flags are parsed, so they resolve the
// handler on each record instead of capturing it.
var active atomic.Pointer[slog.Handler]

func init() {
	setHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(slog.New(deferredHandler{}))
}

func setHandler(h slog.Handler) {
	active.Store(&h)
}

// deferredHandler replays its attrs and groups onto the active handler.
type deferredHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (d deferredHandler) resolve() slog.Handler {
	h := *active.Load()
	for _, op := range d.ops {
		h = op(h)
	}
	return h
}

func (d deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.resolve().Enabled(ctx, level)
}

func (d deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return d.resolve().Handle(ctx, record)
}

func (d deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (d deferredHandler) WithGroup(name string) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (d deferredHandler) with(op func(slog.Handler) slog.Handler) deferredHandler {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(d.ops)+1)
	ops = append(ops, d.ops...)
	ops = append(ops, op)
	return deferredHandler{ops: ops}
}

// Init installs the process-wide handler. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	setHandler(handler)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return slog.New(deferredHandler{}).With(slog.String(KeyComponent, component))
}

// WithUpdate returns a child logger carrying the update's identity.
func WithUpdate(logger *slog.Logger, id, title string) *slog.Logger {
	return logger.With(
		slog.String(KeyUpdateID, id),
		slog.String(KeyTitle, title),
	)
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
