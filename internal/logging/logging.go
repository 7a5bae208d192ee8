// Package logging configures the process-wide slog logger. Component
// loggers returned by L are usually package-level variables, so they are
// created before the configuration is read; they write through a shared
// root that Init swaps.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyDevice     = "device"
	KeyKind       = "kind"
	KeyHRESULT    = "hresult"
	KeyChannels   = "channels"
	KeySampleRate = "sampleRate"
	KeyClientID   = "clientId"
	KeyError      = "error"
)

type contextKey struct{}

// root holds the handler installed by Init.
type root struct {
	handler atomic.Pointer[slog.Handler]
}

func (r *root) load() slog.Handler {
	return *r.handler.Load()
}

func (r *root) store(h slog.Handler) {
	r.handler.Store(&h)
}

// step is one WithAttrs or WithGroup call, replayed on the current root
// handler each time a record is handled.
type step struct {
	group string
	attrs []slog.Attr
}

// deferredHandler resolves against root on every call instead of binding
// to the handler that existed when the logger was built.
type deferredHandler struct {
	root  *root
	steps []step
}

func (h *deferredHandler) resolve() slog.Handler {
	handler := h.root.load()
	for _, s := range h.steps {
		if s.group != "" {
			handler = handler.WithGroup(s.group)
		} else {
			handler = handler.WithAttrs(s.attrs)
		}
	}
	return handler
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *deferredHandler) with(s step) *deferredHandler {
	steps := make([]step, len(h.steps), len(h.steps)+1)
	copy(steps, h.steps)
	return &deferredHandler{root: h.root, steps: append(steps, s)}
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(step{attrs: append([]slog.Attr(nil), attrs...)})
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(step{group: name})
}

var (
	level = new(slog.LevelVar)
	base  = &root{}

	// Stderr is the default destination: stdout carries PCM when the
	// capture command writes to "-".
	defaultLogger = slog.New(&deferredHandler{root: base})
)

func init() {
	base.store(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(defaultLogger)
}

// Init installs the configured handler for every logger, including those
// created earlier by L.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: nil means os.Stderr
func Init(format, lvl string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	level.Set(ParseLevel(lvl))

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		base.store(slog.NewJSONHandler(output, opts))
	} else {
		base.store(slog.NewTextHandler(output, opts))
	}
}

// SetLevel changes the minimum level without replacing the handler.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
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
	return defaultLogger
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
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
