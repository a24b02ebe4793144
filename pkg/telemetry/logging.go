// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// level backs the logger installed by ConfigureSlog so that config reloads
// can change verbosity in place.
var level = new(slog.LevelVar)

// ConfigureSlog installs a trace-aware default logger writing to w. Format is
// "json" or "text".
func ConfigureSlog(w io.Writer, lvl, format string) *slog.Logger {
	level.Set(ParseLevel(lvl))
	logger := slog.New(newHandler(w, level, format))
	slog.SetDefault(logger)
	return logger
}

// SetLogLevel changes the level of the logger installed by ConfigureSlog.
func SetLogLevel(lvl string) { level.Set(ParseLevel(lvl)) }

// NewLogger builds a trace-aware logger without replacing the default.
func NewLogger(w io.Writer, lvl, format string) *slog.Logger {
	return slog.New(newHandler(w, ParseLevel(lvl), format))
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}

// ParseLevel maps a config level name to a slog level. Unknown names are
// treated as info.
func ParseLevel(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func newHandler(w io.Writer, lvl slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return spanHandler{slog.NewJSONHandler(w, opts)}
	}
	return spanHandler{slog.NewTextHandler(w, opts)}
}

// spanHandler stamps records logged under an active span with its ids.
type spanHandler struct {
	slog.Handler
}

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && !hasAttr(r, "trace_id") {
			r.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{h.Handler.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{h.Handler.WithGroup(name)}
}

func hasAttr(r slog.Record, key string) bool {
	found := false
	r.Attrs(func(a slog.Attr) bool {
		found = a.Key == key
		return !found
	})
	return found
}
