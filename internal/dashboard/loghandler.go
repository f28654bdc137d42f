package dashboard

import (
	"context"
	"log/slog"
	"time"
)

// BroadcastHandler wraps a slog.Handler and mirrors every record to a Hub.
type BroadcastHandler struct {
	inner slog.Handler
	hub   *Hub
	attrs []slog.Attr
}

// NewBroadcastHandler creates a handler that broadcasts to hub and delegates to inner.
func NewBroadcastHandler(hub *Hub, inner slog.Handler) *BroadcastHandler {
	return &BroadcastHandler{
		inner: inner,
		hub:   hub,
	}
}

func (h *BroadcastHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle broadcasts the record as a "log" message, then delegates.
func (h *BroadcastHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.hub.Broadcast(Message{
		Type:  "log",
		Level: r.Level.String(),
		Msg:   r.Message,
		Time:  r.Time.Format(time.RFC3339),
		Attrs: attrs,
	})

	return h.inner.Handle(ctx, r)
}

func (h *BroadcastHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BroadcastHandler{
		inner: h.inner.WithAttrs(attrs),
		hub:   h.hub,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

// WithGroup only affects the inner handler; broadcast attrs stay flat.
func (h *BroadcastHandler) WithGroup(name string) slog.Handler {
	return &BroadcastHandler{
		inner: h.inner.WithGroup(name),
		hub:   h.hub,
		attrs: h.attrs,
	}
}
