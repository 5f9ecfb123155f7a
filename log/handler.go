package log

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

type discardHandler struct{}

// DiscardHandler returns a no-op handler
func DiscardHandler() slog.Handler {
	return &discardHandler{}
}

func (h *discardHandler) Handle(_ context.Context, r slog.Record) error {
	return nil
}

func (h *discardHandler) Enabled(_ context.Context, level slog.Level) bool {
	return false
}

func (h *discardHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

var levelColors = map[slog.Level]string{
	LevelTrace: "\033[90m",
	LevelDebug: "\033[36m",
	LevelInfo:  "\033[32m",
	LevelWarn:  "\033[33m",
	LevelError: "\033[31m",
	LevelCrit:  "\033[1;31m",
}

// terminalHandler writes the level as a bare prefix ahead of the text
// handler's output. TextHandler quotes values holding escape bytes.
type terminalHandler struct {
	mu       *sync.Mutex
	wr       io.Writer
	inner    slog.Handler
	useColor bool
}

// NewTerminalHandlerWithLevel returns a text handler writing to wr that emits
// records at lvl and above, with ANSI-colored levels when useColor is set.
func NewTerminalHandlerWithLevel(wr io.Writer, lvl slog.Level, useColor bool) slog.Handler {
	inner := slog.NewTextHandler(wr, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	return &terminalHandler{mu: new(sync.Mutex), wr: wr, inner: inner, useColor: useColor}
}

func (h *terminalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *terminalHandler) Handle(ctx context.Context, r slog.Record) error {
	name := LevelAlignedString(r.Level)
	if c, ok := levelColors[r.Level]; ok && h.useColor {
		name = c + name + "\033[0m"
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.wr, name+" "); err != nil {
		return err
	}
	return h.inner.Handle(ctx, r)
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &terminalHandler{mu: h.mu, wr: h.wr, inner: h.inner.WithAttrs(attrs), useColor: h.useColor}
}

func (h *terminalHandler) WithGroup(name string) slog.Handler {
	return &terminalHandler{mu: h.mu, wr: h.wr, inner: h.inner.WithGroup(name), useColor: h.useColor}
}

// NewJSONHandlerWithLevel returns a JSON handler, used when output is not a terminal.
func NewJSONHandlerWithLevel(wr io.Writer, lvl slog.Level) slog.Handler {
	return slog.NewJSONHandler(wr, &slog.HandlerOptions{Level: lvl})
}
