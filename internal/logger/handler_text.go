package logger

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// maxBytesShown bounds how much of a raw []byte value is printed.
const maxBytesShown = 32

// ColorTextHandler writes one "[time] [LEVEL] msg key=value..." line per
// record, coloring level and keys on terminals.
type ColorTextHandler struct {
	opts     *slog.HandlerOptions
	w        io.Writer
	mu       *sync.Mutex
	attrs    []slog.Attr
	prefix   string
	useColor bool
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ColorTextHandler{opts: opts, w: w, mu: &sync.Mutex{}, useColor: useColor}
}

func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	buf := fmt.Appendf(nil, "[%s] [%s] %s", r.Time.Format("2006-01-02 15:04:05.000"), h.level(r.Level), r.Message)
	for _, a := range h.attrs {
		buf = h.appendAttr(buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *ColorTextHandler) level(level slog.Level) string {
	name, color := "ERROR", colorRed
	switch {
	case level < slog.LevelInfo:
		name, color = "DEBUG", colorGray
	case level < slog.LevelWarn:
		name, color = "INFO", colorGreen
	case level < slog.LevelError:
		name, color = "WARN", colorYellow
	}
	if h.useColor {
		return color + name + colorReset
	}
	return name
}

func (h *ColorTextHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	a.Value = a.Value.Resolve()
	key := prefix + a.Key

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, key+".", ga)
		}
		return buf
	}

	if h.useColor {
		return fmt.Appendf(buf, " %s%s%s=%s", colorCyan, key, colorReset, formatValue(a.Value))
	}
	return fmt.Appendf(buf, " %s=%s", key, formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if b, ok := v.Any().([]byte); ok {
			return formatBytes(b)
		}
		return fmt.Sprintf("%v", v.Any())
	}
	return v.String()
}

// formatBytes renders opaque protocol values (handles, owners, verifiers)
// as hex, truncated past maxBytesShown.
func formatBytes(b []byte) string {
	if len(b) <= maxBytesShown {
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b[:maxBytesShown]) + "..."
}

func (h *ColorTextHandler) clone() *ColorTextHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	return &c
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return c
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix = h.prefix + strings.TrimSuffix(name, ".") + "."
	return c
}
