package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// prettyHandler is a human-oriented key=value console handler for local runs.
// Output: ts=15:04:05.000 lvl=[INFO] msg=session.issue src=file.go:12 key=value ...
type prettyHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	source bool
	attrs  []slog.Attr
	prefix string
	color  bool
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(s string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := io.WriteString(lw.w, s)
	return err
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		out:   &lockedWriter{w: w},
		level: slog.LevelInfo,
		color: color,
	}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ts=%s lvl=%s msg=%s",
		paint(ts.Format("15:04:05.000"), ansiDim, h.color),
		levelTag(r.Level, h.color),
		paint(r.Message, ansiBright, h.color),
	)

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			src := filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
			b.WriteString(" src=" + paint(src, ansiDim, h.color))
		}
	}

	for _, a := range h.attrs {
		h.appendAttr(&b, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, h.prefix)
		return true
	})
	b.WriteByte('\n')

	return h.out.write(b.String())
}

// WithAttrs resolves the group prefix eagerly so attrs keep the groups open at
// the time they were added.
func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, prefix string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" && a.Value.Kind() != slog.KindGroup {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if key != "" {
			inner = prefix + key + "."
		}
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, inner)
		}
		return
	}

	full := prefix + key
	b.WriteByte(' ')
	if k, ok := prettyKeys[full]; ok {
		b.WriteString(k)
	} else {
		b.WriteString(full)
	}
	b.WriteByte('=')
	if f, ok := prettyFields[full]; ok {
		b.WriteString(f(a.Value, h.color))
		return
	}
	b.WriteString(quoteIfNeeded(valueText(a.Value)))
}

var prettyKeys = map[string]string{
	"duration_ms": "duration",
}

// prettyFields renders well-known request and session attributes.
var prettyFields = map[string]func(slog.Value, bool) string{
	"method": func(v slog.Value, color bool) string {
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), color)
	},
	"path": func(v slog.Value, color bool) string {
		return paint(strings.TrimSpace(v.String()), ansiCyan, color)
	},
	"status": func(v slog.Value, color bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), color)
		}
		return quoteIfNeeded(valueText(v))
	},
	"duration_ms": func(v slog.Value, color bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, color)
		}
		return quoteIfNeeded(valueText(v))
	},
	"result":  resultField,
	"outcome": resultField,
}

func resultField(v slog.Value, color bool) string {
	return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), color)
}

func valueText(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

var levelStyles = []struct {
	min   slog.Level
	tag   string
	color string
}{
	{slog.LevelError, "[ERROR]", ansiRed},
	{slog.LevelWarn, "[WARN]", ansiYellow},
	{slog.LevelInfo, "[INFO]", ansiBlue},
}

func levelTag(level slog.Level, color bool) string {
	for _, s := range levelStyles {
		if level >= s.min {
			return paint(s.tag, s.color, color)
		}
	}
	return paint("[DEBUG]", ansiMagenta, color)
}

func paint(s, code string, color bool) string {
	if !color {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET", "HEAD":
		return paint(m, ansiBlue, color)
	case "POST":
		return paint(m, ansiGreen, color)
	case "PUT", "PATCH":
		return paint(m, ansiYellow, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	default:
		return paint(m, ansiMagenta, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return paint(s, ansiRed, color)
	case code >= 400:
		return paint(s, ansiYellow, color)
	case code >= 300:
		return paint(s, ansiCyan, color)
	default:
		return paint(s, ansiGreen, color)
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

// colorizeResult highlights request results and session issue outcomes.
func colorizeResult(r string, color bool) string {
	switch r {
	case "success", "created", "ok":
		return paint(r, ansiGreen, color)
	case "reused", "restored", "redirect":
		return paint(r, ansiCyan, color)
	case "client_error", "invalid", "not_found":
		return paint(r, ansiYellow, color)
	case "server_error", "error":
		return paint(r, ansiRed, color)
	default:
		return quoteIfNeeded(r)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true // #nosec G115 -- log values only
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindDuration:
		return v.Duration().Milliseconds(), true
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	}
}
