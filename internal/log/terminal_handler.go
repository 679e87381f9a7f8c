package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// TerminalHandler writes one line per record:
//
//	15:04:05.000 INF 1b4e28ba batch done kind=sources batch=3/10
//
// The short hex field is the run correlation id, present when the record was
// logged with a context carrying one. Without colour the same layout is
// written with no escape sequences, which suits output redirected to a file.
type TerminalHandler struct {
	out    *terminalOutput
	level  slog.Leveler
	prefix []byte // attributes added by WithAttrs, already rendered
	groups []string
}

type terminalOutput struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func newTerminalHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *TerminalHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &TerminalHandler{
		out:   &terminalOutput{w: w, color: color},
		level: level,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders r and writes it as a single line.
func (h *TerminalHandler) Handle(ctx context.Context, r slog.Record) error {
	line := lineWriter{color: h.out.color}
	line.buf.Grow(256)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line.styled(ansiDim, ts.Format("15:04:05.000"))
	line.buf.WriteByte(' ')

	style, label := levelStyle(r.Level)
	line.styled(style, label)
	line.buf.WriteByte(' ')

	if id := CorrelationID(ctx); id != "" {
		line.styled(ansiDim, shortID(id))
		line.buf.WriteByte(' ')
	}

	line.styled(ansiBold, r.Message)
	line.buf.Write(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		line.attr(a, h.groups)
		return true
	})
	line.buf.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(line.buf.Bytes())
	return err
}

// WithAttrs returns a handler that appends attrs to every record.
func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	line := lineWriter{color: h.out.color}
	line.buf.Write(h.prefix)
	for _, a := range attrs {
		line.attr(a, h.groups)
	}
	clone := *h
	clone.prefix = line.buf.Bytes()
	return &clone
}

// WithGroup returns a handler that qualifies later attribute keys with name.
func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

type lineWriter struct {
	buf   bytes.Buffer
	color bool
}

func (l *lineWriter) styled(style, s string) {
	if !l.color {
		l.buf.WriteString(s)
		return
	}
	l.buf.WriteString(style)
	l.buf.WriteString(s)
	l.buf.WriteString(ansiReset)
}

func (l *lineWriter) attr(a slog.Attr, groups []string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			groups = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			l.attr(ga, groups)
		}
		return
	}

	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + a.Key
	}
	l.buf.WriteByte(' ')
	l.styled(ansiDim, key+"=")
	value := formatAttrValue(a.Value)
	if a.Key == "error" {
		l.styled(ansiRed, value)
		return
	}
	l.buf.WriteString(value)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func levelStyle(level slog.Level) (string, string) {
	switch {
	case level < slog.LevelInfo:
		return ansiCyan, "DBG"
	case level < slog.LevelWarn:
		return ansiGreen, "INF"
	case level < slog.LevelError:
		return ansiYellow, "WRN"
	default:
		return ansiRed, "ERR"
	}
}

func formatAttrValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"\\=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindFloat64:
		return fmt.Sprintf("%.2f", v.Float64())
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return v.String()
	}
}
