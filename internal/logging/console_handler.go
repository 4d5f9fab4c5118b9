package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

// field is one flattened key=value pair. Group nesting collapses into
// dotted keys when attrs are collected.
type field struct {
	key string
	val slog.Value
}

// consoleHandler renders single-line human-readable records. Clones
// share the writer mutex so derived loggers serialize their writes.
type consoleHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	fields    []field
	group     string
	addSource bool
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.fields = slices.Clip(h.fields)
	for _, attr := range attrs {
		clone.fields = collect(clone.fields, h.group, attr)
	}
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = joinKey(h.group, name)
	return &clone
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	fields := make([]field, 0, len(h.fields)+record.NumAttrs())
	fields = append(fields, h.fields...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = collect(fields, h.group, attr)
		return true
	})

	// The component field becomes a message prefix instead of a
	// key=value pair.
	component := ""
	fields = slices.DeleteFunc(fields, func(f field) bool {
		if f.key != FieldComponent {
			return false
		}
		if component == "" {
			component = valueText(f.val, false)
		}
		return true
	})
	fields = dedupeFields(fields)

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var line strings.Builder
	line.Grow(96 + len(fields)*24)
	line.WriteString(timestampText(ts))
	line.WriteByte(' ')
	line.WriteString(levelText(record.Level))
	line.WriteByte(' ')
	if component != "" {
		line.WriteString(component)
		line.WriteString(": ")
	}
	if msg := strings.TrimSpace(record.Message); msg != "" {
		line.WriteString(msg)
	} else {
		line.WriteString("(no message)")
	}
	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&line, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		line.WriteByte(' ')
		line.WriteString(f.key)
		line.WriteByte('=')
		line.WriteString(valueText(f.val, true))
	}
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, line.String())
	return err
}

// collect appends attr to dst, recursing through groups. Keys pick up
// the dotted prefix.
func collect(dst []field, prefix string, attr slog.Attr) []field {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		nested := prefix
		if attr.Key != "" {
			nested = joinKey(prefix, attr.Key)
		}
		for _, member := range attr.Value.Group() {
			dst = collect(dst, nested, member)
		}
		return dst
	}
	return append(dst, field{key: joinKey(prefix, attr.Key), val: attr.Value})
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "." + key
	}
}

// dedupeFields keeps each key at its first position with the last value
// logged for it.
func dedupeFields(fields []field) []field {
	if len(fields) < 2 {
		return fields
	}
	index := make(map[string]int, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if at, seen := index[f.key]; seen {
			out[at].val = f.val
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func levelText(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func timestampText(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(time.Local).Format(consoleTimeLayout)
}

// valueText renders one attr value for the console line. Quoting applies
// only in key=value position; the component prefix stays bare.
func valueText(v slog.Value, quote bool) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return timestampText(v.Time())
	case slog.KindString:
		return maybeQuote(v.String(), quote)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return maybeQuote(err.Error(), quote)
		}
		return maybeQuote(fmt.Sprint(v.Any()), quote)
	default:
		return maybeQuote(v.String(), quote)
	}
}

func maybeQuote(s string, quote bool) string {
	if !quote || !needsQuoting(s) {
		return s
	}
	return strconv.Quote(s)
}

func needsQuoting(s string) bool {
	return s == "" || strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"'
	})
}
