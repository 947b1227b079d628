package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	ansiReset = "\x1b[0m"
	ansiDim   = "\x1b[2m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiAmber = "\x1b[33m"
	ansiCyan  = "\x1b[36m"
)

// ConsoleOptions configures a ConsoleHandler. A nil Level means info.
type ConsoleOptions struct {
	Level slog.Leveler
	Color bool
}

// ConsoleHandler writes one line per record, meant for a person watching a
// compile run:
//
//	14:02:11.042 WRN clamped values layer=1 count=3
//
// Groups flatten into dotted keys. Attributes bound with WithAttrs are
// rendered once and reused for every record.
type ConsoleHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	color  bool
	prefix string
	bound  []byte
}

func NewConsoleHandler(w io.Writer, opts ConsoleOptions) *ConsoleHandler {
	lvl := opts.Level
	if lvl == nil {
		lvl = slog.LevelInfo
	}
	return &ConsoleHandler{w: w, mu: new(sync.Mutex), level: lvl, color: opts.Color}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)

	buf = h.open(buf, ansiDim)
	buf = r.Time.AppendFormat(buf, "15:04:05.000")
	buf = h.close(buf, ansiDim)
	buf = append(buf, ' ')

	code, tag := levelTag(r.Level)
	buf = h.open(buf, code)
	buf = append(buf, tag...)
	buf = h.close(buf, code)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	buf = append(buf, h.bound...)
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

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.bound = append([]byte(nil), h.bound...)
	for _, a := range attrs {
		c.bound = h.appendAttr(c.bound, h.prefix, a)
	}
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func (h *ConsoleHandler) open(buf []byte, code string) []byte {
	if !h.color || code == "" {
		return buf
	}
	return append(buf, code...)
}

func (h *ConsoleHandler) close(buf []byte, code string) []byte {
	if !h.color || code == "" {
		return buf
	}
	return append(buf, ansiReset...)
}

func levelTag(l slog.Level) (string, string) {
	switch {
	case l >= slog.LevelError:
		return ansiRed, "ERR"
	case l >= slog.LevelWarn:
		return ansiAmber, "WRN"
	case l >= slog.LevelInfo:
		return ansiGreen, "INF"
	default:
		return ansiDim, "DBG"
	}
}

// appendAttr writes " key=value". Empty attributes are skipped and groups are
// expanded under their own prefix.
func (h *ConsoleHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := prefix
		if a.Key != "" {
			sub = prefix + a.Key + "."
		}
		for _, g := range a.Value.Group() {
			buf = h.appendAttr(buf, sub, g)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = h.open(buf, ansiCyan)
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	buf = h.close(buf, ansiCyan)
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendString(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, roundDuration(v.Duration()).String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		if err, ok := v.Any().(error); ok {
			return appendString(buf, err.Error())
		}
		return appendString(buf, v.String())
	}
}

func appendString(buf []byte, s string) []byte {
	if s == "" || strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuote(r rune) bool {
	return r == '"' || r == '=' || unicode.IsSpace(r) || !unicode.IsPrint(r)
}

// roundDuration keeps three significant digits so timings stay readable.
func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(time.Microsecond)
	default:
		return d
	}
}
