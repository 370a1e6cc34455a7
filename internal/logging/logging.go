// Package logging builds the slog loggers used by the inidoc CLI.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Sentinel errors for logger configuration.
var (
	ErrUnknownFormat = errors.New("unknown log format")
	ErrUnknownLevel  = errors.New("unknown log level")
)

// Log formats accepted by NewLogger. FormatAuto is resolved by ResolveFormat.
const (
	FormatAuto   = "auto"
	FormatPretty = "pretty"
	FormatJSON   = "json"
	FormatText   = "text"
)

// Compile-time interface check.
var _ slog.Handler = (*PrettyHandler)(nil)

var (
	_warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	_errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	_debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // dim
	_attrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // cyan
)

// PrettyHandler writes one coloured line per record: the message followed by
// its attributes as key=value pairs. Attributes from WithAttrs come first,
// qualified by any enclosing groups.
type PrettyHandler struct {
	out   io.Writer
	level slog.Leveler
	mu    *sync.Mutex
	attrs string // pre-rendered " key=val" pairs from WithAttrs
	group string // "a.b." prefix from WithGroup
}

// NewPrettyHandler returns a PrettyHandler that writes to out at the given level.
func NewPrettyHandler(out io.Writer, level slog.Leveler) *PrettyHandler {
	return &PrettyHandler{out: out, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle writes the record's message and attributes, coloured by level.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.group, a)
		return true
	})
	msg, attrs := r.Message, strings.TrimPrefix(b.String(), " ")

	var line string
	switch {
	case r.Level >= slog.LevelError:
		line = _errorStyle.Render(msg)
	case r.Level >= slog.LevelWarn:
		line = _warnStyle.Render(msg)
	case r.Level < slog.LevelInfo:
		line = _debugStyle.Render(msg)
	default:
		line = msg
	}
	if attrs != "" {
		line += " " + _attrStyle.Render(attrs)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line+"\n")
	return err
}

// WithAttrs returns a handler that renders attrs on every record.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.group, a)
	}
	nh := *h
	nh.attrs = b.String()
	return &nh
}

// WithGroup returns a handler that qualifies later attribute keys with name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.group = h.group + name + "."
	return &nh
}

// appendAttr renders a as " key=value", flattening groups into dotted keys.
func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " =\"") {
		v = fmt.Sprintf("%q", v)
	}
	b.WriteString(v)
}

// ResolveFormat maps FormatAuto to pretty output on a terminal and text
// otherwise. Other formats pass through unchanged.
func ResolveFormat(format string, isTTY bool) string {
	if format != FormatAuto && format != "" {
		return format
	}
	if isTTY {
		return FormatPretty
	}
	return FormatText
}

// ParseLevel converts a level name such as "debug" or "warn" to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownLevel)
	}
	return l, nil
}

// NewLogger creates a logger for the given format and level.
// Supported formats: "pretty", "json", "text".
func NewLogger(out io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case FormatText:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	case FormatPretty:
		handler = NewPrettyHandler(out, level)
	default:
		return nil, fmt.Errorf("unknown format %q: %w", format, ErrUnknownFormat)
	}
	return slog.New(handler), nil
}
