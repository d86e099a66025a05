// Package logging builds the slog loggers used across npmdash.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	gray   = "\033[90m"
)

var levelStyles = map[slog.Level]struct {
	color string
	label string
}{
	slog.LevelDebug: {gray, "DEBUG"},
	slog.LevelInfo:  {green, "INFO "},
	slog.LevelWarn:  {yellow, "WARN "},
	slog.LevelError: {red, "ERROR"},
}

// Handler writes one line per record:
//
//	[npmdash] 2006-01-02 15:04:05 | INFO  | cycle committed period=last-week
//
// Colors are only emitted when the writer is a terminal.
type Handler struct {
	out        io.Writer
	level      slog.Leveler
	mu         *sync.Mutex
	color      bool
	timeFormat string
	attrs      []slog.Attr
	group      string
}

// NewHandler returns a Handler writing records at or above level to out.
func NewHandler(out io.Writer, level slog.Leveler) *Handler {
	return &Handler{
		out:        out,
		level:      level,
		mu:         &sync.Mutex{},
		color:      writerIsTTY(out),
		timeFormat: "2006-01-02 15:04:05",
	}
}

// New is shorthand for slog.New(NewHandler(out, level)).
func New(out io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewHandler(out, level))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(NewHandler(io.Discard, slog.LevelError+1))
}

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	style, ok := levelStyles[r.Level]
	if !ok {
		style = levelStyles[slog.LevelInfo]
	}

	var sb strings.Builder
	sb.WriteString(h.paint(cyan, "[npmdash]"))
	sb.WriteByte(' ')
	if !r.Time.IsZero() {
		sb.WriteString(r.Time.Format(h.timeFormat))
		sb.WriteByte(' ')
	}
	sb.WriteString(h.paint(gray, "|"))
	sb.WriteByte(' ')
	sb.WriteString(h.paint(style.color, style.label))
	sb.WriteByte(' ')
	sb.WriteString(h.paint(gray, "|"))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&sb, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h.writeAttr(&sb, a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h2.group != "" {
		h2.group += "." + name
	} else {
		h2.group = name
	}
	return &h2
}

func (h *Handler) writeAttr(sb *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(h.paint(cyan, a.Key))
	sb.WriteByte('=')
	fmt.Fprintf(sb, "%v", a.Value.Resolve().Any())
}

func (h *Handler) paint(color, s string) string {
	if !h.color {
		return s
	}
	return color + s + reset
}

func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}
