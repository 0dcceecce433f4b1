package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SourceKey is the attribute key that overrides the source identifier written on each line.
const SourceKey = "source"

// DefaultSource is the source identifier used when nobody supplied one via Source/WithSource.
const DefaultSource = "mathteacher"

// TimeLayout is the timestamp layout at the start of every line (local time, second precision).
const TimeLayout = "2006-01-02 15:04:05"

// New creates a logger whose records are written to 'w' in the line format
// "2006-01-02 15:04:05 - source - LEVEL - message key=value ...".
//
// Example:
//
//	file, err := logging.OpenFile("server.log")
//	if err != nil {
//		return err
//	}
//	logger := logging.New(file, logging.WithSource("server"))
//	logger.Info("Adding [127.0.0.1:5000] 2 and 3")
func New(w io.Writer, options ...Option) *slog.Logger {
	return slog.New(NewHandler(w, options...))
}

// NewHandler creates the slog.Handler that powers New(). Use this directly when you need
// to compose it with some other handler.
func NewHandler(w io.Writer, options ...Option) *Handler {
	handler := Handler{
		out:    w,
		mutex:  &sync.Mutex{},
		level:  slog.LevelInfo,
		source: DefaultSource,
	}
	for _, option := range options {
		option(&handler)
	}
	return &handler
}

// Handler is a slog.Handler that writes one plain-text line per record. Each line is
// fully formatted in memory and handed to the underlying writer in a single Write call
// while holding a mutex shared by every handler derived from it via WithAttrs/WithGroup.
// Concurrent loggers sharing the same sink never interleave partial lines.
type Handler struct {
	out    io.Writer
	mutex  *sync.Mutex
	level  slog.Leveler
	source string
	// attrs are the pre-rendered " key=value" pairs supplied through WithAttrs.
	attrs string
	// prefix is the dotted group path (e.g. "request.") applied to subsequent attribute keys.
	prefix string
}

// Enabled reports whether records of the given level should be written at all.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats the record and writes it to the output as a single line.
func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	source := h.source
	attrs := strings.Builder{}
	attrs.WriteString(h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		if h.prefix == "" && attr.Key == SourceKey {
			source = attr.Value.String()
			return true
		}
		writeAttr(&attrs, h.prefix, attr)
		return true
	})

	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	line := strings.Builder{}
	line.WriteString(timestamp.Format(TimeLayout))
	line.WriteString(" - ")
	line.WriteString(source)
	line.WriteString(" - ")
	line.WriteString(record.Level.String())
	line.WriteString(" - ")
	line.WriteString(record.Message)
	line.WriteString(attrs.String())
	line.WriteByte('\n')

	h.mutex.Lock()
	defer h.mutex.Unlock()

	_, err := io.WriteString(h.out, line.String())
	return err
}

// WithAttrs returns a handler whose lines always include the given attributes. A top-level
// "source" attribute replaces the source identifier rather than being appended.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	clone := *h
	rendered := strings.Builder{}
	rendered.WriteString(h.attrs)
	for _, attr := range attrs {
		if h.prefix == "" && attr.Key == SourceKey {
			clone.source = attr.Value.String()
			continue
		}
		writeAttr(&rendered, h.prefix, attr)
	}
	clone.attrs = rendered.String()
	return &clone
}

// WithGroup returns a handler that qualifies every subsequent attribute key with the group name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func writeAttr(buf *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, groupAttr := range attr.Value.Group() {
			writeAttr(buf, groupPrefix, groupAttr)
		}
		return
	}

	buf.WriteByte(' ')
	buf.WriteString(prefix)
	buf.WriteString(attr.Key)
	buf.WriteByte('=')
	buf.WriteString(formatValue(attr.Value))
}

func formatValue(value slog.Value) string {
	switch value.Kind() {
	case slog.KindTime:
		return value.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return quote(err.Error())
		}
		return quote(fmt.Sprintf("%+v", value.Any()))
	default:
		return quote(value.String())
	}
}

func quote(text string) string {
	if text == "" || strings.ContainsAny(text, " =\"\t\r\n") {
		return strconv.Quote(text)
	}
	return text
}

// Source returns the attribute that sets the source identifier of the lines written by a logger.
//
// Example:
//
//	handlerLogger := logger.With(logging.Source("calculator"))
func Source(name string) slog.Attr {
	return slog.String(SourceKey, name)
}

// OpenFile opens the log file at the given path for appending, creating it if it does not
// exist yet. Existing content is never truncated. The caller owns the returned file and should
// hold it open for the lifetime of the process.
func OpenFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	return file, nil
}

// Tee mirrors every line to all of the given writers (e.g. the log file and os.Stderr).
func Tee(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}

// Discard returns a logger that throws away everything. Handy as a default when the
// caller didn't supply one.
func Discard() *slog.Logger {
	return New(io.Discard, WithLevel(slog.LevelError+1))
}

// Option customizes the behavior of the log Handler.
type Option func(*Handler)

// WithSource sets the default source identifier (e.g. "server" or "client") written on each line.
func WithSource(name string) Option {
	return func(h *Handler) {
		if name = strings.TrimSpace(name); name != "" {
			h.source = name
		}
	}
}

// WithLevel sets the minimum level of the records that will actually be written.
// By default, this is slog.LevelInfo.
func WithLevel(level slog.Leveler) Option {
	return func(h *Handler) {
		if level != nil {
			h.level = level
		}
	}
}
