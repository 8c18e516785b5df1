// Package logging provides consistent structured logging using slog.
//
// All processes in the deployment share one line format so logs can be
// interleaved and grepped together:
//
//	2026-01-06T14:05:52Z [source] LEVEL message key=value...
//
// Initialize once at startup with logging.Init("importer"), then use slog
// directly everywhere else.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Handler implements slog.Handler with the shared line format.
type Handler struct {
	source string
	level  slog.Level
	writer io.Writer
	attrs  []slog.Attr
}

// NewHandler creates a handler that writes the shared format to w.
func NewHandler(source string, w io.Writer, level slog.Level) *Handler {
	return &Handler{source: source, writer: w, level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes the log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder
	buf.WriteString(r.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(h.source)
	buf.WriteString("] ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, a)
		return true
	})

	buf.WriteString("\n")
	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func writeAttr(buf *strings.Builder, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")
	fmt.Fprintf(buf, "%v", a.Value.Any())
}

// WithAttrs returns a new handler with the given attributes.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{source: h.source, writer: h.writer, level: h.level, attrs: merged}
}

// WithGroup returns the handler unchanged; groups are flattened in this
// format.
func (h *Handler) WithGroup(_ string) slog.Handler {
	return h
}

// NewLogger creates a new slog logger with the level taken from LOG_LEVEL.
func NewLogger(source string, w io.Writer) *slog.Logger {
	return NewLoggerWithLevel(source, w, levelFromEnv())
}

// NewLoggerWithLevel creates a new slog logger with an explicit level.
func NewLoggerWithLevel(source string, w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(source, w, level))
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the shared-format logger as the slog default.
func Init(source string) {
	InitWithWriter(source, os.Stdout)
}

// InitWithWriter installs the default logger with a custom writer (tests).
func InitWithWriter(source string, w io.Writer) {
	slog.SetDefault(NewLogger(source, w))
}
