package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogEntry is one captured log line
type LogEntry struct {
	Level   slog.Level
	Message string
	Fields  map[string]any
}

// TestLogger captures slog output so tests can assert on what was logged
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logger returns a *slog.Logger that writes into this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&captureHandler{sink: l})
}

func (l *TestLogger) append(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *TestLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

// EntriesAt returns the entries logged at exactly the given level
func (l *TestLogger) EntriesAt(level slog.Level) []LogEntry {
	var result []LogEntry
	for _, e := range l.Entries() {
		if e.Level == level {
			result = append(result, e)
		}
	}
	return result
}

func (l *TestLogger) HasError() bool {
	return len(l.EntriesAt(slog.LevelError)) > 0
}

func (l *TestLogger) HasWarning() bool {
	return len(l.EntriesAt(slog.LevelWarn)) > 0
}

// Contains reports whether any entry at level has a message containing substr
func (l *TestLogger) Contains(level slog.Level, substr string) bool {
	for _, e := range l.EntriesAt(level) {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

type captureHandler struct {
	sink  *TestLogger
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	h.sink.append(LogEntry{Level: r.Level, Message: r.Message, Fields: fields})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureHandler{sink: h.sink, attrs: merged}
}

// Groups are flattened; no test relies on them
func (h *captureHandler) WithGroup(_ string) slog.Handler {
	return h
}

// DiscardLogger returns a logger for tests that do not inspect output
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
