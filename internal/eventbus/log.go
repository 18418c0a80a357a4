package eventbus

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/llmos-bridge/daemon/internal/model"
)

// LogBus appends every event as one NDJSON line to a file, creating the
// parent directory on first write. It is the durable event log referenced
// by the event-history API: append-only, never truncated, never rewritten.
type LogBus struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewLogBus opens (or creates) the NDJSON file at path for appending. The
// file is opened lazily on first Emit so constructing a LogBus never touches
// the filesystem if it's never used.
func NewLogBus(path string) *LogBus {
	return &LogBus{path: path}
}

func (b *LogBus) Emit(topic string, event model.EventRecord) {
	event = stamp(topic, event)

	line, err := json.Marshal(event)
	if err != nil {
		slog.Warn("event log: failed to marshal event", "topic", topic, "error", err)
		return
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file == nil {
		if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
			slog.Warn("event log: failed to create directory", "path", b.path, "error", err)
			return
		}
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Warn("event log: failed to open file", "path", b.path, "error", err)
			return
		}
		b.file = f
	}

	if _, err := b.file.Write(line); err != nil {
		slog.Warn("event log: failed to write event", "path", b.path, "error", err)
	}
}

// Close flushes and closes the underlying file. Safe to call even if no
// event was ever written.
func (b *LogBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}
