// Package logsink provides the pluggable request-log destinations the HTTP
// client core writes to: a rotating newline-delimited JSON file and an
// in-memory ring buffer for the control surface's recent-activity view.
package logsink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/scanenginehq/scanengine/internal/transport"
)

const (
	maxFileSize = 10 * 1024 * 1024 // 10 MB
	backupSuffix = ".1"
)

// FileSink appends one JSON line per request to path, rotating to
// path+".1" (overwriting any previous backup) once the file reaches 10 MB.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int64
}

// NewFileSink opens (or creates) the log file at path.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logsink: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logsink: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("logsink: stat %s: %w", path, err)
	}
	return &FileSink{path: path, f: f, size: info.Size()}, nil
}

// Append writes rec as one JSON line, rotating first if it would exceed
// the 10 MB limit. Errors are swallowed: a logging failure must never
// propagate to the HTTP client core's caller.
func (s *FileSink) Append(rec transport.LogRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+int64(len(line)) > maxFileSize {
		s.rotateLocked()
	}
	n, err := s.f.Write(line)
	if err == nil {
		s.size += int64(n)
	}
}

func (s *FileSink) rotateLocked() {
	_ = s.f.Close()
	_ = os.Rename(s.path, s.path+backupSuffix)
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	s.f = f
	s.size = 0
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// RingBuffer keeps the most recent N log records in memory for the
// control surface's recent-activity view.
type RingBuffer struct {
	mu       sync.Mutex
	capacity int
	records  []transport.LogRecord
	next     int
	full     bool
}

// NewRingBuffer returns a buffer holding up to capacity records.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{capacity: capacity, records: make([]transport.LogRecord, capacity)}
}

// Append records rec, evicting the oldest entry once the buffer is full.
func (b *RingBuffer) Append(rec transport.LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[b.next] = rec
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns the buffered records, oldest first.
func (b *RingBuffer) Recent() []transport.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]transport.LogRecord, b.next)
		copy(out, b.records[:b.next])
		return out
	}
	out := make([]transport.LogRecord, b.capacity)
	copy(out, b.records[b.next:])
	copy(out[b.capacity-b.next:], b.records[:b.next])
	return out
}

// MultiSink fans a single record out to several sinks.
type MultiSink []transport.LogSink

func (m MultiSink) Append(rec transport.LogRecord) {
	for _, s := range m {
		s.Append(rec)
	}
}
