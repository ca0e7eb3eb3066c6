package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Writer appends batches to an append-only directory of JSONL segments, one
// segment per flush. Segments are named by the flush timestamp so their
// lexical order matches write order; a monotonic suffix disambiguates two
// flushes landing in the same millisecond.
type Writer struct {
	dir  string
	sync bool

	mu      sync.Mutex
	lastMS  int64
	lastSeq int
}

// Option configures Writer.
type Option func(*Writer)

// WithSync enables fsync before a segment is closed.
func WithSync(enabled bool) Option {
	return func(w *Writer) { w.sync = enabled }
}

// NewWriter creates the segment directory if needed.
func NewWriter(dir string, opts ...Option) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("wal dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal mkdir: %w", err)
	}
	w := &Writer{dir: dir, sync: true}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the segment directory.
func (w *Writer) Dir() string { return w.dir }

// Append serializes records as one JSON object per line into a new segment
// and returns the segment path. An empty batch writes nothing.
func (w *Writer) Append(records []any) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("wal marshal: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	path := w.nextSegment()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("wal open %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("wal write %s: %w", path, err)
	}
	if w.sync {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("wal sync %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("wal close %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) nextSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ms := time.Now().UnixMilli()
	if ms <= w.lastMS {
		w.lastSeq++
	} else {
		w.lastMS = ms
		w.lastSeq = 0
	}
	name := fmt.Sprintf("ingest_%d.jsonl", w.lastMS)
	if w.lastSeq > 0 {
		// fixed-width suffix so the lexical order of Segments stays the
		// write order under millisecond collisions
		name = fmt.Sprintf("ingest_%d_%04d.jsonl", w.lastMS, w.lastSeq)
	}
	return filepath.Join(w.dir, name)
}

// Segments lists segment paths in write order.
func Segments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal readdir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ReadSegment returns the raw JSON lines of a segment. A trailing partial
// line (no newline terminator, as left by a crash mid-write) is skipped.
func ReadSegment(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal open %s: %w", path, err)
	}
	defer f.Close()

	var lines [][]byte
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// no trailing newline means the last write was cut short
			break
		}
		line = bytes.TrimRight(line, "\n")
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	return lines, nil
}

// CountRecords sums parseable lines across all segments in dir.
func CountRecords(dir string) (int, error) {
	segs, err := Segments(dir)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, s := range segs {
		lines, err := ReadSegment(s)
		if err != nil {
			return 0, err
		}
		total += len(lines)
	}
	return total, nil
}
