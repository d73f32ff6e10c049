package jobqueue

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// compress gzips payload when enabled. Per Open Question 2's resolution
// (see DESIGN.md), this is strictly a space optimization for the job
// backend: the queue handlers decompress each payload (see decompress)
// before writing it to the Store, and no other reader depends on it.
func compress(payload []byte, enabled bool) ([]byte, bool, error) {
	if !enabled {
		return payload, false, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, false, fmt.Errorf("compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), true, nil
}

// decompress is used only by the handler path that turns a dequeued
// Job back into a HistoryBatch/LatestBatch for writing to the Store —
// the one consumer that must read what it just wrote moments earlier.
// Archived/dead-lettered rows inspected later by an operator are never
// round-tripped through this.
func decompress(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
