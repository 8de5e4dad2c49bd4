package reorg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stablewatch/stablewatch/internal/schema"
)

// Log appends reorg records to one JSONL file per chain under a base
// directory. Appends are serialized per log.
type Log struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewLog opens a reorg log rooted at dir, creating it if needed.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reorg log dir: %w", err)
	}
	return &Log{dir: dir, files: make(map[string]*os.File)}, nil
}

// Append writes one record as a JSON line to the chain's log file.
func (l *Log) Append(record *schema.ReorgRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.files[record.Chain]
	if !ok {
		path := filepath.Join(l.dir, record.Chain+"_reorgs.jsonl")
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open reorg log for %s: %w", record.Chain, err)
		}
		l.files[record.Chain] = f
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode reorg record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write reorg record: %w", err)
	}
	return nil
}

// Close closes all open per-chain files.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for chain, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.files, chain)
	}
	return firstErr
}
