package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// JSONL appends transitions to a newline-delimited JSON file, one file per
// run. Batches are flushed to disk as a unit.
type JSONL struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
	logger zerolog.Logger
}

// NewJSONL opens (or continues) the transition file for runID under dir.
func NewJSONL(dir, runID string, logger zerolog.Logger) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recorder dir: %w", err)
	}
	path := filepath.Join(dir, runID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transition file: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &JSONL{
		file:   file,
		buf:    buf,
		enc:    json.NewEncoder(buf),
		logger: logger.With().Str("component", "recorder").Str("path", path).Logger(),
	}, nil
}

// SaveBatch encodes each transition on its own line and flushes.
func (j *JSONL) SaveBatch(ctx context.Context, batch []Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	for i := range batch {
		t := batch[i]
		normalize(&t)
		if err := j.enc.Encode(t); err != nil {
			return fmt.Errorf("encode transition: %w", err)
		}
	}
	if err := j.buf.Flush(); err != nil {
		return fmt.Errorf("flush transitions: %w", err)
	}
	j.logger.Debug().Int("count", len(batch)).Msg("Transitions recorded")
	return nil
}

// Close flushes and releases the file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.buf.Flush(); err != nil {
		j.file.Close()
		return fmt.Errorf("flush transitions: %w", err)
	}
	return j.file.Close()
}
