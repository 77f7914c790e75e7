package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure JSONLSink implements the interface.
var _ driven.PublishSink = (*JSONLSink)(nil)

// JSONLSink appends published records to one JSON-lines file per source
// under a local directory. It is the default boundary for deployments
// where the analysis side tails files.
type JSONLSink struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLSink creates a sink writing under dir, creating it if needed.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("jsonl sink: empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating publish directory: %w", err)
	}
	return &JSONLSink{dir: dir}, nil
}

// Deliver appends the record to the source's file. The write is flushed
// before Deliver returns; a partial line from a crash mid-write is the
// consumer's to skip, the version stays unpublished and is re-offered.
func (s *JSONLSink) Deliver(ctx context.Context, record *driven.PublishRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding publish record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, record.SourceID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return nil
}

// Dir returns the sink's output directory.
func (s *JSONLSink) Dir() string {
	return s.dir
}
