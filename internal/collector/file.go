package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// FileSource reads a JSON snapshot written by the external indicator job
type FileSource struct {
	path string
}

// NewFileSource creates a file source
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Fetch reads and decodes the file. A missing timestamp takes the file's
// modification time.
func (f *FileSource) Fetch(ctx context.Context) (*contracts.MarketIndicatorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", f.path, err)
	}

	var snap contracts.MarketIndicatorSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}

	if snap.Timestamp.IsZero() {
		info, err := os.Stat(f.path)
		if err != nil {
			return nil, fmt.Errorf("stat snapshot %s: %w", f.path, err)
		}
		snap.Timestamp = info.ModTime().UTC()
	}
	return &snap, nil
}
