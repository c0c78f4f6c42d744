package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

// maxLineSize bounds one stored run; a full page of listings stays well
// below it.
const maxLineSize = 8 << 20

// DatasetEntry is one line of the dataset file.
type DatasetEntry struct {
	RunID    string                 `json:"run_id"`
	StoredAt time.Time              `json:"stored_at"`
	Request  *models.SearchRequest  `json:"request"`
	Result   *models.ResultEnvelope `json:"result"`
}

// DatasetFile appends every finished search as one JSON line.
type DatasetFile struct {
	mu       sync.Mutex
	filename string
	now      func() time.Time
}

func NewDatasetFile(filename string) (*DatasetFile, error) {
	if filename == "" {
		return nil, fmt.Errorf("dataset filename is required")
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create dataset directory: %w", err)
		}
	}
	return &DatasetFile{filename: filename, now: time.Now}, nil
}

func (d *DatasetFile) Name() string {
	return "dataset"
}

func (d *DatasetFile) Push(ctx context.Context, req *models.SearchRequest, env *models.ResultEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(DatasetEntry{
		RunID:    env.RunID,
		StoredAt: d.now().UTC(),
		Request:  req,
		Result:   env,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dataset entry: %w", err)
	}
	line = append(line, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dataset entry: %w", err)
	}
	return f.Close()
}

// Load reads all entries back. A missing file yields no entries.
func (d *DatasetFile) Load() ([]DatasetEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.filename)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []DatasetEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry DatasetEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats counts stored runs, failed runs and listings.
func (d *DatasetFile) Stats() (map[string]int, error) {
	entries, err := d.Load()
	if err != nil {
		return nil, err
	}

	stats := map[string]int{"runs": len(entries), "failed": 0, "listings": 0}
	for _, e := range entries {
		if e.Result == nil {
			continue
		}
		if e.Result.Error != "" {
			stats["failed"]++
		}
		stats["listings"] += len(e.Result.Items)
	}
	return stats, nil
}
