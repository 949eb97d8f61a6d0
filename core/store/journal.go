package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kilianp07/wattbudget/core/balancer"
)

// RotatingJournal writes decisions as JSON lines to a size rotated file.
type RotatingJournal struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
	path   string
}

// NewRotatingJournal creates a journal with rotation limits in megabytes
// and days.
func NewRotatingJournal(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	return &RotatingJournal{logger: lj, path: path}, nil
}

func (j *RotatingJournal) Append(_ context.Context, d balancer.Decision) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return json.NewEncoder(j.logger).Encode(JournalRecord{ID: uuid.NewString(), Decision: d})
}

// Query reads the current and rotated files, oldest decision first.
func (j *RotatingJournal) Query(_ context.Context, q JournalQuery) ([]JournalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	ext := filepath.Ext(j.path)
	base := j.path[:len(j.path)-len(ext)]
	files, err := filepath.Glob(base + "*")
	if err != nil {
		return nil, err
	}
	var res []JournalRecord
	for _, f := range files {
		file, err := os.Open(f)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			var r JournalRecord
			if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
				continue
			}
			if q.match(r.Decision) {
				res = append(res, r)
			}
		}
		_ = file.Close()
	}
	sort.SliceStable(res, func(a, b int) bool { return res[a].Decision.Time.Before(res[b].Decision.Time) })
	return res, nil
}

func (j *RotatingJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.logger.Close()
}
