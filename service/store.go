package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/BlusMotif/BlusWipe/model"
	"github.com/segmentio/ksuid"
)

// OutputStore keeps processed batch outputs on local disk with
// in-memory metadata. It is bounded: once maxOutputs is exceeded the
// oldest outputs are evicted, file and record together.
type OutputStore struct {
	dir        string
	maxOutputs int

	mu      sync.RWMutex
	outputs map[string]*model.Output // keyed by stored name
}

func NewOutputStore(dir string, maxOutputs int) (*OutputStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &OutputStore{
		dir:        dir,
		maxOutputs: maxOutputs,
		outputs:    make(map[string]*model.Output),
	}, nil
}

// Save persists a processed result under a generated name. The
// original filename is display metadata only.
func (s *OutputStore) Save(originalFilename, modelName string, data []byte) (*model.Output, error) {
	id := ksuid.New().String()
	storedName := fmt.Sprintf("batch_%s.png", id)

	if err := os.WriteFile(filepath.Join(s.dir, storedName), data, 0o600); err != nil {
		return nil, storageErr("failed to write output file", err)
	}

	output := &model.Output{
		ID:               id,
		OriginalFilename: originalFilename,
		StoredName:       storedName,
		Size:             int64(len(data)),
		Model:            modelName,
		CreatedAt:        time.Now(),
	}

	s.mu.Lock()
	s.outputs[storedName] = output
	s.evictIfNeeded()
	s.mu.Unlock()

	return output, nil
}

// Get returns the metadata for a stored output, or nil.
func (s *OutputStore) Get(storedName string) *model.Output {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputs[storedName]
}

// Path returns the on-disk location for a stored output. Callers must
// check Get first; the name is always store-generated, never
// client-supplied.
func (s *OutputStore) Path(storedName string) string {
	return filepath.Join(s.dir, storedName)
}

// Delete removes an output, record and file.
func (s *OutputStore) Delete(storedName string) {
	s.mu.Lock()
	delete(s.outputs, storedName)
	s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, storedName)); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove output file", "stored_name", storedName, "error", err)
	}
}

// Count returns the number of retained outputs.
func (s *OutputStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outputs)
}

// evictIfNeeded removes oldest outputs beyond maxOutputs.
// Must be called with lock held.
func (s *OutputStore) evictIfNeeded() {
	if s.maxOutputs <= 0 || len(s.outputs) <= s.maxOutputs {
		return
	}

	outputs := make([]*model.Output, 0, len(s.outputs))
	for _, o := range s.outputs {
		outputs = append(outputs, o)
	}
	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].CreatedAt.Before(outputs[j].CreatedAt)
	})

	removeCount := len(outputs) - s.maxOutputs
	for i := 0; i < removeCount; i++ {
		name := outputs[i].StoredName
		delete(s.outputs, name)
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove evicted output", "stored_name", name, "error", err)
		}
		slog.Info("evicted old output", "stored_name", name, "created_at", outputs[i].CreatedAt)
	}
}

// Sweep removes outputs older than maxAge, plus any file in the
// output dir that no record points at.
func (s *OutputStore) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	var expired []string
	for name, o := range s.outputs {
		if o.CreatedAt.Before(cutoff) {
			expired = append(expired, name)
			delete(s.outputs, name)
		}
	}
	tracked := make(map[string]bool, len(s.outputs))
	for name := range s.outputs {
		tracked[name] = true
	}
	s.mu.Unlock()

	removed := 0
	for _, name := range expired {
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil || os.IsNotExist(err) {
			removed++
		}
	}

	// Orphaned files from a previous process
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return removed
	}
	for _, entry := range entries {
		if entry.IsDir() || tracked[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}
