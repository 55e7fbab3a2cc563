package service

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/ksuid"
)

// ScratchHandle is a reservation for one request-scoped temp file.
// The name is generated; client filenames never reach the filesystem.
type ScratchHandle struct {
	id        string
	path      string
	createdAt time.Time

	mu       sync.Mutex
	released bool
}

// ID returns the generated identifier for the handle.
func (h *ScratchHandle) ID() string {
	return h.id
}

// CreatedAt returns the acquisition time.
func (h *ScratchHandle) CreatedAt() time.Time {
	return h.createdAt
}

// ScratchStore manages request-scoped temp files under a single
// directory. Files are uniquely named per request and never aliased
// across requests, so no locking beyond the handle's own is needed.
type ScratchStore struct {
	dir string
}

func NewScratchStore(dir string) (*ScratchStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &ScratchStore{dir: dir}, nil
}

// Dir returns the scratch directory.
func (s *ScratchStore) Dir() string {
	return s.dir
}

// Acquire reserves a slot with a collision-resistant identifier. The
// file is created empty so the reservation is visible to the sweeper.
func (s *ScratchStore) Acquire() (*ScratchHandle, error) {
	id := ksuid.New().String()
	path := filepath.Join(s.dir, id)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, storageErr("failed to reserve scratch slot", err)
	}
	if err := f.Close(); err != nil {
		return nil, storageErr("failed to reserve scratch slot", err)
	}

	return &ScratchHandle{id: id, path: path, createdAt: time.Now()}, nil
}

// Write stores the validated upload bytes under the handle.
func (s *ScratchStore) Write(h *ScratchHandle, data []byte) error {
	if h.isReleased() {
		return NewError(KindInternal, "write to released scratch handle")
	}
	if err := os.WriteFile(h.path, data, 0o600); err != nil {
		return storageErr("failed to write scratch file", err)
	}
	return nil
}

// Read returns the stored bytes.
func (s *ScratchStore) Read(h *ScratchHandle) ([]byte, error) {
	if h.isReleased() {
		return nil, NewError(KindInternal, "read from released scratch handle")
	}
	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, WrapError(KindInternal, "failed to read scratch file", err)
	}
	return data, nil
}

// Release deletes the scratch file. Idempotent: releasing an
// already-released handle is a no-op, so cleanup can run from the
// success path and every failure path without coordination.
func (s *ScratchStore) Release(h *ScratchHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove scratch file", "scratch_id", h.id, "error", err)
	}
}

func (h *ScratchHandle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Sweep removes scratch files older than maxAge. Normal operation
// leaves nothing behind; this catches orphans from crashed requests.
func (s *ScratchStore) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// storageErr classifies a filesystem error, surfacing ENOSPC as the
// retryable StorageExhausted kind.
func storageErr(msg string, err error) *PipelineError {
	if errors.Is(err, syscall.ENOSPC) {
		return WrapError(KindStorageExhausted, "storage exhausted, try again later", err)
	}
	return WrapError(KindInternal, msg, err)
}
