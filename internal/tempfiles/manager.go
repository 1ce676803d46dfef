// Package tempfiles stores transient image bytes on disk with a guaranteed,
// exactly-once cleanup per handle.
package tempfiles

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"imgshift/internal/logging"
)

// FilePrefix marks files owned by a Manager so CleanStale can find leftovers.
const FilePrefix = "imgshift-"

// ErrReleased is returned when reading a handle whose file was already deleted.
var ErrReleased = errors.New("temp file released")

// Handle refers to one acquired temp file.
type Handle struct {
	ID   string
	Path string
	Size int64
}

// IsZero reports whether h was never acquired.
func (h Handle) IsZero() bool { return h.ID == "" }

// Manager owns every temp file it hands out until Release.
type Manager struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	live     map[string]string
	released int
}

// NewManager creates dir if needed and returns a Manager rooted there.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("temp dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "tempfiles"),
		live:   make(map[string]string),
	}, nil
}

// Dir returns the managed directory.
func (m *Manager) Dir() string { return m.dir }

// Acquire writes data to a new temp file.
func (m *Manager) Acquire(data []byte) (Handle, error) {
	return m.AcquireFrom(".bin", func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// AcquireFrom streams write into a new temp file with the given suffix. The
// file is removed if write fails.
func (m *Manager) AcquireFrom(suffix string, write func(io.Writer) error) (Handle, error) {
	id := uuid.NewString()
	f, err := os.OpenFile(filepath.Join(m.dir, FilePrefix+id+suffix), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Handle{}, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Handle{}, fmt.Errorf("write temp file: %w", err)
	}
	info, err := f.Stat()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Handle{}, fmt.Errorf("finalize temp file: %w", err)
	}

	m.mu.Lock()
	m.live[id] = path
	m.mu.Unlock()
	return Handle{ID: id, Path: path, Size: info.Size()}, nil
}

// Read returns the bytes behind h.
func (m *Manager) Read(h Handle) ([]byte, error) {
	if !m.owns(h) {
		return nil, ErrReleased
	}
	return os.ReadFile(h.Path)
}

// Open opens the file behind h for streaming.
func (m *Manager) Open(h Handle) (*os.File, error) {
	if !m.owns(h) {
		return nil, ErrReleased
	}
	return os.Open(h.Path)
}

func (m *Manager) owns(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[h.ID]
	return ok
}

// Release deletes the file behind h. Only the first call for a handle removes
// the file; later calls report false and do nothing.
func (m *Manager) Release(h Handle) (bool, error) {
	if h.IsZero() {
		return false, nil
	}
	m.mu.Lock()
	path, ok := m.live[h.ID]
	if ok {
		delete(m.live, h.ID)
		m.released++
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(m.logger, "temp file remove failed", "temp_release_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check temp_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed until startup cleanup"),
		)
		return true, fmt.Errorf("remove temp file: %w", err)
	}
	return true, nil
}

// ReleaseAll deletes every live file and returns how many were released.
func (m *Manager) ReleaseAll() int {
	m.mu.Lock()
	handles := make([]Handle, 0, len(m.live))
	for id, path := range m.live {
		handles = append(handles, Handle{ID: id, Path: path})
	}
	m.mu.Unlock()

	count := 0
	for _, h := range handles {
		if ok, _ := m.Release(h); ok {
			count++
		}
	}
	if count > 0 {
		m.logger.Info("released remaining temp files",
			logging.Int("count", count),
			logging.String(logging.FieldEventType, "temp_release_all"),
		)
	}
	return count
}

// Live returns the number of files currently held.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Released returns how many handles have been released over the manager's lifetime.
func (m *Manager) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
