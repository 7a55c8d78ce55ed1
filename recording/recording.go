// Package recording captures per-call audio to local files with time-based
// retention, so operators can review what the caller actually said.
package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ringlet-ai/ringlet/logger"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// DefaultRetention matches the default call-audio TTL.
const DefaultRetention = 30 * 24 * time.Hour

// ErrNotRecording is returned when appending to a call with no open recording.
var ErrNotRecording = errors.New("recording: call is not being recorded")

// Recorder writes each call's inbound audio to one file under a base
// directory. Safe for concurrent use across calls; appends for a single call
// must come from one goroutine, which the media bridge guarantees.
type Recorder struct {
	baseDir   string
	retention time.Duration

	mu    sync.Mutex
	files map[string]*os.File
}

// NewRecorder creates a recorder rooted at baseDir. retention <= 0 uses
// DefaultRetention.
func NewRecorder(baseDir string, retention time.Duration) (*Recorder, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if err := os.MkdirAll(baseDir, dirPermissions); err != nil {
		return nil, fmt.Errorf("recording dir create: %w", err)
	}
	return &Recorder{
		baseDir:   baseDir,
		retention: retention,
		files:     make(map[string]*os.File),
	}, nil
}

// Path returns the recording file path for a call.
func (r *Recorder) Path(callID string) string {
	return filepath.Join(r.baseDir, callID+".raw")
}

// Start opens the recording file for a call. Starting an already-recording
// call is a no-op.
func (r *Recorder) Start(callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, open := r.files[callID]; open {
		return nil
	}

	f, err := os.OpenFile(r.Path(callID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return fmt.Errorf("recording open: %w", err)
	}
	r.files[callID] = f
	return nil
}

// Append writes one audio chunk to the call's recording.
func (r *Recorder) Append(callID string, chunk []byte) error {
	r.mu.Lock()
	f, open := r.files[callID]
	r.mu.Unlock()
	if !open {
		return ErrNotRecording
	}

	if _, err := f.Write(chunk); err != nil {
		return fmt.Errorf("recording write: %w", err)
	}
	return nil
}

// Close finishes a call's recording and returns its file path.
// Closing an unknown call is a no-op returning an empty path.
func (r *Recorder) Close(callID string) (string, error) {
	r.mu.Lock()
	f, open := r.files[callID]
	delete(r.files, callID)
	r.mu.Unlock()
	if !open {
		return "", nil
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("recording close: %w", err)
	}
	return r.Path(callID), nil
}

// CleanupExpired deletes recordings older than the retention window and
// returns how many were removed. Open recordings are never touched.
func (r *Recorder) CleanupExpired() (int, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return 0, fmt.Errorf("recording dir read: %w", err)
	}
	cutoff := time.Now().Add(-r.retention)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".raw" {
			continue
		}
		callID := entry.Name()[:len(entry.Name())-len(".raw")]
		r.mu.Lock()
		_, open := r.files[callID]
		r.mu.Unlock()
		if open {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(r.baseDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("expired recording removal failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
