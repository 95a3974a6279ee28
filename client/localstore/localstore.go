// Package localstore is the on-disk cache the editor works against: media
// blobs keyed by element id plus the single current canvas document. Every
// read has a defined empty fallback, so a cold or damaged cache means
// "start fresh", never a crash.
package localstore

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"driftcanvas/core"

	"github.com/sirupsen/logrus"
)

const (
	blobDir       = "blobs"
	sidecarSuffix = ".meta"
	stateFile     = "canvas_state.json"
)

// videoMeta is the JSON sidecar stored next to a video blob.
type videoMeta struct {
	Duration float64 `json:"duration"`
}

// Store is a single-directory cache. Safe for concurrent use within one
// process; it makes no attempt to coordinate across processes.
type Store struct {
	basePath string
	mu       sync.RWMutex
}

func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(basePath, blobDir), 0755); err != nil {
		return nil, err
	}
	return &Store{basePath: basePath}, nil
}

// blobPath validates the id and maps it to a file path. Ids containing
// path separators or traversal sequences are rejected.
func (s *Store) blobPath(id string) (string, bool) {
	if id == "" || id == "." || id == ".." || path.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return "", false
	}
	return filepath.Join(s.basePath, blobDir, id), true
}

// SaveImage stores image bytes under id. Saving an id that already exists
// overwrites it, so repeated saves of the same content are harmless.
func (s *Store) SaveImage(ctx context.Context, id string, src []byte) error {
	p, ok := s.blobPath(id)
	if !ok {
		return os.ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(p, src, 0644)
}

// SaveVideo stores video bytes under id along with the duration sidecar.
func (s *Store) SaveVideo(ctx context.Context, id string, src []byte, duration float64) error {
	p, ok := s.blobPath(id)
	if !ok {
		return os.ErrInvalid
	}
	meta, err := json.Marshal(videoMeta{Duration: duration})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(p, src, 0644); err != nil {
		return err
	}
	return os.WriteFile(p+sidecarSuffix, meta, 0644)
}

// Image returns the stored bytes for id. A missing id is not an error;
// ok is false and the caller renders a placeholder.
func (s *Store) Image(ctx context.Context, id string) ([]byte, bool, error) {
	p, ok := s.blobPath(id)
	if !ok {
		return nil, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Video returns the stored bytes and duration for id. A missing or
// unreadable sidecar degrades to duration zero rather than failing.
func (s *Store) Video(ctx context.Context, id string) ([]byte, float64, bool, error) {
	p, ok := s.blobPath(id)
	if !ok {
		return nil, 0, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	var meta videoMeta
	if raw, err := os.ReadFile(p + sidecarSuffix); err == nil {
		if err := json.Unmarshal(raw, &meta); err != nil {
			logrus.WithField("id", id).Warn("Corrupt video sidecar, using zero duration")
		}
	}
	return data, meta.Duration, true, nil
}

// SaveCanvasState replaces the stored canvas document.
func (s *Store) SaveCanvasState(ctx context.Context, state *core.CanvasState) error {
	data, err := core.EncodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.basePath, stateFile), data, 0644)
}

// CanvasState loads the stored canvas document. A missing or corrupt file
// reads as absent; the editor starts from an empty canvas in both cases.
func (s *Store) CanvasState(ctx context.Context) (*core.CanvasState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(s.basePath, stateFile))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	state, err := core.DecodeState(data)
	if err != nil {
		logrus.WithField("error", err).Warn("Corrupt canvas state on disk, treating as absent")
		return nil, false, nil
	}
	return state, true, nil
}

// CleanupOldData removes blobs no longer referenced by keep and returns how
// many entries it removed. Cleanup is maintenance, not correctness: every
// failure is logged and swallowed so it can never take the editor down.
func (s *Store) CleanupOldData(ctx context.Context, keep *core.CanvasState) int {
	referenced := map[string]bool{}
	if keep != nil {
		referenced = keep.ElementIDs()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.basePath, blobDir))
	if err != nil {
		logrus.WithField("error", err).Warn("Cleanup could not list blob directory")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		id := strings.TrimSuffix(name, sidecarSuffix)
		if referenced[id] {
			continue
		}
		if err := os.Remove(filepath.Join(s.basePath, blobDir, name)); err != nil {
			logrus.WithFields(logrus.Fields{"entry": name, "error": err}).Warn("Cleanup could not remove entry")
			continue
		}
		if !strings.HasSuffix(name, sidecarSuffix) {
			removed++
		}
	}
	if removed > 0 {
		logrus.WithField("removed", removed).Debug("Cleaned up unreferenced blobs")
	}
	return removed
}
