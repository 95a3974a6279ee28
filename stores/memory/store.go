package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"driftcanvas/core"
	"driftcanvas/errdefs"

	"github.com/sirupsen/logrus"
)

// memStore implements CanvasStore, AssetStore, and QuotaStore in memory.
// State is per-instance so tests and embedded use get isolated stores.
type memStore struct {
	mu sync.RWMutex
	// canvases is keyed by userID, then canvasID.
	canvases map[string]map[string]*core.Canvas
	assets   map[string]map[string]*core.Asset
	quotas   map[string]*core.Quota
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		canvases: make(map[string]map[string]*core.Canvas),
		assets:   make(map[string]map[string]*core.Asset),
		quotas:   make(map[string]*core.Quota),
	}
}

// List returns metadata for all canvases owned by a user. Part of the CanvasStore interface.
func (s *memStore) List(ctx context.Context, userID string) ([]*core.Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userCanvases, ok := s.canvases[userID]
	if !ok {
		return []*core.Canvas{}, nil // No canvases for this user, return empty slice
	}

	canvases := make([]*core.Canvas, 0, len(userCanvases))
	for _, canvas := range userCanvases {
		// Important: create a copy without the large `Data` field for the list view
		listCanvas := &core.Canvas{
			ID:        canvas.ID,
			UserID:    canvas.UserID,
			Name:      canvas.Name,
			Thumbnail: canvas.Thumbnail,
			CreatedAt: canvas.CreatedAt,
			UpdatedAt: canvas.UpdatedAt,
		}
		canvases = append(canvases, listCanvas)
	}
	sort.Slice(canvases, func(i, j int) bool { return canvases[i].UpdatedAt.After(canvases[j].UpdatedAt) })

	logrus.WithField("user_id", userID).Debugf("Listed %d canvases", len(canvases))
	return canvases, nil
}

// Get returns a single canvas by its ID, ensuring it belongs to the user. Part of the CanvasStore interface.
func (s *memStore) Get(ctx context.Context, userID, id string) (*core.Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canvas, ok := s.canvases[userID][id]
	if !ok {
		logrus.WithFields(logrus.Fields{"user_id": userID, "canvas_id": id}).Warn("Canvas not found for user")
		return nil, errdefs.NotFound("canvas not found")
	}
	out := *canvas
	return &out, nil
}

// Save creates or updates a canvas for a user. Part of the CanvasStore interface.
func (s *memStore) Save(ctx context.Context, canvas *core.Canvas) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if canvas.UserID == "" {
		return errdefs.New(errdefs.CodeValidation, "canvas user id cannot be empty")
	}
	if canvas.ID == "" {
		return errdefs.New(errdefs.CodeValidation, "canvas id cannot be empty")
	}

	userCanvases, ok := s.canvases[canvas.UserID]
	if !ok {
		userCanvases = make(map[string]*core.Canvas)
		s.canvases[canvas.UserID] = userCanvases
	}

	now := time.Now()
	if existing, exists := userCanvases[canvas.ID]; exists {
		canvas.CreatedAt = existing.CreatedAt
		canvas.UpdatedAt = now
	} else {
		canvas.CreatedAt = now
		canvas.UpdatedAt = now
	}

	stored := *canvas
	userCanvases[canvas.ID] = &stored
	logrus.WithFields(logrus.Fields{"user_id": canvas.UserID, "canvas_id": canvas.ID}).Debug("Canvas saved")
	return nil
}

// Delete removes a canvas, ensuring it belongs to the user. Part of the CanvasStore interface.
func (s *memStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.canvases[userID][id]; !ok {
		return errdefs.NotFound("canvas not found")
	}
	delete(s.canvases[userID], id)
	return nil
}

// ListAssets returns all assets owned by a user, newest first. Part of the AssetStore interface.
func (s *memStore) ListAssets(ctx context.Context, userID string) ([]*core.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userAssets, ok := s.assets[userID]
	if !ok {
		return []*core.Asset{}, nil
	}
	assets := make([]*core.Asset, 0, len(userAssets))
	for _, a := range userAssets {
		out := *a
		assets = append(assets, &out)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].CreatedAt.After(assets[j].CreatedAt) })
	return assets, nil
}

// GetAsset returns one asset by ID, ensuring it belongs to the user. Part of the AssetStore interface.
func (s *memStore) GetAsset(ctx context.Context, userID, id string) (*core.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[userID][id]
	if !ok {
		return nil, errdefs.NotFound("asset not found")
	}
	out := *asset
	return &out, nil
}

// InsertAsset stores a new asset record. Part of the AssetStore interface.
func (s *memStore) InsertAsset(ctx context.Context, asset *core.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if asset.UserID == "" || asset.ID == "" {
		return errdefs.New(errdefs.CodeValidation, "asset id and user id cannot be empty")
	}
	userAssets, ok := s.assets[asset.UserID]
	if !ok {
		userAssets = make(map[string]*core.Asset)
		s.assets[asset.UserID] = userAssets
	}
	if _, exists := userAssets[asset.ID]; exists {
		return errdefs.New(errdefs.CodeConflict, "asset already exists")
	}
	stored := *asset
	userAssets[asset.ID] = &stored
	return nil
}

// DeleteAsset removes an asset record, ensuring it belongs to the user. Part of the AssetStore interface.
func (s *memStore) DeleteAsset(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[userID][id]; !ok {
		return errdefs.NotFound("asset not found")
	}
	delete(s.assets[userID], id)
	return nil
}

// GetQuota returns the quota for a user, creating the default free quota on
// first access. Part of the QuotaStore interface.
func (s *memStore) GetQuota(ctx context.Context, userID string) (*core.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.quotaLocked(userID)
	out := *q
	return &out, nil
}

// SaveQuota replaces the stored quota wholesale. Part of the QuotaStore interface.
func (s *memStore) SaveQuota(ctx context.Context, quota *core.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quota.UserID == "" {
		return errdefs.New(errdefs.CodeValidation, "quota user id cannot be empty")
	}
	stored := *quota
	if stored.StorageUsedBytes < 0 {
		stored.StorageUsedBytes = 0
	}
	s.quotas[quota.UserID] = &stored
	return nil
}

// AddStorageUsed adjusts the storage counter, clamped at zero. Part of the QuotaStore interface.
func (s *memStore) AddStorageUsed(ctx context.Context, userID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.quotaLocked(userID)
	q.StorageUsedBytes += delta
	if q.StorageUsedBytes < 0 {
		q.StorageUsedBytes = 0
	}
	return q.StorageUsedBytes, nil
}

// IncrementGeneration bumps the period counter for one media kind. Part of the QuotaStore interface.
func (s *memStore) IncrementGeneration(ctx context.Context, userID string, kind core.AssetKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.quotaLocked(userID)
	switch kind {
	case core.AssetVideo:
		q.VideosThisPeriod++
	default:
		q.ImagesThisPeriod++
	}
	return nil
}

// quotaLocked returns the live quota record, creating it if needed.
// Callers must hold the write lock.
func (s *memStore) quotaLocked(userID string) *core.Quota {
	q, ok := s.quotas[userID]
	if !ok {
		q = core.NewQuota(userID, time.Now())
		s.quotas[userID] = q
	}
	return q
}
