package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"time"

	"driftcanvas/core"
	"driftcanvas/errdefs"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	if !strings.Contains(dataSourceName, "_pragma") {
		dataSourceName += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	canvasTableStmt := `
	CREATE TABLE IF NOT EXISTS canvases (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT,
		thumbnail TEXT,
		data BLOB,
		created_at DATETIME,
		updated_at DATETIME,
		PRIMARY KEY (user_id, id)
	);`
	if _, err = db.Exec(canvasTableStmt); err != nil {
		log.Fatalf("failed to create canvases table: %v", err)
	}

	assetTableStmt := `
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT,
		mime_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		width INTEGER,
		height INTEGER,
		duration REAL,
		storage_key TEXT NOT NULL,
		thumbnail_key TEXT,
		generation BLOB,
		created_at DATETIME,
		PRIMARY KEY (user_id, id)
	);`
	if _, err = db.Exec(assetTableStmt); err != nil {
		log.Fatalf("failed to create assets table: %v", err)
	}

	quotaTableStmt := `
	CREATE TABLE IF NOT EXISTS quotas (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		storage_used INTEGER NOT NULL DEFAULT 0,
		images_period INTEGER NOT NULL DEFAULT 0,
		videos_period INTEGER NOT NULL DEFAULT 0,
		period_start DATETIME,
		period_end DATETIME
	);`
	if _, err = db.Exec(quotaTableStmt); err != nil {
		log.Fatalf("failed to create quotas table: %v", err)
	}

	return &sqliteStore{db}
}

// CanvasStore implementation
func (s *sqliteStore) List(ctx context.Context, userID string) ([]*core.Canvas, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, updated_at, thumbnail FROM canvases WHERE user_id = ? ORDER BY updated_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var canvases []*core.Canvas
	for rows.Next() {
		var canvas core.Canvas
		canvas.UserID = userID
		if err := rows.Scan(&canvas.ID, &canvas.Name, &canvas.UpdatedAt, &canvas.Thumbnail); err != nil {
			return nil, err
		}
		canvases = append(canvases, &canvas)
	}
	return canvases, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, userID, id string) (*core.Canvas, error) {
	var canvas core.Canvas
	canvas.UserID = userID
	canvas.ID = id
	err := s.db.QueryRowContext(ctx, "SELECT name, data, created_at, updated_at, thumbnail FROM canvases WHERE user_id = ? AND id = ?", userID, id).Scan(&canvas.Name, &canvas.Data, &canvas.CreatedAt, &canvas.UpdatedAt, &canvas.Thumbnail)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errdefs.NotFound("canvas not found")
		}
		return nil, err
	}
	return &canvas, nil
}

func (s *sqliteStore) Save(ctx context.Context, canvas *core.Canvas) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Rollback on any error

	var exists bool
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM canvases WHERE user_id = ? AND id = ?", canvas.UserID, canvas.ID).Scan(&exists)

	now := time.Now()
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if exists {
		// Update
		_, err = tx.ExecContext(ctx, "UPDATE canvases SET name = ?, data = ?, updated_at = ?, thumbnail = ? WHERE user_id = ? AND id = ?", canvas.Name, canvas.Data, now, canvas.Thumbnail, canvas.UserID, canvas.ID)
	} else {
		// Insert
		_, err = tx.ExecContext(ctx, "INSERT INTO canvases (id, user_id, name, data, created_at, updated_at, thumbnail) VALUES (?, ?, ?, ?, ?, ?, ?)", canvas.ID, canvas.UserID, canvas.Name, canvas.Data, now, now, canvas.Thumbnail)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM canvases WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("canvas not found")
	}
	return nil
}

// AssetStore implementation
func (s *sqliteStore) ListAssets(ctx context.Context, userID string) ([]*core.Asset, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, kind, name, mime_type, size_bytes, width, height, duration, storage_key, thumbnail_key, generation, created_at FROM assets WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*core.Asset
	for rows.Next() {
		asset, err := scanAsset(rows, userID)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (s *sqliteStore) GetAsset(ctx context.Context, userID, id string) (*core.Asset, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, kind, name, mime_type, size_bytes, width, height, duration, storage_key, thumbnail_key, generation, created_at FROM assets WHERE user_id = ? AND id = ?", userID, id)
	asset, err := scanAsset(row, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errdefs.NotFound("asset not found")
		}
		return nil, err
	}
	return asset, nil
}

func (s *sqliteStore) InsertAsset(ctx context.Context, asset *core.Asset) error {
	var generation []byte
	if asset.Generation != nil {
		var err error
		generation, err = json.Marshal(asset.Generation)
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO assets (id, user_id, kind, name, mime_type, size_bytes, width, height, duration, storage_key, thumbnail_key, generation, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		asset.ID, asset.UserID, string(asset.Kind), asset.Name, asset.MimeType, asset.SizeBytes, asset.Width, asset.Height, asset.Duration, asset.StorageKey, asset.ThumbnailKey, generation, asset.CreatedAt)
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": asset.UserID, "asset_id": asset.ID}).WithError(err).Error("Failed to insert asset")
	}
	return err
}

func (s *sqliteStore) DeleteAsset(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM assets WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("asset not found")
	}
	return nil
}

// QuotaStore implementation
func (s *sqliteStore) GetQuota(ctx context.Context, userID string) (*core.Quota, error) {
	q := core.Quota{UserID: userID}
	err := s.db.QueryRowContext(ctx, "SELECT tier, storage_used, images_period, videos_period, period_start, period_end FROM quotas WHERE user_id = ?", userID).
		Scan(&q.Tier, &q.StorageUsedBytes, &q.ImagesThisPeriod, &q.VideosThisPeriod, &q.PeriodStart, &q.PeriodEnd)
	if err == sql.ErrNoRows {
		fresh := core.NewQuota(userID, time.Now())
		if err := s.SaveQuota(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *sqliteStore) SaveQuota(ctx context.Context, quota *core.Quota) error {
	used := quota.StorageUsedBytes
	if used < 0 {
		used = 0
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO quotas (user_id, tier, storage_used, images_period, videos_period, period_start, period_end)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		tier = excluded.tier,
		storage_used = excluded.storage_used,
		images_period = excluded.images_period,
		videos_period = excluded.videos_period,
		period_start = excluded.period_start,
		period_end = excluded.period_end`,
		quota.UserID, string(quota.Tier), used, quota.ImagesThisPeriod, quota.VideosThisPeriod, quota.PeriodStart, quota.PeriodEnd)
	return err
}

func (s *sqliteStore) AddStorageUsed(ctx context.Context, userID string, delta int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := ensureQuotaRow(ctx, tx, userID); err != nil {
		return 0, err
	}
	// MAX clamps the counter at zero so double-processed deletes cannot drive it negative.
	if _, err := tx.ExecContext(ctx, "UPDATE quotas SET storage_used = MAX(0, storage_used + ?) WHERE user_id = ?", delta, userID); err != nil {
		return 0, err
	}
	var used int64
	if err := tx.QueryRowContext(ctx, "SELECT storage_used FROM quotas WHERE user_id = ?", userID).Scan(&used); err != nil {
		return 0, err
	}
	return used, tx.Commit()
}

func (s *sqliteStore) IncrementGeneration(ctx context.Context, userID string, kind core.AssetKind) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureQuotaRow(ctx, tx, userID); err != nil {
		return err
	}
	column := "images_period"
	if kind == core.AssetVideo {
		column = "videos_period"
	}
	if _, err := tx.ExecContext(ctx, "UPDATE quotas SET "+column+" = "+column+" + 1 WHERE user_id = ?", userID); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureQuotaRow(ctx context.Context, tx *sql.Tx, userID string) error {
	fresh := core.NewQuota(userID, time.Now())
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO quotas (user_id, tier, storage_used, images_period, videos_period, period_start, period_end) VALUES (?, ?, 0, 0, 0, ?, ?)",
		userID, string(fresh.Tier), fresh.PeriodStart, fresh.PeriodEnd)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner, userID string) (*core.Asset, error) {
	var (
		asset      core.Asset
		kind       string
		generation []byte
	)
	asset.UserID = userID
	if err := row.Scan(&asset.ID, &kind, &asset.Name, &asset.MimeType, &asset.SizeBytes, &asset.Width, &asset.Height, &asset.Duration, &asset.StorageKey, &asset.ThumbnailKey, &generation, &asset.CreatedAt); err != nil {
		return nil, err
	}
	asset.Kind = core.AssetKind(kind)
	if len(generation) > 0 {
		asset.Generation = &core.GenerationMeta{}
		if err := json.Unmarshal(generation, asset.Generation); err != nil {
			return nil, err
		}
	}
	return &asset, nil
}
