package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"driftcanvas/core"
	"driftcanvas/errdefs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgStore struct {
	db *pgxpool.Pool
}

// NewStore connects a pgx pool and ensures the schema exists.
func NewStore(dsn string) (*pgStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &pgStore{db: pool}, nil
}

func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS canvases (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		thumbnail TEXT NOT NULL DEFAULT '',
		data BYTEA,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, id)
	);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		width BIGINT NOT NULL DEFAULT 0,
		height BIGINT NOT NULL DEFAULT 0,
		duration DOUBLE PRECISION NOT NULL DEFAULT 0,
		storage_key TEXT NOT NULL,
		thumbnail_key TEXT NOT NULL DEFAULT '',
		generation JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_assets_user_created ON assets(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS quotas (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		storage_used BIGINT NOT NULL DEFAULT 0,
		images_period INTEGER NOT NULL DEFAULT 0,
		videos_period INTEGER NOT NULL DEFAULT 0,
		period_start TIMESTAMP WITH TIME ZONE,
		period_end TIMESTAMP WITH TIME ZONE
	);`
	_, err := db.Exec(ctx, schema)
	return err
}

// Close releases the pool.
func (s *pgStore) Close() {
	s.db.Close()
}

// CanvasStore implementation
func (s *pgStore) List(ctx context.Context, userID string) ([]*core.Canvas, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name, thumbnail, created_at, updated_at FROM canvases WHERE user_id = $1 ORDER BY updated_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var canvases []*core.Canvas
	for rows.Next() {
		canvas := core.Canvas{UserID: userID}
		if err := rows.Scan(&canvas.ID, &canvas.Name, &canvas.Thumbnail, &canvas.CreatedAt, &canvas.UpdatedAt); err != nil {
			return nil, err
		}
		canvases = append(canvases, &canvas)
	}
	return canvases, rows.Err()
}

func (s *pgStore) Get(ctx context.Context, userID, id string) (*core.Canvas, error) {
	canvas := core.Canvas{UserID: userID, ID: id}
	err := s.db.QueryRow(ctx, "SELECT name, thumbnail, data, created_at, updated_at FROM canvases WHERE user_id = $1 AND id = $2", userID, id).
		Scan(&canvas.Name, &canvas.Thumbnail, &canvas.Data, &canvas.CreatedAt, &canvas.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFound("canvas not found")
	}
	if err != nil {
		return nil, err
	}
	return &canvas, nil
}

func (s *pgStore) Save(ctx context.Context, canvas *core.Canvas) error {
	_, err := s.db.Exec(ctx, `
	INSERT INTO canvases (id, user_id, name, thumbnail, data, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	ON CONFLICT (user_id, id) DO UPDATE SET
		name = excluded.name,
		thumbnail = excluded.thumbnail,
		data = excluded.data,
		updated_at = NOW()`,
		canvas.ID, canvas.UserID, canvas.Name, canvas.Thumbnail, canvas.Data)
	return err
}

func (s *pgStore) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM canvases WHERE user_id = $1 AND id = $2", userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFound("canvas not found")
	}
	return nil
}

// AssetStore implementation
func (s *pgStore) ListAssets(ctx context.Context, userID string) ([]*core.Asset, error) {
	rows, err := s.db.Query(ctx, "SELECT id, kind, name, mime_type, size_bytes, width, height, duration, storage_key, thumbnail_key, generation, created_at FROM assets WHERE user_id = $1 ORDER BY created_at DESC", userID)
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

func (s *pgStore) GetAsset(ctx context.Context, userID, id string) (*core.Asset, error) {
	row := s.db.QueryRow(ctx, "SELECT id, kind, name, mime_type, size_bytes, width, height, duration, storage_key, thumbnail_key, generation, created_at FROM assets WHERE user_id = $1 AND id = $2", userID, id)
	asset, err := scanAsset(row, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFound("asset not found")
	}
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *pgStore) InsertAsset(ctx context.Context, asset *core.Asset) error {
	var generation []byte
	if asset.Generation != nil {
		var err error
		generation, err = json.Marshal(asset.Generation)
		if err != nil {
			return err
		}
	}
	_, err := s.db.Exec(ctx,
		"INSERT INTO assets (id, user_id, kind, name, mime_type, size_bytes, width, height, duration, storage_key, thumbnail_key, generation, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
		asset.ID, asset.UserID, string(asset.Kind), asset.Name, asset.MimeType, asset.SizeBytes, asset.Width, asset.Height, asset.Duration, asset.StorageKey, asset.ThumbnailKey, generation, asset.CreatedAt)
	return err
}

func (s *pgStore) DeleteAsset(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM assets WHERE user_id = $1 AND id = $2", userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFound("asset not found")
	}
	return nil
}

// QuotaStore implementation
func (s *pgStore) GetQuota(ctx context.Context, userID string) (*core.Quota, error) {
	q := core.Quota{UserID: userID}
	var tier string
	err := s.db.QueryRow(ctx, "SELECT tier, storage_used, images_period, videos_period, period_start, period_end FROM quotas WHERE user_id = $1", userID).
		Scan(&tier, &q.StorageUsedBytes, &q.ImagesThisPeriod, &q.VideosThisPeriod, &q.PeriodStart, &q.PeriodEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		fresh := core.NewQuota(userID, time.Now())
		if err := s.SaveQuota(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}
	if err != nil {
		return nil, err
	}
	q.Tier = core.Tier(tier)
	return &q, nil
}

func (s *pgStore) SaveQuota(ctx context.Context, quota *core.Quota) error {
	used := quota.StorageUsedBytes
	if used < 0 {
		used = 0
	}
	_, err := s.db.Exec(ctx, `
	INSERT INTO quotas (user_id, tier, storage_used, images_period, videos_period, period_start, period_end)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id) DO UPDATE SET
		tier = excluded.tier,
		storage_used = excluded.storage_used,
		images_period = excluded.images_period,
		videos_period = excluded.videos_period,
		period_start = excluded.period_start,
		period_end = excluded.period_end`,
		quota.UserID, string(quota.Tier), used, quota.ImagesThisPeriod, quota.VideosThisPeriod, quota.PeriodStart, quota.PeriodEnd)
	return err
}

func (s *pgStore) AddStorageUsed(ctx context.Context, userID string, delta int64) (int64, error) {
	if err := s.ensureQuotaRow(ctx, userID); err != nil {
		return 0, err
	}
	// GREATEST clamps the counter at zero so double-processed deletes cannot
	// drive it negative.
	var used int64
	err := s.db.QueryRow(ctx, "UPDATE quotas SET storage_used = GREATEST(0, storage_used + $1) WHERE user_id = $2 RETURNING storage_used", delta, userID).Scan(&used)
	if err != nil {
		return 0, err
	}
	return used, nil
}

func (s *pgStore) IncrementGeneration(ctx context.Context, userID string, kind core.AssetKind) error {
	if err := s.ensureQuotaRow(ctx, userID); err != nil {
		return err
	}
	column := "images_period"
	if kind == core.AssetVideo {
		column = "videos_period"
	}
	_, err := s.db.Exec(ctx, "UPDATE quotas SET "+column+" = "+column+" + 1 WHERE user_id = $1", userID)
	return err
}

func (s *pgStore) ensureQuotaRow(ctx context.Context, userID string) error {
	fresh := core.NewQuota(userID, time.Now())
	_, err := s.db.Exec(ctx,
		"INSERT INTO quotas (user_id, tier, storage_used, images_period, videos_period, period_start, period_end) VALUES ($1, $2, 0, 0, 0, $3, $4) ON CONFLICT (user_id) DO NOTHING",
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
