// Package uploads implements the asset ingestion pipeline: validation, rate
// limiting, quota bookkeeping, blob storage, and the metadata record, in that
// order. Nothing is stored unless every check before it passed.
package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"driftcanvas/blob"
	"driftcanvas/config"
	"driftcanvas/core"
	"driftcanvas/errdefs"
	"driftcanvas/events"
	"driftcanvas/metrics"
	"driftcanvas/schema"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UploadInput carries one upload through the pipeline. Width, Height, and
// Duration are pointers so "absent" and "zero" stay distinguishable; a present
// zero is a validation error. Explicit fields win over the Metadata blob.
type UploadInput struct {
	Name          string
	Kind          core.AssetKind
	MimeType      string
	Data          []byte
	Thumbnail     []byte
	Width         *int64
	Height        *int64
	Duration      *float64
	Prompt        string
	Model         string
	Provider      string
	Seed          int64
	Metadata      json.RawMessage
	CorrelationID string
}

// Gateway owns the upload pipeline and the quota bookkeeping around it.
type Gateway struct {
	cfg       config.Config
	assets    core.AssetStore
	quotas    core.QuotaStore
	blobs     blob.Store
	limiter   *RateLimiter
	publisher events.Publisher
	validator *schema.Validator
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewGateway(cfg config.Config, assets core.AssetStore, quotas core.QuotaStore, blobs blob.Store, limiter *RateLimiter, publisher events.Publisher, validator *schema.Validator) *Gateway {
	return &Gateway{
		cfg:       cfg,
		assets:    assets,
		quotas:    quotas,
		blobs:     blobs,
		limiter:   limiter,
		publisher: publisher,
		validator: validator,
		metrics:   metrics.New(),
		tracer:    otel.Tracer("driftcanvas/uploads"),
	}
}

// Upload validates and stores one user upload. Validation failures carry a
// machine-checkable reason and leave no trace in any store or counter.
func (g *Gateway) Upload(ctx context.Context, user *core.User, in UploadInput) (*core.Asset, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Upload")
	defer span.End()

	if err := g.applyMetadata(&in); err != nil {
		g.metrics.UploadsTotal.WithLabelValues(kindLabel(in.Kind), "rejected").Inc()
		return nil, err
	}
	if err := g.validate(&in); err != nil {
		g.metrics.UploadsTotal.WithLabelValues(kindLabel(in.Kind), "rejected").Inc()
		return nil, err
	}
	if err := g.limiter.Allow(user.ID); err != nil {
		g.metrics.RateLimitedTotal.WithLabelValues(errdefs.ReasonOf(err)).Inc()
		g.metrics.UploadsTotal.WithLabelValues(kindLabel(in.Kind), "rejected").Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.String("upload.user_id", user.ID),
		attribute.String("upload.kind", string(in.Kind)),
		attribute.Int("upload.size_bytes", len(in.Data)),
	)
	return g.ingest(ctx, user, in)
}

// IngestGenerated stores media produced by a generation provider. It runs the
// same validation and quota pipeline as Upload but skips the per-user upload
// limiter; generation has its own period ceilings.
func (g *Gateway) IngestGenerated(ctx context.Context, user *core.User, in UploadInput) (*core.Asset, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.IngestGenerated")
	defer span.End()

	if err := g.applyMetadata(&in); err != nil {
		return nil, err
	}
	if err := g.validate(&in); err != nil {
		return nil, err
	}
	return g.ingest(ctx, user, in)
}

// ingest runs the storage half of the pipeline: quota ceiling, blob put,
// record insert, counter increment, event. A failed insert rolls the blob
// back; the quota is only touched after the record exists.
func (g *Gateway) ingest(ctx context.Context, user *core.User, in UploadInput) (*core.Asset, error) {
	userID := user.ID
	size := int64(len(in.Data))

	quota, err := g.CurrentQuota(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("loading quota: %w", err)
	}
	if limit := quota.Limits().StorageBytes; quota.StorageUsedBytes+size > limit {
		g.metrics.UploadsTotal.WithLabelValues(kindLabel(in.Kind), "rejected").Inc()
		return nil, errdefs.WithReason(errdefs.CodeQuotaExceeded, errdefs.ReasonStorageExceeded,
			fmt.Sprintf("storing %d bytes would exceed the %d byte storage ceiling", size, limit))
	}

	id := ulid.Make().String()
	key, err := blob.SafeKey(userID, id)
	if err != nil {
		return nil, err
	}
	asset := &core.Asset{
		ID:         id,
		UserID:     userID,
		Kind:       in.Kind,
		Name:       in.Name,
		MimeType:   in.MimeType,
		SizeBytes:  size,
		StorageKey: key,
		CreatedAt:  time.Now(),
	}
	if in.Width != nil {
		asset.Width = *in.Width
	}
	if in.Height != nil {
		asset.Height = *in.Height
	}
	if in.Duration != nil {
		asset.Duration = *in.Duration
	}
	if in.Prompt != "" || in.Model != "" || in.Provider != "" || in.Seed != 0 {
		asset.Generation = &core.GenerationMeta{
			Provider: in.Provider,
			Model:    in.Model,
			Prompt:   in.Prompt,
			Seed:     in.Seed,
		}
	}

	if err := g.putBlob(ctx, key, in.Data); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeRemoteUnavailable, "storing upload failed", err)
	}
	if len(in.Thumbnail) > 0 {
		thumbKey, err := blob.SafeKey(userID, id+".thumb")
		if err != nil {
			return nil, err
		}
		if err := g.putBlob(ctx, thumbKey, in.Thumbnail); err != nil {
			g.deleteBlob(ctx, key)
			return nil, errdefs.Wrap(errdefs.CodeRemoteUnavailable, "storing thumbnail failed", err)
		}
		asset.ThumbnailKey = thumbKey
	}

	if err := g.assets.InsertAsset(ctx, asset); err != nil {
		g.deleteBlob(ctx, asset.StorageKey)
		if asset.ThumbnailKey != "" {
			g.deleteBlob(ctx, asset.ThumbnailKey)
		}
		return nil, fmt.Errorf("inserting asset record: %w", err)
	}
	if _, err := g.quotas.AddStorageUsed(ctx, userID, size); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "asset_id": id}).WithError(err).Error("Failed to charge storage quota")
	}

	g.publish(ctx, core.AssetCreatedPayload{
		AssetID:   asset.ID,
		UserID:    userID,
		Kind:      asset.Kind,
		SizeBytes: size,
	}, in.CorrelationID)

	g.metrics.UploadsTotal.WithLabelValues(string(asset.Kind), "accepted").Inc()
	g.metrics.UploadBytes.WithLabelValues(string(asset.Kind)).Observe(float64(size))
	return asset, nil
}

// Delete removes an asset, its blobs, and its storage charge. Blob removal is
// best-effort; the record and the counter are authoritative. The quota
// decrement clamps at zero in the store.
func (g *Gateway) Delete(ctx context.Context, userID, assetID, correlationID string) (*core.Asset, error) {
	asset, err := g.assets.GetAsset(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}

	g.deleteBlob(ctx, asset.StorageKey)
	if asset.ThumbnailKey != "" {
		g.deleteBlob(ctx, asset.ThumbnailKey)
	}
	if err := g.assets.DeleteAsset(ctx, userID, assetID); err != nil {
		return nil, err
	}
	if _, err := g.quotas.AddStorageUsed(ctx, userID, -asset.SizeBytes); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "asset_id": assetID}).WithError(err).Error("Failed to release storage quota")
	}

	g.publish(ctx, core.AssetDeletedPayload{
		AssetID:   asset.ID,
		UserID:    userID,
		SizeBytes: asset.SizeBytes,
	}, correlationID)
	return asset, nil
}

// Stat returns an asset record without touching blob storage.
func (g *Gateway) Stat(ctx context.Context, userID, assetID string) (*core.Asset, error) {
	return g.assets.GetAsset(ctx, userID, assetID)
}

// Fetch returns an asset record together with its payload bytes.
func (g *Gateway) Fetch(ctx context.Context, userID, assetID string) (*core.Asset, []byte, error) {
	asset, err := g.assets.GetAsset(ctx, userID, assetID)
	if err != nil {
		return nil, nil, err
	}
	data, err := g.getBlob(ctx, asset.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return asset, data, nil
}

// FetchThumbnail returns an asset record together with its thumbnail bytes.
func (g *Gateway) FetchThumbnail(ctx context.Context, userID, assetID string) (*core.Asset, []byte, error) {
	asset, err := g.assets.GetAsset(ctx, userID, assetID)
	if err != nil {
		return nil, nil, err
	}
	if asset.ThumbnailKey == "" {
		return nil, nil, errdefs.NotFound("asset has no thumbnail")
	}
	data, err := g.getBlob(ctx, asset.ThumbnailKey)
	if err != nil {
		return nil, nil, err
	}
	return asset, data, nil
}

// List returns the user's assets, newest first.
func (g *Gateway) List(ctx context.Context, userID string) ([]*core.Asset, error) {
	return g.assets.ListAssets(ctx, userID)
}

// CurrentQuota returns the user's quota after lazily rolling the billing
// period. Counters reset the first time anything consults the quota past the
// period end. The stored tier follows the user's current tier, so a plan
// change takes effect at the next quota touch.
func (g *Gateway) CurrentQuota(ctx context.Context, user *core.User) (*core.Quota, error) {
	quota, err := g.quotas.GetQuota(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	changed := quota.RollPeriod(time.Now())
	if user.Tier != "" && quota.Tier != user.Tier {
		quota.Tier = user.Tier
		changed = true
	}
	if changed {
		if err := g.quotas.SaveQuota(ctx, quota); err != nil {
			return nil, err
		}
	}
	return quota, nil
}

// RecordGeneration enforces the per-tier period ceiling for one media kind
// and bumps the counter.
func (g *Gateway) RecordGeneration(ctx context.Context, user *core.User, kind core.AssetKind) error {
	quota, err := g.CurrentQuota(ctx, user)
	if err != nil {
		return err
	}
	limits := quota.Limits()
	switch kind {
	case core.AssetVideo:
		if quota.VideosThisPeriod >= limits.VideosPerPeriod {
			return errdefs.WithReason(errdefs.CodeQuotaExceeded, errdefs.ReasonPeriodExceeded,
				fmt.Sprintf("video generation limit of %d this period reached", limits.VideosPerPeriod))
		}
	default:
		if quota.ImagesThisPeriod >= limits.ImagesPerPeriod {
			return errdefs.WithReason(errdefs.CodeQuotaExceeded, errdefs.ReasonPeriodExceeded,
				fmt.Sprintf("image generation limit of %d this period reached", limits.ImagesPerPeriod))
		}
	}
	return g.quotas.IncrementGeneration(ctx, user.ID, kind)
}

// applyMetadata validates the optional metadata blob and folds it into the
// input. Individual fields take precedence over the blob.
func (g *Gateway) applyMetadata(in *UploadInput) error {
	if len(in.Metadata) == 0 {
		return nil
	}
	if err := g.validator.Validate(schema.UploadMetadata, in.Metadata); err != nil {
		return errdefs.WithReason(errdefs.CodeValidation, errdefs.ReasonBadMetadata, err.Error())
	}
	var meta struct {
		Name     *string  `json:"name"`
		Width    *int64   `json:"width"`
		Height   *int64   `json:"height"`
		Duration *float64 `json:"duration"`
		Prompt   *string  `json:"prompt"`
		Model    *string  `json:"model"`
		Provider *string  `json:"provider"`
		Seed     *int64   `json:"seed"`
	}
	if err := json.Unmarshal(in.Metadata, &meta); err != nil {
		return errdefs.WithReason(errdefs.CodeValidation, errdefs.ReasonBadMetadata, "metadata is not a JSON object")
	}
	if in.Name == "" && meta.Name != nil {
		in.Name = *meta.Name
	}
	if in.Width == nil {
		in.Width = meta.Width
	}
	if in.Height == nil {
		in.Height = meta.Height
	}
	if in.Duration == nil {
		in.Duration = meta.Duration
	}
	if in.Prompt == "" && meta.Prompt != nil {
		in.Prompt = *meta.Prompt
	}
	if in.Model == "" && meta.Model != nil {
		in.Model = *meta.Model
	}
	if in.Provider == "" && meta.Provider != nil {
		in.Provider = *meta.Provider
	}
	if in.Seed == 0 && meta.Seed != nil {
		in.Seed = *meta.Seed
	}
	return nil
}

// validate applies the upload checks in contract order: size, media type,
// dimensions, duration, text fields. The first failure wins.
func (g *Gateway) validate(in *UploadInput) error {
	size := int64(len(in.Data))
	if size == 0 {
		return errdefs.Validation(errdefs.ReasonEmptyFile, "file is empty")
	}
	if size > g.cfg.MaxUploadBytes {
		return errdefs.WithReason(errdefs.CodePayloadTooLarge, errdefs.ReasonFileTooLarge,
			fmt.Sprintf("file of %d bytes exceeds the %d byte limit", size, g.cfg.MaxUploadBytes))
	}

	kind, err := kindForMime(in.MimeType)
	if err != nil {
		return err
	}
	if in.Kind == "" {
		in.Kind = kind
	} else if in.Kind != kind {
		return errdefs.WithReason(errdefs.CodeUnsupportedMedia, errdefs.ReasonBadMediaType,
			fmt.Sprintf("declared kind %q does not match content type %q", in.Kind, in.MimeType))
	}
	// Cross-check against sniffed content where the sniffer is confident.
	// Most video containers sniff as octet-stream, so only a confident
	// mismatch rejects.
	if sniffed := http.DetectContentType(in.Data); strings.HasPrefix(sniffed, "image/") || strings.HasPrefix(sniffed, "video/") {
		if sniffedKind, _ := kindForMime(sniffed); sniffedKind != in.Kind {
			return errdefs.WithReason(errdefs.CodeUnsupportedMedia, errdefs.ReasonBadMediaType,
				fmt.Sprintf("content sniffs as %s, not %s", sniffed, in.MimeType))
		}
	}

	if len(in.Thumbnail) > 0 {
		if int64(len(in.Thumbnail)) > g.cfg.MaxUploadBytes {
			return errdefs.WithReason(errdefs.CodePayloadTooLarge, errdefs.ReasonFileTooLarge, "thumbnail exceeds the size limit")
		}
		if sniffed := http.DetectContentType(in.Thumbnail); strings.HasPrefix(sniffed, "video/") || strings.HasPrefix(sniffed, "audio/") {
			return errdefs.WithReason(errdefs.CodeUnsupportedMedia, errdefs.ReasonBadMediaType, "thumbnail must be an image")
		}
	}

	if in.Width != nil && (*in.Width <= 0 || *in.Width > g.cfg.MaxPixelDimension) {
		return errdefs.Validation(errdefs.ReasonBadDimensions,
			fmt.Sprintf("width must be between 1 and %d pixels", g.cfg.MaxPixelDimension))
	}
	if in.Height != nil && (*in.Height <= 0 || *in.Height > g.cfg.MaxPixelDimension) {
		return errdefs.Validation(errdefs.ReasonBadDimensions,
			fmt.Sprintf("height must be between 1 and %d pixels", g.cfg.MaxPixelDimension))
	}

	if in.Kind == core.AssetVideo && in.Duration == nil {
		return errdefs.Validation(errdefs.ReasonBadDuration, "duration is required for videos")
	}
	if in.Duration != nil && (*in.Duration <= 0 || *in.Duration > g.cfg.MaxVideoDurationS) {
		return errdefs.Validation(errdefs.ReasonBadDuration,
			fmt.Sprintf("duration must be between 0 and %.0f seconds", g.cfg.MaxVideoDurationS))
	}

	if len(in.Name) > g.cfg.MaxNameLength {
		return errdefs.Validation(errdefs.ReasonFieldTooLong,
			fmt.Sprintf("name exceeds %d characters", g.cfg.MaxNameLength))
	}
	if len(in.Prompt) > g.cfg.MaxPromptLength {
		return errdefs.Validation(errdefs.ReasonFieldTooLong,
			fmt.Sprintf("prompt exceeds %d characters", g.cfg.MaxPromptLength))
	}
	if len(in.Model) > g.cfg.MaxModelLength {
		return errdefs.Validation(errdefs.ReasonFieldTooLong,
			fmt.Sprintf("model exceeds %d characters", g.cfg.MaxModelLength))
	}
	if len(in.Provider) > g.cfg.MaxModelLength {
		return errdefs.Validation(errdefs.ReasonFieldTooLong,
			fmt.Sprintf("provider exceeds %d characters", g.cfg.MaxModelLength))
	}
	return nil
}

func kindForMime(mimeType string) (core.AssetKind, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return core.AssetImage, nil
	case strings.HasPrefix(mt, "video/"):
		return core.AssetVideo, nil
	}
	return "", errdefs.WithReason(errdefs.CodeUnsupportedMedia, errdefs.ReasonBadMediaType,
		fmt.Sprintf("content type %q is not an image or video", mimeType))
}

func kindLabel(kind core.AssetKind) string {
	if kind == "" {
		return "unknown"
	}
	return string(kind)
}

func (g *Gateway) putBlob(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.BlobOpTimeout)
	defer cancel()

	start := time.Now()
	err := g.blobs.Put(ctx, key, data)
	g.metrics.StorageOpSeconds.WithLabelValues("blob_put", opStatus(err)).Observe(time.Since(start).Seconds())
	return err
}

func (g *Gateway) getBlob(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.BlobOpTimeout)
	defer cancel()

	start := time.Now()
	data, err := g.blobs.Get(ctx, key)
	g.metrics.StorageOpSeconds.WithLabelValues("blob_get", opStatus(err)).Observe(time.Since(start).Seconds())
	return data, err
}

func (g *Gateway) deleteBlob(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.BlobOpTimeout)
	defer cancel()

	start := time.Now()
	err := g.blobs.Delete(ctx, key)
	g.metrics.StorageOpSeconds.WithLabelValues("blob_delete", opStatus(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		logrus.WithField("key", key).WithError(err).Warn("Failed to delete blob")
	}
}

func opStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (g *Gateway) publish(ctx context.Context, payload any, correlationID string) {
	event, err := core.NewEvent(payload, correlationID)
	if err != nil {
		logrus.WithError(err).Error("Failed to build event")
		return
	}
	if err := g.validator.ValidateEvent(event); err != nil {
		logrus.WithError(err).Error("Event failed schema validation, dropping")
		return
	}
	if err := g.publisher.Publish(ctx, event); err != nil {
		logrus.WithField("kind", event.Kind).WithError(err).Warn("Failed to publish event")
	}
}
