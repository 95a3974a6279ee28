package core

import (
	"context"
	"time"
)

// AssetKind discriminates the two media families the canvas accepts.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
)

type (
	// GenerationMeta records the provenance of AI-generated media.
	GenerationMeta struct {
		Provider string `json:"provider,omitempty"`
		Model    string `json:"model,omitempty"`
		Prompt   string `json:"prompt,omitempty"`
		Seed     int64  `json:"seed,omitempty"`
	}

	// Asset is the durable record of one uploaded or generated binary.
	// StorageKey and ThumbnailKey point into the blob store; the row itself
	// lives in the metadata store.
	Asset struct {
		ID           string          `json:"id"`
		UserID       string          `json:"-"` // Not exposed in JSON responses, used internally.
		Kind         AssetKind       `json:"kind"`
		Name         string          `json:"name,omitempty"`
		MimeType     string          `json:"mimeType"`
		SizeBytes    int64           `json:"sizeBytes"`
		Width        int64           `json:"width,omitempty"`
		Height       int64           `json:"height,omitempty"`
		Duration     float64         `json:"duration,omitempty"` // seconds, videos only
		StorageKey   string          `json:"storageId"`
		ThumbnailKey string          `json:"thumbnailStorageId,omitempty"`
		Generation   *GenerationMeta `json:"generation,omitempty"`
		CreatedAt    time.Time       `json:"createdAt"`
	}

	// AssetStore defines the persistence layer for asset records.
	// All reads are scoped to the owning user.
	AssetStore interface {
		// ListAssets returns all assets owned by a user, newest first.
		ListAssets(ctx context.Context, userID string) ([]*Asset, error)

		// GetAsset returns one asset by ID, ensuring it belongs to the user.
		GetAsset(ctx context.Context, userID, id string) (*Asset, error)

		// InsertAsset stores a new asset record.
		InsertAsset(ctx context.Context, asset *Asset) error

		// DeleteAsset removes an asset record, ensuring it belongs to the user.
		DeleteAsset(ctx context.Context, userID, id string) error
	}
)
