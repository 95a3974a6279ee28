package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind discriminates the event union. Every event payload has exactly one
// kind and one payload shape; consumers switch on the kind, never on loose maps.
type EventKind string

const (
	EventCanvasSaved        EventKind = "canvas.saved"
	EventAssetCreated       EventKind = "asset.created"
	EventAssetDeleted       EventKind = "asset.deleted"
	EventGenerationFinished EventKind = "generation.finished"
)

type (
	// Event is the envelope published to the event bus.
	Event struct {
		Kind          EventKind       `json:"kind"`
		OccurredAt    time.Time       `json:"occurredAt"`
		CorrelationID string          `json:"correlationId,omitempty"`
		Payload       json.RawMessage `json:"payload"`
	}

	CanvasSavedPayload struct {
		CanvasID  string `json:"canvasId"`
		UserID    string `json:"userId"`
		SizeBytes int64  `json:"sizeBytes"`
	}

	AssetCreatedPayload struct {
		AssetID   string    `json:"assetId"`
		UserID    string    `json:"userId"`
		Kind      AssetKind `json:"assetKind"`
		SizeBytes int64     `json:"sizeBytes"`
	}

	AssetDeletedPayload struct {
		AssetID   string `json:"assetId"`
		UserID    string `json:"userId"`
		SizeBytes int64  `json:"sizeBytes"`
	}

	GenerationFinishedPayload struct {
		UserID  string    `json:"userId"`
		Kind    AssetKind `json:"assetKind"`
		Model   string    `json:"model,omitempty"`
		AssetID string    `json:"assetId,omitempty"`
	}
)

// kindForPayload pins each payload type to its kind so a mismatched pair fails
// at construction instead of at the consumer.
func kindForPayload(payload any) (EventKind, bool) {
	switch payload.(type) {
	case CanvasSavedPayload, *CanvasSavedPayload:
		return EventCanvasSaved, true
	case AssetCreatedPayload, *AssetCreatedPayload:
		return EventAssetCreated, true
	case AssetDeletedPayload, *AssetDeletedPayload:
		return EventAssetDeleted, true
	case GenerationFinishedPayload, *GenerationFinishedPayload:
		return EventGenerationFinished, true
	}
	return "", false
}

// NewEvent builds an envelope from a typed payload, deriving the kind from the
// payload's type.
func NewEvent(payload any, correlationID string) (Event, error) {
	kind, ok := kindForPayload(payload)
	if !ok {
		return Event{}, fmt.Errorf("unsupported event payload type %T", payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return Event{
		Kind:          kind,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}
