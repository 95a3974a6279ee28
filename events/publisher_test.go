package events

import (
	"context"
	"testing"
	"time"

	"driftcanvas/core"
)

func testEvent(t *testing.T, correlationID string) core.Event {
	t.Helper()
	event, err := core.NewEvent(core.CanvasSavedPayload{
		CanvasID: "canvas-1",
		UserID:   "user-1",
	}, correlationID)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	return event
}

func TestNoop_AcceptsEverything(t *testing.T) {
	pub := NewNoop()

	if err := pub.Publish(context.Background(), testEvent(t, "")); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
	if err := pub.Publish(context.Background(), core.Event{}); err != nil {
		t.Errorf("Publish of empty event failed: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestNewPublisherFromEnv_WithoutNATS(t *testing.T) {
	t.Setenv("NATS_URL", "")

	pub := NewPublisherFromEnv()
	if _, ok := pub.(*noop); !ok {
		t.Fatalf("publisher type mismatch: got %T, want *noop", pub)
	}
	if err := pub.Publish(context.Background(), testEvent(t, "")); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
}

func TestNewPublisherFromEnv_UnreachableNATS(t *testing.T) {
	t.Setenv("NATS_URL", "nats://127.0.0.1:1")

	pub := NewPublisherFromEnv()
	if _, ok := pub.(*noop); !ok {
		t.Fatalf("unreachable NATS should fall back to noop, got %T", pub)
	}
}

func TestNatsPub_RejectsEmptyKind(t *testing.T) {
	pub := &natsPub{dedup: make(map[string]time.Time)}

	if err := pub.Publish(context.Background(), core.Event{}); err == nil {
		t.Error("expected error for event without a kind")
	}
}

func TestSeenRecently_SuppressesDuplicates(t *testing.T) {
	pub := &natsPub{dedup: make(map[string]time.Time)}

	event := testEvent(t, "corr-1")
	if pub.seenRecently(event) {
		t.Error("first publish should not be suppressed")
	}
	if !pub.seenRecently(event) {
		t.Error("repeat within the window should be suppressed")
	}

	other := testEvent(t, "corr-2")
	if pub.seenRecently(other) {
		t.Error("different correlation id should not be suppressed")
	}

	deleted, err := core.NewEvent(core.AssetDeletedPayload{AssetID: "a1", UserID: "u1"}, "corr-1")
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if pub.seenRecently(deleted) {
		t.Error("same correlation id under a different kind should not be suppressed")
	}
}

func TestSeenRecently_IgnoresEventsWithoutCorrelation(t *testing.T) {
	pub := &natsPub{dedup: make(map[string]time.Time)}

	event := testEvent(t, "")
	if pub.seenRecently(event) || pub.seenRecently(event) {
		t.Error("events without correlation ids are never suppressed")
	}
	if len(pub.dedup) != 0 {
		t.Errorf("dedup map should stay empty, has %d entries", len(pub.dedup))
	}
}

func TestSeenRecently_EvictsStaleEntries(t *testing.T) {
	pub := &natsPub{dedup: map[string]time.Time{
		"canvas.saved:ancient": time.Now().Add(-time.Minute),
	}}

	if pub.seenRecently(testEvent(t, "fresh")) {
		t.Error("fresh event should not be suppressed")
	}
	if _, ok := pub.dedup["canvas.saved:ancient"]; ok {
		t.Error("stale entry should be evicted")
	}
	if _, ok := pub.dedup["canvas.saved:fresh"]; !ok {
		t.Error("fresh entry should be recorded")
	}
}
