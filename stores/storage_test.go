package stores

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"driftcanvas/core"
)

func TestGetStore_DefaultsToMemory(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "")

	store := GetStore()
	ctx := context.Background()

	if err := store.Save(ctx, &core.Canvas{ID: "canvas-1", UserID: "user-1", Name: "Scene"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	canvas, err := store.Get(ctx, "user-1", "canvas-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if canvas.Name != "Scene" {
		t.Errorf("name mismatch: got %q, want %q", canvas.Name, "Scene")
	}
}

func TestGetStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.db")
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("DATA_SOURCE_NAME", path)

	store := GetStore()
	ctx := context.Background()

	if err := store.Save(ctx, &core.Canvas{ID: "canvas-1", UserID: "user-1", Name: "Scene"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Get(ctx, "user-1", "canvas-1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}
