package providers

import (
	"context"
	"net/http"
	"testing"

	"driftcanvas/core"
)

func TestStub_GeneratesSniffableImage(t *testing.T) {
	stub := NewStub()

	result, err := stub.Generate(context.Background(), core.AssetImage, Request{Prompt: "anything", Seed: 42})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.MimeType != "image/png" {
		t.Errorf("mime type mismatch: got %q, want %q", result.MimeType, "image/png")
	}
	if got := http.DetectContentType(result.Data); got != "image/png" {
		t.Errorf("sniffed type mismatch: got %q, want %q", got, "image/png")
	}
	if result.Width != 1 || result.Height != 1 {
		t.Errorf("dimensions mismatch: got %dx%d, want 1x1", result.Width, result.Height)
	}
	if result.Model != "stub-image" {
		t.Errorf("model mismatch: got %q, want %q", result.Model, "stub-image")
	}
	if result.Seed != 42 {
		t.Errorf("seed mismatch: got %d, want 42", result.Seed)
	}
}

func TestStub_GeneratesSniffableVideo(t *testing.T) {
	stub := NewStub()

	result, err := stub.Generate(context.Background(), core.AssetVideo, Request{Width: 1280, Height: 720})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.MimeType != "video/mp4" {
		t.Errorf("mime type mismatch: got %q, want %q", result.MimeType, "video/mp4")
	}
	if got := http.DetectContentType(result.Data); got != "video/mp4" {
		t.Errorf("sniffed type mismatch: got %q, want %q", got, "video/mp4")
	}
	if result.DurationS != 4 {
		t.Errorf("default duration mismatch: got %v, want 4", result.DurationS)
	}
	if result.Width != 1280 || result.Height != 720 {
		t.Errorf("dimensions mismatch: got %dx%d, want 1280x720", result.Width, result.Height)
	}
	if result.Model != "stub-video" {
		t.Errorf("model mismatch: got %q, want %q", result.Model, "stub-video")
	}
}

func TestStub_VideoDurationPassthrough(t *testing.T) {
	stub := NewStub()

	result, err := stub.Generate(context.Background(), core.AssetVideo, Request{DurationS: 6.5})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.DurationS != 6.5 {
		t.Errorf("duration mismatch: got %v, want 6.5", result.DurationS)
	}
}
