package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"driftcanvas/core"
	"driftcanvas/errdefs"
)

// newFalServer serves both halves of the fal flow: the generate call and
// the follow-up media download.
func newFalServer(t *testing.T, mediaType string, media []byte, onGenerate func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/media/out" {
			w.Header().Set("Content-Type", mediaType)
			w.Write(media)
			return
		}
		if onGenerate != nil {
			onGenerate(r)
		}
		mediaURL := fmt.Sprintf("http://%s/media/out", r.Host)
		w.Header().Set("Content-Type", "application/json")
		if mediaType == "video/mp4" {
			fmt.Fprintf(w, `{"video":{"url":%q},"seed":3}`, mediaURL)
			return
		}
		fmt.Fprintf(w, `{"images":[{"url":%q,"width":768,"height":512}],"seed":7}`, mediaURL)
	}))
}

func TestFal_GeneratesImage(t *testing.T) {
	imageBytes := []byte("generated png payload")

	var (
		mu      sync.Mutex
		gotPath string
		gotAuth string
		gotBody struct {
			Prompt    string `json:"prompt"`
			Seed      int64  `json:"seed"`
			ImageSize *struct {
				Width  int64 `json:"width"`
				Height int64 `json:"height"`
			} `json:"image_size"`
		}
	)
	server := newFalServer(t, "image/png", imageBytes, func(r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
	})
	defer server.Close()

	t.Setenv("FAL_API_KEY", "test-key")
	t.Setenv("FAL_BASE_URL", server.URL)
	p := NewFal()

	result, err := p.Generate(context.Background(), core.AssetImage, Request{
		Prompt: "a lighthouse at dusk",
		Width:  768,
		Height: 512,
		Seed:   11,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	mu.Lock()
	if gotPath != "/fal-ai/flux/dev" {
		t.Errorf("path mismatch: got %q, want %q", gotPath, "/fal-ai/flux/dev")
	}
	if gotAuth != "Key test-key" {
		t.Errorf("auth mismatch: got %q, want %q", gotAuth, "Key test-key")
	}
	if gotBody.Prompt != "a lighthouse at dusk" {
		t.Errorf("prompt mismatch: got %q", gotBody.Prompt)
	}
	if gotBody.Seed != 11 {
		t.Errorf("seed mismatch: got %d, want 11", gotBody.Seed)
	}
	if gotBody.ImageSize == nil || gotBody.ImageSize.Width != 768 || gotBody.ImageSize.Height != 512 {
		t.Errorf("image_size mismatch: %+v", gotBody.ImageSize)
	}
	mu.Unlock()

	if !bytes.Equal(result.Data, imageBytes) {
		t.Error("media payload mismatch")
	}
	if result.MimeType != "image/png" {
		t.Errorf("mime type mismatch: got %q", result.MimeType)
	}
	if result.Width != 768 || result.Height != 512 {
		t.Errorf("dimensions mismatch: got %dx%d, want 768x512", result.Width, result.Height)
	}
	if result.Seed != 7 {
		t.Errorf("seed should come from the response: got %d, want 7", result.Seed)
	}
	if result.Model != "fal-ai/flux/dev" {
		t.Errorf("model mismatch: got %q", result.Model)
	}
}

func TestFal_GeneratesVideo(t *testing.T) {
	videoBytes := []byte("generated mp4 payload")

	var (
		mu      sync.Mutex
		gotPath string
	)
	server := newFalServer(t, "video/mp4", videoBytes, func(r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
	})
	defer server.Close()

	t.Setenv("FAL_API_KEY", "test-key")
	t.Setenv("FAL_BASE_URL", server.URL)
	p := NewFal()

	result, err := p.Generate(context.Background(), core.AssetVideo, Request{
		Prompt:    "a drifting cloud",
		DurationS: 5,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	mu.Lock()
	if gotPath != "/fal-ai/ltx-video" {
		t.Errorf("path mismatch: got %q, want %q", gotPath, "/fal-ai/ltx-video")
	}
	mu.Unlock()

	if !bytes.Equal(result.Data, videoBytes) {
		t.Error("media payload mismatch")
	}
	if result.MimeType != "video/mp4" {
		t.Errorf("mime type mismatch: got %q", result.MimeType)
	}
	if result.DurationS != 5 {
		t.Errorf("duration mismatch: got %v, want 5", result.DurationS)
	}
	if result.Seed != 3 {
		t.Errorf("seed mismatch: got %d, want 3", result.Seed)
	}
	if result.Model != "fal-ai/ltx-video" {
		t.Errorf("model mismatch: got %q", result.Model)
	}
}

func TestFal_MissingKey(t *testing.T) {
	t.Setenv("FAL_API_KEY", "")
	p := NewFal()

	_, err := p.Generate(context.Background(), core.AssetImage, Request{Prompt: "a fox"})
	if !errdefs.IsCode(err, errdefs.CodeRemoteUnavailable) {
		t.Errorf("error mismatch: got %v, want remote_unavailable", err)
	}
}

func TestFal_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model warming up", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	t.Setenv("FAL_API_KEY", "test-key")
	t.Setenv("FAL_BASE_URL", server.URL)
	p := NewFal()

	_, err := p.Generate(context.Background(), core.AssetImage, Request{Prompt: "a fox"})
	if !errdefs.IsCode(err, errdefs.CodeRemoteUnavailable) {
		t.Errorf("error mismatch: got %v, want remote_unavailable", err)
	}
}

func TestFal_ResponseWithoutMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"seed":5}`))
	}))
	defer server.Close()

	t.Setenv("FAL_API_KEY", "test-key")
	t.Setenv("FAL_BASE_URL", server.URL)
	p := NewFal()

	_, err := p.Generate(context.Background(), core.AssetImage, Request{Prompt: "a fox"})
	if !errdefs.IsCode(err, errdefs.CodeRemoteUnavailable) {
		t.Errorf("error mismatch: got %v, want remote_unavailable", err)
	}
}

func TestFal_MediaDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/media/out" {
			http.NotFound(w, r)
			return
		}
		mediaURL := fmt.Sprintf("http://%s/media/out", r.Host)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"images":[{"url":%q,"width":1,"height":1}]}`, mediaURL)
	}))
	defer server.Close()

	t.Setenv("FAL_API_KEY", "test-key")
	t.Setenv("FAL_BASE_URL", server.URL)
	p := NewFal()

	_, err := p.Generate(context.Background(), core.AssetImage, Request{Prompt: "a fox"})
	if !errdefs.IsCode(err, errdefs.CodeRemoteUnavailable) {
		t.Errorf("error mismatch: got %v, want remote_unavailable", err)
	}
}
