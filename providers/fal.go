package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"driftcanvas/core"
	"driftcanvas/errdefs"
)

const (
	defaultFalImageModel = "fal-ai/flux/dev"
	defaultFalVideoModel = "fal-ai/ltx-video"
)

// Fal generates images and videos through fal.ai's synchronous endpoints.
// The API returns URLs, so a second fetch pulls the actual bytes.
type Fal struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewFal() *Fal {
	baseURL := os.Getenv("FAL_BASE_URL")
	if baseURL == "" {
		baseURL = "https://fal.run"
	}
	return &Fal{
		apiKey:  os.Getenv("FAL_API_KEY"),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *Fal) Name() string { return "fal" }

func (p *Fal) Generate(ctx context.Context, kind core.AssetKind, req Request) (*Result, error) {
	if p.apiKey == "" {
		return nil, errdefs.New(errdefs.CodeRemoteUnavailable, "FAL API key is not configured on the server")
	}

	model := req.Model
	if model == "" {
		if kind == core.AssetVideo {
			model = defaultFalVideoModel
		} else {
			model = defaultFalImageModel
		}
	}

	payload := map[string]any{"prompt": req.Prompt}
	if req.Seed != 0 {
		payload["seed"] = req.Seed
	}
	if kind == core.AssetImage && req.Width > 0 && req.Height > 0 {
		payload["image_size"] = map[string]int64{"width": req.Width, "height": req.Height}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+model, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Key "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeRemoteUnavailable, "Failed to communicate with fal API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errdefs.Newf(errdefs.CodeRemoteUnavailable, "fal API returned %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		Images []struct {
			URL    string `json:"url"`
			Width  int64  `json:"width"`
			Height int64  `json:"height"`
		} `json:"images"`
		Video *struct {
			URL string `json:"url"`
		} `json:"video"`
		Seed int64 `json:"seed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeRemoteUnavailable, "Failed to decode fal response", err)
	}

	result := &Result{Model: model, Seed: out.Seed, DurationS: req.DurationS}
	var mediaURL string
	switch {
	case kind == core.AssetVideo && out.Video != nil:
		mediaURL = out.Video.URL
	case kind == core.AssetImage && len(out.Images) > 0:
		mediaURL = out.Images[0].URL
		result.Width = out.Images[0].Width
		result.Height = out.Images[0].Height
	default:
		return nil, errdefs.Newf(errdefs.CodeRemoteUnavailable, "fal response contained no %s", kind)
	}

	result.Data, result.MimeType, err = p.fetch(ctx, mediaURL)
	if err != nil {
		return nil, err
	}
	if result.MimeType == "" {
		if kind == core.AssetVideo {
			result.MimeType = "video/mp4"
		} else {
			result.MimeType = "image/png"
		}
	}
	return result, nil
}

func (p *Fal) fetch(ctx context.Context, url string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, "", errdefs.Wrap(errdefs.CodeRemoteUnavailable, "Failed to download generated media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errdefs.Newf(errdefs.CodeRemoteUnavailable, "media download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errdefs.Wrap(errdefs.CodeRemoteUnavailable, "Failed to read generated media", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
