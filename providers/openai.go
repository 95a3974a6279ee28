package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"driftcanvas/core"
	"driftcanvas/errdefs"
)

const defaultOpenAIModel = "gpt-image-1"

// OpenAI generates images through the OpenAI images API. Video is not
// offered there, so video requests are rejected up front.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenAI() *OpenAI {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAI{
		apiKey:  os.Getenv("OPENAI_API_KEY"),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Generate(ctx context.Context, kind core.AssetKind, req Request) (*Result, error) {
	if kind != core.AssetImage {
		return nil, errdefs.New(errdefs.CodeValidation, "provider openai only generates images")
	}
	if p.apiKey == "" {
		return nil, errdefs.New(errdefs.CodeRemoteUnavailable, "OpenAI API key is not configured on the server")
	}

	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	payload := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"n":      1,
	}
	if req.Width > 0 && req.Height > 0 {
		payload["size"] = fmt.Sprintf("%dx%d", req.Width, req.Height)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeRemoteUnavailable, "Failed to communicate with OpenAI API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errdefs.Newf(errdefs.CodeRemoteUnavailable, "OpenAI API returned %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeRemoteUnavailable, "Failed to decode OpenAI response", err)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, errdefs.New(errdefs.CodeRemoteUnavailable, "OpenAI response contained no image")
	}

	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeRemoteUnavailable, "Failed to decode OpenAI image payload", err)
	}

	return &Result{
		Data:     data,
		MimeType: "image/png",
		Width:    req.Width,
		Height:   req.Height,
		Model:    model,
		Seed:     req.Seed,
	}, nil
}
