package syncmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"driftcanvas/core"
	"driftcanvas/errdefs"
)

// HTTPRemote talks to the canvas document API with a bearer token. All
// calls share one bounded-timeout client; a hung request is abandoned and
// classified as offline by the manager.
type HTTPRemote struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPRemote(baseURL, token string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *HTTPRemote) PutState(ctx context.Context, projectID string, state *core.CanvasState) error {
	body, err := core.EncodeState(state)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.documentURL(projectID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return errorFromResponse(resp)
}

func (r *HTTPRemote) GetState(ctx context.Context, projectID string) (*core.CanvasState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.documentURL(projectID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return core.DecodeState(body)
}

func (r *HTTPRemote) documentURL(projectID string) string {
	return r.baseURL + "/api/v1/canvases/" + projectID
}

// errorFromResponse rebuilds a taxonomy error from the server's error
// envelope, falling back to a status-derived code when the body is not ours.
func errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Code    string `json:"error"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		return errdefs.WithReason(errdefs.Code(body.Code), body.Reason, body.Message)
	}

	msg := fmt.Sprintf("remote returned %d", resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errdefs.New(errdefs.CodeAuthentication, msg)
	case resp.StatusCode == http.StatusForbidden:
		return errdefs.New(errdefs.CodeAuthorization, msg)
	case resp.StatusCode == http.StatusNotFound:
		return errdefs.New(errdefs.CodeNotFound, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errdefs.New(errdefs.CodeRateLimit, msg)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errdefs.New(errdefs.CodeValidation, msg)
	default:
		return errdefs.New(errdefs.CodeRemoteUnavailable, msg)
	}
}
