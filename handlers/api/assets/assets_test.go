package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	blobmem "driftcanvas/blob/memory"
	"driftcanvas/config"
	"driftcanvas/errdefs"
	"driftcanvas/events"
	"driftcanvas/handlers/auth"
	"driftcanvas/middleware"
	"driftcanvas/schema"
	storemem "driftcanvas/stores/memory"
	"driftcanvas/uploads"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

func testGateway(t *testing.T) *uploads.Gateway {
	t.Helper()
	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() failed: %v", err)
	}
	cfg := config.Config{
		MaxUploadBytes:    25 << 20,
		MaxPixelDimension: 10000,
		MaxVideoDurationS: 7200,
		MaxNameLength:     200,
		MaxPromptLength:   2000,
		MaxModelLength:    100,
		BlobOpTimeout:     5 * time.Second,
	}
	store := storemem.NewStore()
	return uploads.NewGateway(cfg, store, store, blobmem.NewStore(), uploads.NewRateLimiter(100, 1000), events.NewNoop(), validator)
}

func authed(req *http.Request, subject string) *http.Request {
	claims := &auth.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Login:            subject,
		Tier:             "free",
	}
	return req.WithContext(context.WithValue(req.Context(), middleware.ClaimsContextKey, claims))
}

func withAssetID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

// buildMultipart assembles a multipart body with typed file parts, which
// multipart.Writer.CreateFormFile cannot do.
func buildMultipart(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		header.Set("Content-Type", f.contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart() failed: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("Writing part failed: %v", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField() failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Closing multipart writer failed: %v", err)
	}
	return body, writer.FormDataContentType()
}

func pngData() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
		0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
		0x42, 0x60, 0x82,
	}
}

func uploadPNG(t *testing.T, gateway *uploads.Gateway, subject string) (uploadResponse, string) {
	t.Helper()
	body, contentType := buildMultipart(t, map[string]string{"name": "photo.png"},
		filePart{field: "file", filename: "photo.png", contentType: "image/png", data: pngData()})

	rr := httptest.NewRecorder()
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/assets", body), subject)
	req.Header.Set("Content-Type", contentType)
	HandleUpload(gateway, 25<<20)(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("Upload status mismatch: got %d (body %s)", rr.Code, rr.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(resp.URL, "/api/v1/assets/"), "/file")
	if id == "" || id == resp.URL {
		t.Fatalf("Could not extract asset id from url %q", resp.URL)
	}
	return resp, id
}

func TestHandleUpload_StoresAndServesFile(t *testing.T) {
	gateway := testGateway(t)
	resp, id := uploadPNG(t, gateway, "user-1")

	if resp.StorageID == "" {
		t.Error("Upload response should carry a storage id")
	}
	if resp.ThumbnailURL != "" {
		t.Error("No thumbnail was sent, none should be reported")
	}

	rr := httptest.NewRecorder()
	req := withAssetID(authed(httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+id+"/file", nil), "user-1"), id)
	HandleGetFile(gateway)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GetFile status mismatch: got %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), pngData()) {
		t.Error("Served file does not match the uploaded bytes")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type mismatch: got %q", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("Assets are immutable and should be cacheable: got %q", cc)
	}
}

func TestHandleUpload_WithThumbnail(t *testing.T) {
	gateway := testGateway(t)
	body, contentType := buildMultipart(t, nil,
		filePart{field: "file", filename: "photo.png", contentType: "image/png", data: pngData()},
		filePart{field: "thumbnail", filename: "thumb.png", contentType: "image/png", data: pngData()})

	rr := httptest.NewRecorder()
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/assets", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	HandleUpload(gateway, 25<<20)(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("Upload status mismatch: got %d (body %s)", rr.Code, rr.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}
	if resp.ThumbnailID == "" || resp.ThumbnailURL == "" {
		t.Fatalf("Thumbnail ids missing from response: %+v", resp)
	}

	id := strings.TrimSuffix(strings.TrimPrefix(resp.ThumbnailURL, "/api/v1/assets/"), "/thumbnail")
	rr = httptest.NewRecorder()
	req = withAssetID(authed(httptest.NewRequest(http.MethodGet, resp.ThumbnailURL, nil), "user-1"), id)
	HandleGetThumbnail(gateway)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GetThumbnail status mismatch: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Thumbnail Content-Type mismatch: got %q", ct)
	}
}

func TestHandleUpload_MissingFilePart(t *testing.T) {
	gateway := testGateway(t)
	body, contentType := buildMultipart(t, map[string]string{"name": "photo.png"})

	rr := httptest.NewRecorder()
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/assets", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	HandleUpload(gateway, 25<<20)(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Status mismatch: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	var envelope errdefs.Error
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("Failed to decode error envelope: %v", err)
	}
	if envelope.Reason != errdefs.ReasonEmptyFile {
		t.Errorf("Reason mismatch: got %q, want %q", envelope.Reason, errdefs.ReasonEmptyFile)
	}
}

func TestHandleUpload_RejectsTextFile(t *testing.T) {
	gateway := testGateway(t)
	body, contentType := buildMultipart(t, nil,
		filePart{field: "file", filename: "notes.txt", contentType: "text/plain", data: []byte("hello world")})

	rr := httptest.NewRecorder()
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/assets", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	HandleUpload(gateway, 25<<20)(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("Status mismatch: got %d, want %d", rr.Code, http.StatusUnsupportedMediaType)
	}
	var envelope errdefs.Error
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("Failed to decode error envelope: %v", err)
	}
	if envelope.Code != errdefs.CodeUnsupportedMedia {
		t.Errorf("Error code mismatch: got %q", envelope.Code)
	}
}

func TestHandleUpload_RejectsNonMultipart(t *testing.T) {
	gateway := testGateway(t)

	rr := httptest.NewRecorder()
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/assets", strings.NewReader(`{"file":"x"}`)), "user-1")
	req.Header.Set("Content-Type", "application/json")
	HandleUpload(gateway, 25<<20)(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Status mismatch: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleUpload_RejectsBadFormNumbers(t *testing.T) {
	gateway := testGateway(t)
	body, contentType := buildMultipart(t, map[string]string{"width": "abc"},
		filePart{field: "file", filename: "photo.png", contentType: "image/png", data: pngData()})

	rr := httptest.NewRecorder()
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/assets", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	HandleUpload(gateway, 25<<20)(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Status mismatch: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	var envelope errdefs.Error
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("Failed to decode error envelope: %v", err)
	}
	if envelope.Reason != errdefs.ReasonBadDimensions {
		t.Errorf("Reason mismatch: got %q, want %q", envelope.Reason, errdefs.ReasonBadDimensions)
	}
}

func TestHandleGetAsset_Metadata(t *testing.T) {
	gateway := testGateway(t)
	_, id := uploadPNG(t, gateway, "user-1")

	rr := httptest.NewRecorder()
	req := withAssetID(authed(httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+id, nil), "user-1"), id)
	HandleGetAsset(gateway)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status mismatch: got %d", rr.Code)
	}
	var asset map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &asset); err != nil {
		t.Fatalf("Failed to decode asset: %v", err)
	}
	if asset["kind"] != "image" || asset["mimeType"] != "image/png" {
		t.Errorf("Asset metadata mismatch: %v", asset)
	}

	// Another user must not see it.
	rr = httptest.NewRecorder()
	req = withAssetID(authed(httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+id, nil), "user-2"), id)
	HandleGetAsset(gateway)(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Cross-user status mismatch: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleListAssets_EmptyIsNotNull(t *testing.T) {
	rr := httptest.NewRecorder()
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil), "user-1")
	HandleListAssets(testGateway(t))(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status mismatch: got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("Empty list should render as []: got %s", rr.Body.String())
	}
}

func TestHandleDeleteAsset(t *testing.T) {
	gateway := testGateway(t)
	_, id := uploadPNG(t, gateway, "user-1")

	rr := httptest.NewRecorder()
	req := withAssetID(authed(httptest.NewRequest(http.MethodDelete, "/api/v1/assets/"+id, nil), "user-1"), id)
	HandleDeleteAsset(gateway)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Delete status mismatch: got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode delete response: %v", err)
	}
	if resp["id"] != id {
		t.Errorf("Delete response id mismatch: got %q, want %q", resp["id"], id)
	}

	// Unlike canvases, deleting a missing asset reports not found.
	rr = httptest.NewRecorder()
	req = withAssetID(authed(httptest.NewRequest(http.MethodDelete, "/api/v1/assets/"+id, nil), "user-1"), id)
	HandleDeleteAsset(gateway)(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Second delete status mismatch: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleUpload_RequiresClaims(t *testing.T) {
	body, contentType := buildMultipart(t, nil,
		filePart{field: "file", filename: "photo.png", contentType: "image/png", data: pngData()})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets", body)
	req.Header.Set("Content-Type", contentType)
	HandleUpload(testGateway(t), 25<<20)(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Status mismatch: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}
