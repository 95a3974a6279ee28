package apiutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"driftcanvas/core"
	"driftcanvas/errdefs"
	"driftcanvas/handlers/auth"
	"driftcanvas/middleware"

	"github.com/golang-jwt/jwt/v5"
)

func decodeEnvelope(t *testing.T, body string) errdefs.Error {
	t.Helper()
	var envelope errdefs.Error
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("Failed to decode error envelope %q: %v", body, err)
	}
	return envelope
}

func TestRenderError_MapsCodeAndStampsCorrelation(t *testing.T) {
	handler := middleware.Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RenderError(w, r, errdefs.WithReason(errdefs.CodeRateLimit, errdefs.ReasonPerMinute, "slow down"))
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets", nil)
	req.Header.Set("X-Correlation-Id", "corr-7")
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Status mismatch: got %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	envelope := decodeEnvelope(t, rr.Body.String())
	if envelope.Code != errdefs.CodeRateLimit {
		t.Errorf("Envelope code mismatch: got %q, want %q", envelope.Code, errdefs.CodeRateLimit)
	}
	if envelope.Reason != errdefs.ReasonPerMinute {
		t.Errorf("Envelope reason mismatch: got %q, want %q", envelope.Reason, errdefs.ReasonPerMinute)
	}
	if envelope.Message != "slow down" {
		t.Errorf("Envelope message mismatch: got %q", envelope.Message)
	}
	if envelope.CorrelationID != "corr-7" {
		t.Errorf("Envelope correlation mismatch: got %q, want %q", envelope.CorrelationID, "corr-7")
	}
}

func TestRenderError_SanitizesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/canvases", nil)
	RenderError(rr, req, errors.New("pq: connection refused"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Status mismatch: got %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	envelope := decodeEnvelope(t, rr.Body.String())
	if envelope.Code != errdefs.CodeInternal {
		t.Errorf("Envelope code mismatch: got %q, want %q", envelope.Code, errdefs.CodeInternal)
	}
	if envelope.Message != "internal error" {
		t.Errorf("Envelope message mismatch: got %q", envelope.Message)
	}
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Errorf("Internal detail leaked to client: %s", rr.Body.String())
	}
}

func TestRenderError_WithoutCorrelationMiddleware(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/canvases/missing", nil)
	RenderError(rr, req, errdefs.NotFound("canvas not found"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("Status mismatch: got %d, want %d", rr.Code, http.StatusNotFound)
	}
	envelope := decodeEnvelope(t, rr.Body.String())
	if envelope.CorrelationID != "" {
		t.Errorf("Correlation should be empty without the middleware, got %q", envelope.CorrelationID)
	}
	if strings.Contains(rr.Body.String(), "correlationId") {
		t.Errorf("Empty correlation should be omitted from JSON, got %s", rr.Body.String())
	}
}

func TestRenderError_KeepsExistingCorrelation(t *testing.T) {
	handler := middleware.Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := errdefs.New(errdefs.CodeConflict, "stale document").WithCorrelation("corr-original")
		RenderError(w, r, err)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/canvases/c1", nil)
	req.Header.Set("X-Correlation-Id", "corr-request")
	handler.ServeHTTP(rr, req)

	envelope := decodeEnvelope(t, rr.Body.String())
	if envelope.CorrelationID != "corr-original" {
		t.Errorf("Correlation mismatch: got %q, want %q", envelope.CorrelationID, "corr-original")
	}
}

func TestCurrentUser(t *testing.T) {
	claims := &auth.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
		Login:            "alice",
		Tier:             "pro",
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.ClaimsContextKey, claims))

	user, ok := CurrentUser(req)
	if !ok {
		t.Fatal("CurrentUser should succeed with claims in context")
	}
	if user.ID != "user-42" || user.Subject != "user-42" {
		t.Errorf("User identity mismatch: got ID %q Subject %q", user.ID, user.Subject)
	}
	if user.Login != "alice" {
		t.Errorf("User login mismatch: got %q", user.Login)
	}
	if user.Tier != core.TierPro {
		t.Errorf("User tier mismatch: got %q, want %q", user.Tier, core.TierPro)
	}
}

func TestCurrentUser_MissingOrEmptyClaims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	if _, ok := CurrentUser(req); ok {
		t.Error("CurrentUser should fail without claims in context")
	}

	empty := &auth.AppClaims{Login: "ghost"}
	req = req.WithContext(context.WithValue(req.Context(), middleware.ClaimsContextKey, empty))
	if _, ok := CurrentUser(req); ok {
		t.Error("CurrentUser should fail when the subject is empty")
	}
}
