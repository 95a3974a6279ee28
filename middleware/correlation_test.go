package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorrelation_MintsID(t *testing.T) {
	var seen string
	handler := Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("Correlation ID missing from the request context")
	}
	if got := rr.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("Response header mismatch: got %q, want %q", got, seen)
	}
}

func TestCorrelation_EchoesCallerID(t *testing.T) {
	var seen string
	handler := Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "caller-supplied")
	handler.ServeHTTP(rr, req)

	if seen != "caller-supplied" {
		t.Errorf("Context ID mismatch: got %q, want %q", seen, "caller-supplied")
	}
	if got := rr.Header().Get("X-Correlation-Id"); got != "caller-supplied" {
		t.Errorf("Response header mismatch: got %q", got)
	}
}

func TestCorrelationID_WithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := CorrelationID(req.Context()); got != "" {
		t.Errorf("CorrelationID() without the middleware should be empty: got %q", got)
	}
}
