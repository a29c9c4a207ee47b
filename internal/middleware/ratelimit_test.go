package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pizzacraft/api/internal/middleware"
)

func TestRateLimit_BlocksAfterBurst(t *testing.T) {
	handler := middleware.RateLimit(3, time.Hour)(http.HandlerFunc(okHandler))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want %d", i, rr.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest("POST", "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:6666"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusTooManyRequests)
	}

	// A different client has its own bucket.
	req = httptest.NewRequest("POST", "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("other client: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRecoverer_HidesDetailWhenAsked(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	for _, tc := range []struct {
		name       string
		showDetail bool
	}{
		{"development", true},
		{"production", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			middleware.Recoverer(tc.showDetail)(panicky).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

			if rr.Code != http.StatusInternalServerError {
				t.Fatalf("status: got %d, want %d", rr.Code, http.StatusInternalServerError)
			}
			body := decodeEnvelope(t, rr)
			_, hasDetail := body["error"]
			if hasDetail != tc.showDetail {
				t.Errorf("error detail present: got %v, want %v (body %v)", hasDetail, tc.showDetail, body)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	middleware.NotFound(rr, httptest.NewRequest("GET", "/api/nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
	if body := decodeEnvelope(t, rr); body["message"] != "API endpoint not found" {
		t.Errorf("message: got %v", body["message"])
	}
}
