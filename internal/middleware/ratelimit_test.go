package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		name       string
		workspace  string
		remoteAddr string
		want       string
	}{
		{"workspace wins", "ws-1", "198.51.100.10:1234", "ws:ws-1"},
		{"ipv4 with port", "", "198.51.100.10:1234", "ip:198.51.100.10"},
		{"ipv6 with port", "", net.JoinHostPort("2001:db8::2", "443"), "ip:2001:db8::2"},
		{"address without port", "", "203.0.113.1", "ip:203.0.113.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.workspace != "" {
				req = req.WithContext(ContextWithWorkspaceID(req.Context(), tc.workspace))
			}
			if got := rateLimitKey(req); got != tc.want {
				t.Fatalf("rateLimitKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitCountsPerWorkspace(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimit(2, time.Minute)(ok)

	call := func(ws string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		if ws != "" {
			req = req.WithContext(ContextWithWorkspaceID(req.Context(), ws))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("ws-a"); code != http.StatusNoContent {
			t.Fatalf("request %d for ws-a: got %d", i, code)
		}
	}
	if code := call("ws-a"); code != http.StatusTooManyRequests {
		t.Fatalf("third request for ws-a: got %d, want 429", code)
	}
	if code := call("ws-b"); code != http.StatusNoContent {
		t.Fatalf("ws-b shares a window with ws-a: got %d", code)
	}
	if code := call(""); code != http.StatusNoContent {
		t.Fatalf("anonymous caller limited by workspace window: got %d", code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimit(0, time.Minute)(ok)
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("request %d: got %d", i, rr.Code)
		}
	}
}
