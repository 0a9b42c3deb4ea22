package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func echoRealIP() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("X-Real-Ip")))
	})
}

func TestXForwardedForToXRealIP(t *testing.T) {
	for _, tt := range []struct {
		name     string
		xff      string
		realIP   string
		expected string
	}{
		{
			name:     "no headers",
			expected: "",
		},
		{
			name:     "single public address",
			xff:      "8.8.8.8",
			expected: "8.8.8.8",
		},
		{
			name:     "private hops are skipped",
			xff:      "10.0.0.1, 8.8.4.4",
			expected: "8.8.4.4",
		},
		{
			name:     "existing real ip wins",
			xff:      "8.8.8.8",
			realIP:   "1.1.1.1",
			expected: "1.1.1.1",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-Ip", tt.realIP)
			}

			rec := httptest.NewRecorder()
			XForwardedForToXRealIP(echoRealIP()).ServeHTTP(rec, req)

			if got := rec.Body.String(); got != tt.expected {
				t.Errorf("wanted X-Real-Ip %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRemoteXRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:41234"

	rec := httptest.NewRecorder()
	RemoteXRealIP(true, "tcp", echoRealIP()).ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "192.0.2.7" {
		t.Errorf("wanted peer address, got %q", got)
	}
}

func TestNoStoreCache(t *testing.T) {
	rec := httptest.NewRecorder()
	NoStoreCache(echoRealIP()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
		t.Errorf("wrong Cache-Control: %q", got)
	}
}
