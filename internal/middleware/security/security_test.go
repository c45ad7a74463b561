package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for name, value := range want {
		if got := rec.Header().Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Strict-Transport-Security"); !strings.Contains(got, "max-age=31536000") {
		t.Errorf("HSTS = %q", got)
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		target    string
		userAgent string
		want      bool
	}{
		{"normal api call", http.MethodGet, "/api/transactions", "finlux-cli/1.0", false},
		{"curl is fine", http.MethodPost, "/api/transactions", "curl/8.0", false},
		{"path traversal", http.MethodGet, "/api/../etc/passwd", "", true},
		{"sql injection in query", http.MethodGet, "/api/transactions?q=1+union+select", "", true},
		{"scanner agent", http.MethodGet, "/", "sqlmap/1.7", true},
		{"trace method", "TRACE", "/", "", true},
		{"long url", http.MethodGet, "/?q=" + strings.Repeat("a", 2100), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(nil)
			req := httptest.NewRequest(tt.method, "/", nil)
			req.URL.Path, req.URL.RawQuery, _ = strings.Cut(tt.target, "?")
			req.Header.Set("User-Agent", tt.userAgent)
			if got := d.DetectSuspiciousRequest(req); got != tt.want {
				t.Errorf("DetectSuspiciousRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetector_MiddlewareBlocks(t *testing.T) {
	d := NewDetector(nil)
	called := false
	h := d.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/.env"
	h.ServeHTTP(rec, req)

	if called || rec.Code != http.StatusBadRequest {
		t.Errorf("called = %v, status = %d", called, rec.Code)
	}
	if m := d.GetMetrics(); m.BlockedRequests != 1 || m.SuspiciousRequests != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct connection", "203.0.113.7:5000", "", "", "203.0.113.7"},
		{"untrusted peer cannot spoof", "203.0.113.7:5000", "1.2.3.4", "", "203.0.113.7"},
		{"trusted proxy forwards", "10.0.0.2:5000", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"real ip fallback", "127.0.0.1:5000", "", "198.51.100.9", "198.51.100.9"},
		{"garbage forwarded header", "127.0.0.1:5000", "not-an-ip", "", "127.0.0.1"},
	}

	d := NewDetector(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := d.ExtractClientIP(req); got != tt.want {
				t.Errorf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddTrustedProxy(t *testing.T) {
	d := NewDetector(nil)
	if err := d.AddTrustedProxy("not-a-cidr"); err == nil {
		t.Error("expected error for invalid CIDR")
	}
	if err := d.AddTrustedProxy("203.0.113.0/24"); err != nil {
		t.Fatalf("AddTrustedProxy() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	if got := d.ExtractClientIP(req); got != "198.51.100.1" {
		t.Errorf("ExtractClientIP() = %q", got)
	}
}
