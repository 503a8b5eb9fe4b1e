package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func securityHeadersFor(proto string) http.Header {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	req := httptest.NewRequest(http.MethodGet, "/perfil", nil)
	if proto != "" {
		req.Header.Set("X-Forwarded-Proto", proto)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header()
}

func TestSecurityHeadersOnPlainHTTP(t *testing.T) {
	h := securityHeadersFor("")
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "same-origin",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
	if csp := h.Get("Content-Security-Policy"); !strings.Contains(csp, "form-action 'self'") || !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Fatalf("unexpected CSP %q", csp)
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain http")
	}
}

func TestSecurityHeadersHSTSBehindTLSProxy(t *testing.T) {
	if securityHeadersFor("HTTPS").Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS when the proxy reports https")
	}
}
