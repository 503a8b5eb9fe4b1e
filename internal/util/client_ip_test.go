package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIPHonoursOnlyTrustedPeers(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"10.0.0.0/8", "fd00::/8", " 192.168.1.10 "})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	cases := []struct {
		remote, xff, realIP string
		proxies             *TrustedProxies
		want                string
	}{
		{"198.51.100.10:1234", "203.0.113.5", "203.0.113.6", nil, "198.51.100.10"},
		{"198.51.100.10:1234", "203.0.113.5", "", proxies, "198.51.100.10"},
		{"10.1.2.3:1234", "203.0.113.5", "", proxies, "203.0.113.5"},
		{"10.1.2.3:1234", "203.0.113.9, 203.0.113.5, 10.0.0.10", "", proxies, "203.0.113.5"},
		{"192.168.1.10:80", "garbage", "203.0.113.7", proxies, "203.0.113.7"},
		{"10.1.2.3:1234", "10.0.0.5, 10.0.0.10", "", proxies, "10.0.0.5"},
		{"[fd00::1]:443", "2001:db8::7", "", proxies, "2001:db8::7"},
		{"[::ffff:198.51.100.4]:80", "", "", proxies, "198.51.100.4"},
		{"not-an-addr", "", "", proxies, "not-an-addr"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("POST", "/login", nil)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if tc.realIP != "" {
			req.Header.Set("X-Real-IP", tc.realIP)
		}
		if got := ClientIP(req, tc.proxies); got != tc.want {
			t.Fatalf("ClientIP(remote=%s xff=%q) = %q, want %q", tc.remote, tc.xff, got, tc.want)
		}
	}
}

func TestTrustedProxiesParsing(t *testing.T) {
	if p, err := NewTrustedProxies([]string{"", "  "}); err != nil || p != nil {
		t.Fatalf("blank entries should trust nobody, got %v err=%v", p, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected error for invalid prefix")
	}
	if _, err := NewTrustedProxies([]string{"proxy.local"}); err == nil {
		t.Fatalf("expected error for hostname entry")
	}
	p, err := NewTrustedProxies([]string{"192.168.1.10"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.Contains(netip.MustParseAddr("::ffff:192.168.1.10")) {
		t.Fatalf("mapped address should match its IPv4 entry")
	}
	if p.Contains(netip.MustParseAddr("192.168.1.11")) {
		t.Fatalf("bare ip must match only itself")
	}
}
