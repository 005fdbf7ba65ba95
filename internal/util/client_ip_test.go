package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"172.16.0.0/12", "192.168.0.2"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{name: "headers ignored without trusted proxies", remote: "198.51.100.10:5050", xff: "203.0.113.5", realIP: "203.0.113.6", want: "198.51.100.10"},
		{name: "untrusted peer ignores headers", remote: "198.51.100.10:5050", xff: "203.0.113.5", trusted: trusted, want: "198.51.100.10"},
		{name: "trusted peer uses forwarded for", remote: "172.16.3.4:5050", xff: "203.0.113.5", trusted: trusted, want: "203.0.113.5"},
		{name: "chain walked from the right", remote: "172.16.3.4:5050", xff: "203.0.113.5, 198.51.100.7, 192.168.0.2", trusted: trusted, want: "198.51.100.7"},
		{name: "real ip when chain unusable", remote: "192.168.0.2:5050", xff: "garbage", realIP: "203.0.113.9", trusted: trusted, want: "203.0.113.9"},
		{name: "all hops trusted yields leftmost", remote: "172.16.3.4:5050", xff: "172.16.0.9, 192.168.0.2", trusted: trusted, want: "172.16.0.9"},
		{name: "ipv4 mapped peer", remote: "[::ffff:198.51.100.10]:5050", want: "198.51.100.10"},
		{name: "unparseable remote returned as is", remote: "pipe", want: "pipe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/chat/1/send", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if p, err := NewTrustedProxies([]string{" ", ""}); err != nil || p != nil {
		t.Fatalf("blank entries should trust nobody, got %v %v", p, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected error for bad prefix")
	}
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected error for bad address")
	}
}
