package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "untrusted peer ignores forwarded header",
			remoteAddr: "198.51.100.10:1234",
			xff:        "203.0.113.5",
			want:       "198.51.100.10",
		},
		{
			name:       "trusted peer accepts forwarded header",
			remoteAddr: "10.0.0.20:1234",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "chain picks first untrusted hop from the right",
			remoteAddr: "10.0.0.20:1234",
			xff:        "198.51.100.1, 203.0.113.5, 10.0.0.10",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "garbage header falls back to peer",
			remoteAddr: "192.168.1.10:80",
			xff:        "nonsense",
			trusted:    trusted,
			want:       "192.168.1.10",
		},
		{
			name:       "fully trusted chain returns leftmost hop",
			remoteAddr: "10.0.0.20:1234",
			xff:        "10.0.0.5, 10.0.0.10",
			trusted:    trusted,
			want:       "10.0.0.5",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := tc.trusted.ClientIP(req); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	got, err := NewTrustedProxies([]string{" ", ""})
	if err != nil || got != nil {
		t.Fatalf("expected nil proxies for blank input, got %v %v", got, err)
	}
}
