package security

import (
	"net/http/httptest"
	"testing"

	"github.com/tbourn/go-inquiry-backend/internal/platform"
)

func TestIsOriginAllowed_Telegram(t *testing.T) {
	cases := []struct {
		ip   string
		want bool
	}{
		{"149.154.160.1", true},  // inside 149.154.160.0/20
		{"149.154.175.254", true},
		{"149.154.176.1", false}, // just past the /20
		{"91.108.4.10", true},    // inside 91.108.4.0/22
		{"91.108.8.1", false},
		{"8.8.8.8", false},
		{"not-an-ip", false},
		{"", false},
		{"2001:db8::1", false}, // IPv6 rejected
	}
	for _, tc := range cases {
		if got := IsOriginAllowed(tc.ip, platform.Telegram); got != tc.want {
			t.Fatalf("IsOriginAllowed(%q, telegram) = %v, want %v", tc.ip, got, tc.want)
		}
	}
}

func TestIsOriginAllowed_MetaRanges(t *testing.T) {
	if !IsOriginAllowed("157.240.1.1", platform.Messenger) {
		t.Fatalf("Meta range address rejected")
	}
	if IsOriginAllowed("157.240.1.1", platform.Telegram) {
		t.Fatalf("Meta address accepted for telegram")
	}
}

func TestClientIP_ProxyHeaders(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/telegram/ch1", nil)
	r.RemoteAddr = "10.0.0.5:4444"
	r.Header.Set("X-Forwarded-For", "149.154.160.9, 10.0.0.5")

	if got := ClientIP(r, true); got != "149.154.160.9" {
		t.Fatalf("ClientIP with trusted proxy = %q, want first XFF hop", got)
	}
	if got := ClientIP(r, false); got != "10.0.0.5" {
		t.Fatalf("ClientIP without proxy trust = %q, want socket address", got)
	}
}

func TestClientIP_RealIPFallback(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "10.0.0.5:4444"
	r.Header.Set("X-Real-Ip", "91.108.4.20")

	if got := ClientIP(r, true); got != "91.108.4.20" {
		t.Fatalf("ClientIP = %q, want X-Real-Ip value", got)
	}
}
