package support

import (
	"net/http/httptest"
	"testing"

	"msggrabber/internal/ipmatch"
)

func TestClientIPWithoutTrustedProxies(t *testing.T) {
	req := httptest.NewRequest("GET", "/in", nil)
	req.RemoteAddr = "203.0.113.9:4444"
	req.Header.Set("X-Forwarded-For", "10.1.2.5, 203.0.113.9")

	if got := ClientIP(req, nil); got != "203.0.113.9" {
		t.Fatalf("ClientIP returned %s, want 203.0.113.9", got)
	}

	req.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientIP(req, nil); got != "2001:db8::1" {
		t.Fatalf("ClientIP returned %s, want 2001:db8::1", got)
	}

	req.RemoteAddr = "bare"
	if got := ClientIP(req, nil); got != "bare" {
		t.Fatalf("ClientIP returned %s, want bare", got)
	}
}

func TestClientIPIgnoresHeaderFromUntrustedPeer(t *testing.T) {
	trusted := ipmatch.MustParseRange("192.0.2.0/24")

	req := httptest.NewRequest("GET", "/in", nil)
	req.RemoteAddr = "203.0.113.9:4444"
	req.Header.Set("X-Forwarded-For", "10.1.2.5")

	if got := ClientIP(req, &trusted); got != "203.0.113.9" {
		t.Fatalf("ClientIP returned %s, want 203.0.113.9", got)
	}
}

func TestClientIPWalksTrustedHops(t *testing.T) {
	trusted, err := ParseTrustedProxies("192.0.2.0/24, 198.51.100.7")
	if err != nil {
		t.Fatalf("ParseTrustedProxies returned error: %v", err)
	}

	cases := []struct {
		name    string
		headers []string
		want    string
	}{
		{"single hop", []string{"203.0.113.9"}, "203.0.113.9"},
		{"spoofed left entry", []string{"10.1.2.5, 203.0.113.9"}, "203.0.113.9"},
		{"trusted hops skipped", []string{"10.1.2.5, 203.0.113.9, 198.51.100.7"}, "203.0.113.9"},
		{"repeated headers", []string{"10.1.2.5", "203.0.113.9, 192.0.2.44"}, "203.0.113.9"},
		{"all trusted", []string{"192.0.2.10, 198.51.100.7"}, "192.0.2.10"},
		{"malformed hop", []string{"10.1.2.5, not-an-ip"}, "not-an-ip"},
		{"no header", nil, "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/in", nil)
			req.RemoteAddr = "192.0.2.1:1234"
			for _, h := range tc.headers {
				req.Header.Add("X-Forwarded-For", h)
			}
			if got := ClientIP(req, trusted); got != tc.want {
				t.Fatalf("ClientIP returned %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	r, err := ParseTrustedProxies(" ")
	if err != nil || r != nil {
		t.Fatalf("ParseTrustedProxies(blank) returned %v, %v; want nil, nil", r, err)
	}
	if _, err := ParseTrustedProxies("192.0.2.0/24, bogus"); err == nil {
		t.Fatal("ParseTrustedProxies accepted a malformed entry")
	}
}
