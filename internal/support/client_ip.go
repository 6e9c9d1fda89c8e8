package support

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"msggrabber/internal/ipmatch"
)

// ParseTrustedProxies parses a comma separated list of addresses and CIDR
// blocks. An empty list yields nil, which trusts no peer.
func ParseTrustedProxies(value string) (*ipmatch.Range, error) {
	var members []ipmatch.Range
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := ipmatch.ParseRange(part)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", part, err)
		}
		members = append(members, r)
	}
	if len(members) == 0 {
		return nil, nil
	}
	g := ipmatch.Group(members...)
	return &g, nil
}

// ClientIP returns the address of the peer that sent r. X-Forwarded-For is
// only consulted when that peer is inside trusted; the header is then walked
// from the right and the first hop outside trusted is the client.
func ClientIP(r *http.Request, trusted *ipmatch.Range) string {
	remote := remoteHost(r.RemoteAddr)
	if trusted == nil || !isTrusted(remote, trusted) {
		return remote
	}

	hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		if !isTrusted(hops[i], trusted) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return remote
}

func forwardedHops(headers []string) []string {
	var hops []string
	for _, h := range headers {
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}

func isTrusted(text string, trusted *ipmatch.Range) bool {
	ip, err := ipmatch.ParseAddress(text)
	if err != nil {
		return false
	}
	return ipmatch.Admits(trusted, ip)
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
