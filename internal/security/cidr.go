// Origin allow-listing.
//
// Each platform publishes the address ranges its webhook traffic originates
// from. When a channel has no signing secret, containment in one of these
// ranges is the only authentication left, so the check is mandatory there.
package security

import (
	"net"
	"net/http"
	"strings"

	"github.com/tbourn/go-inquiry-backend/internal/platform"
)

// ipRange is one parsed CIDR block: (ip & mask) == base identifies members.
type ipRange struct {
	base uint32
	mask uint32
}

// Published webhook source ranges per platform. LINE and the Meta family
// normally authenticate by signature; their ranges exist for deployments
// that run without a configured secret.
var platformRanges = map[platform.Platform][]ipRange{
	platform.LINE: mustRanges(
		"147.92.128.0/17",
	),
	platform.Messenger: mustRanges(
		"31.13.24.0/21",
		"31.13.64.0/18",
		"66.220.144.0/20",
		"69.63.176.0/20",
		"157.240.0.0/16",
		"173.252.64.0/18",
	),
	platform.Instagram: mustRanges(
		"31.13.24.0/21",
		"31.13.64.0/18",
		"66.220.144.0/20",
		"69.63.176.0/20",
		"157.240.0.0/16",
		"173.252.64.0/18",
	),
	platform.Telegram: mustRanges(
		"149.154.160.0/20",
		"91.108.4.0/22",
	),
}

// IsOriginAllowed reports whether clientIP parses as IPv4 and falls inside
// one of the platform's published CIDR ranges. Unparseable and non-IPv4
// addresses are rejected.
func IsOriginAllowed(clientIP string, p platform.Platform) bool {
	ip, ok := parseIPv4(clientIP)
	if !ok {
		return false
	}
	for _, r := range platformRanges[p] {
		if ip&r.mask == r.base {
			return true
		}
	}
	return false
}

// ClientIP extracts the caller address, preferring the trusted proxy header
// chain (first X-Forwarded-For hop, then X-Real-Ip) and falling back to the
// socket address. trustProxy must be false when the service is exposed
// directly, otherwise any caller could spoof its origin.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
			if first != "" {
				return first
			}
		}
		if rip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); rip != "" {
			return rip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseIPv4 converts a dotted-quad address to its uint32 form.
func parseIPv4(s string) (uint32, bool) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}

// mustRanges parses CIDR literals at package init; the inputs are constants,
// so a failure is a programming error.
func mustRanges(cidrs ...string) []ipRange {
	out := make([]ipRange, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			panic("security: bad CIDR literal " + c)
		}
		base, ok := parseIPv4(ipnet.IP.String())
		if !ok {
			panic("security: non-IPv4 CIDR literal " + c)
		}
		ones, _ := ipnet.Mask.Size()
		var mask uint32
		if ones > 0 {
			mask = ^uint32(0) << (32 - uint32(ones))
		}
		out = append(out, ipRange{base: base & mask, mask: mask})
	}
	return out
}
