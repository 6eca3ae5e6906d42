package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPExtractor derives the client IP. X-Forwarded-For is only read
// when the direct peer is a trusted proxy; otherwise RemoteAddr is used.
type ClientIPExtractor struct {
	trusted []*net.IPNet
}

// NewClientIPExtractor parses trusted proxy CIDRs or single IPs. Invalid
// entries are skipped; config validation reports them.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	nets := make([]*net.IPNet, 0, len(trustedProxies))
	for _, p := range trustedProxies {
		if _, cidr, err := net.ParseCIDR(p); err == nil {
			nets = append(nets, cidr)
			continue
		}
		ip := net.ParseIP(p)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return &ClientIPExtractor{trusted: nets}
}

// Extract returns the client IP for r. Forwarded chains are walked right
// to left and the first untrusted hop wins.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	if len(e.trusted) == 0 || !e.isTrusted(remote) {
		return remote
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !e.isTrusted(hop) {
			return hop
		}
	}
	return remote
}

func (e *ClientIPExtractor) isTrusted(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	for _, n := range e.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
