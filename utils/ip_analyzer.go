package utils

import (
	"net"
	"net/http"
	"strings"
)

// IPResolver extracts the caller address, trusting forwarding headers only
// when the immediate peer sits inside a trusted proxy range.
type IPResolver struct {
	trusted []*net.IPNet
}

var defaultTrustedProxies = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
}

func CreateIPResolver(trustedCIDRs ...string) *IPResolver {
	if len(trustedCIDRs) == 0 {
		trustedCIDRs = defaultTrustedProxies
	}

	ir := &IPResolver{}
	for _, block := range trustedCIDRs {
		if _, network, err := net.ParseCIDR(block); err == nil {
			ir.trusted = append(ir.trusted, network)
		}
	}
	return ir
}

func (ir *IPResolver) ClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}

	if !ir.isTrusted(net.ParseIP(peer)) {
		return peer
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(real) != nil {
		return real
	}
	return peer
}

func (ir *IPResolver) isTrusted(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, network := range ir.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func IsValidIP(ip string) bool {
	return net.ParseIP(strings.TrimSpace(ip)) != nil
}
