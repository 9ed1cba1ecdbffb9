package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
)

// Detector resolves client addresses and flags requests that look like probes.
type Detector struct {
	suspicious     int64
	trustedProxies []*net.IPNet
}

// NewDetector trusts forwarding headers from loopback and private networks.
func NewDetector() *Detector {
	return &Detector{
		trustedProxies: []*net.IPNet{
			parseCIDR("127.0.0.0/8"),
			parseCIDR("::1/128"),
			parseCIDR("10.0.0.0/8"),
			parseCIDR("172.16.0.0/12"),
			parseCIDR("192.168.0.0/16"),
		},
	}
}

func parseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

var suspiciousPatterns = []string{
	"../", "..\\", ".env", "wp-admin", "phpmyadmin",
	".git", ".ssh", "<script", "union select", "etc/passwd",
}

var suspiciousAgents = []string{"sqlmap", "nmap", "nikto", "gobuster", "dirb"}

// DetectSuspiciousRequest reports whether r looks like a scanner or traversal
// attempt. Detection only feeds logging; nothing is blocked.
func (d *Detector) DetectSuspiciousRequest(r *http.Request) bool {
	path := strings.ToLower(r.URL.Path)
	query := strings.ToLower(r.URL.RawQuery)
	agent := strings.ToLower(r.Header.Get("User-Agent"))

	suspicious := len(r.URL.String()) > 2048 ||
		r.Method == http.MethodTrace ||
		r.Method == http.MethodConnect
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(path, pattern) || strings.Contains(query, pattern) {
			suspicious = true
			break
		}
	}
	for _, a := range suspiciousAgents {
		if strings.Contains(agent, a) {
			suspicious = true
			break
		}
	}

	if suspicious {
		atomic.AddInt64(&d.suspicious, 1)
	}
	return suspicious
}

// SuspiciousRequests returns how many requests were flagged so far.
func (d *Detector) SuspiciousRequests() int64 {
	return atomic.LoadInt64(&d.suspicious)
}

// ExtractClientIP returns the caller's address. Forwarding headers are only
// honored when the direct peer is a trusted proxy.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsedDirectIP := net.ParseIP(directIP)
	if parsedDirectIP == nil || !d.isTrustedProxy(parsedDirectIP) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); net.ParseIP(clientIP) != nil {
			return clientIP
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
