package identity

import (
	"net"
	"strings"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

// Attribute weights for fingerprint similarity. The subnet carries the
// most signal; device class the least. Renormalized over the attributes
// both fingerprints actually have, so sparse fingerprints still compare.
const (
	weightSubnet  = 0.40
	weightBrowser = 0.25
	weightOS      = 0.20
	weightDevice  = 0.15
)

// NewFingerprint builds a fingerprint from raw visit attributes,
// coarsening the IP to its /24 subnet.
func NewFingerprint(ip, browserFamily, os, deviceClass string) domain.Fingerprint {
	return domain.Fingerprint{
		IPSubnet:      SubnetOf(ip),
		BrowserFamily: normalizeAttr(browserFamily),
		OS:            normalizeAttr(os),
		DeviceClass:   normalizeAttr(deviceClass),
	}
}

// SubnetOf coarsens an IPv4 address to its /24 network (last octet
// zeroed). IPv6 and unparsable addresses pass through unchanged.
func SubnetOf(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return strings.TrimSpace(ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return parsed.String()
	}
	return net.IPv4(v4[0], v4[1], v4[2], 0).String()
}

func normalizeAttr(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity scores two fingerprints in [0, 1]: the weighted share of
// matching attributes among those populated on both sides. Two
// fingerprints with no comparable attributes score zero.
func Similarity(a, b domain.Fingerprint) float64 {
	type attrPair struct {
		left, right string
		weight      float64
	}
	pairs := []attrPair{
		{a.IPSubnet, b.IPSubnet, weightSubnet},
		{a.BrowserFamily, b.BrowserFamily, weightBrowser},
		{a.OS, b.OS, weightOS},
		{a.DeviceClass, b.DeviceClass, weightDevice},
	}

	var matched, comparable float64
	for _, p := range pairs {
		if p.left == "" || p.right == "" {
			continue
		}
		comparable += p.weight
		if p.left == p.right {
			matched += p.weight
		}
	}
	if comparable == 0 {
		return 0
	}
	return matched / comparable
}
