package topology

import (
	"encoding/hex"
	"fmt"
	"strings"

	"inet.af/netaddr"
)

// rootAliasSuffix marks the reserved root address that never joins the graph.
const rootAliasSuffix = "::1a"

var (
	loopback  = netaddr.IPv6Raw([16]byte{15: 0x01})
	rootAlias = netaddr.IPv6Raw([16]byte{0: 0xfe, 1: 0x80, 15: 0x01})
)

// Normalizer canonicalizes addresses before they key the topology and
// decides which addresses take part in it.
type Normalizer struct {
	site    netaddr.IPPrefix
	exclude []netaddr.IPPrefix
}

// NewNormalizer parses the site prefix rewritten to link-local and the
// prefixes excluded from the topology. An empty sitePrefix disables the
// rewrite.
func NewNormalizer(sitePrefix string, exclude []string) (*Normalizer, error) {
	n := &Normalizer{}
	if sitePrefix != "" {
		p, err := netaddr.ParseIPPrefix(sitePrefix)
		if err != nil {
			return nil, fmt.Errorf("site prefix: %w", err)
		}
		if !p.IP().Is6() || p.Bits() > 64 {
			return nil, fmt.Errorf("site prefix %s must be IPv6 and at most /64", p)
		}
		n.site = p.Masked()
	}
	for _, s := range exclude {
		p, err := netaddr.ParseIPPrefix(s)
		if err != nil {
			return nil, fmt.Errorf("exclude prefix: %w", err)
		}
		n.exclude = append(n.exclude, p.Masked())
	}
	return n, nil
}

// Format renders a 32-hex-digit address (or any parseable IP text) in IPv6
// shorthand. Input that does not parse is returned unchanged.
func (n *Normalizer) Format(addr string) string {
	ip, ok := parse(addr)
	if !ok {
		return addr
	}
	return ip.String()
}

// Normalize formats addr and moves it from the site prefix into fe80::/64,
// yielding the key a Node is stored under.
func (n *Normalizer) Normalize(addr string) string {
	ip, ok := parse(addr)
	if !ok {
		return addr
	}
	if !n.site.IsZero() && n.site.Contains(ip) {
		a := ip.As16()
		copy(a[:8], []byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0})
		ip = netaddr.IPv6Raw(a)
	}
	return ip.String()
}

// Excluded reports whether a normalized address stays out of the topology:
// empty or malformed input, loopback, the root alias fe80::1, any address
// ending in ::1a, and the configured exclude prefixes.
func (n *Normalizer) Excluded(addr string) bool {
	if addr == "" || strings.HasSuffix(addr, rootAliasSuffix) {
		return true
	}
	ip, ok := parse(addr)
	if !ok {
		return true
	}
	if ip == loopback || ip == rootAlias {
		return true
	}
	for _, p := range n.exclude {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func parse(addr string) (netaddr.IP, bool) {
	if addr == "" {
		return netaddr.IP{}, false
	}
	if len(addr) == 32 {
		var a [16]byte
		if _, err := hex.Decode(a[:], []byte(addr)); err == nil {
			return netaddr.IPv6Raw(a), true
		}
	}
	ip, err := netaddr.ParseIP(addr)
	if err != nil {
		return netaddr.IP{}, false
	}
	return ip, true
}
