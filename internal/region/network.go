package region

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Classifier reports whether a client address belongs to the domestic
// network. Real geolocation is an external concern; deployments configure
// the relevant prefixes directly.
type Classifier struct {
	prefixes []netip.Prefix
}

// NewClassifier parses a comma-separated list of CIDR prefixes.
// Bare addresses are accepted as single-host prefixes.
func NewClassifier(cidrs string) (*Classifier, error) {
	c := &Classifier{}
	for _, raw := range strings.Split(cidrs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("parse domestic address %q: %w", raw, err)
			}
			c.prefixes = append(c.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("parse domestic prefix %q: %w", raw, err)
		}
		c.prefixes = append(c.prefixes, p.Masked())
	}
	return c, nil
}

// Classify returns nil when nothing is configured or remoteAddr cannot be
// parsed, so that the caller falls through to the next signal. remoteAddr
// may carry a port.
func (c *Classifier) Classify(remoteAddr string) *bool {
	if c == nil || len(c.prefixes) == 0 {
		return nil
	}
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	addr = addr.Unmap()

	domestic := false
	for _, p := range c.prefixes {
		if p.Contains(addr) {
			domestic = true
			break
		}
	}
	return &domestic
}
