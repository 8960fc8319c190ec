package outbox

import (
	"fmt"
	"net"
	"net/url"
)

// ErrBlockedDestination is returned when a destination resolves to a
// disallowed host; delivery treats this as terminal and does not retry.
var ErrBlockedDestination = fmt.Errorf("blocked_destination")

// checkSSRF resolves target's host and rejects loopback, link-local,
// multicast, and unspecified addresses, plus RFC1918 private ranges,
// unless the resolved IP falls within one of cfg.AllowedCIDRs.
func checkSSRF(target string, cfg SSRFConfig) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse destination url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return ErrBlockedDestination
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve destination host: %w", err)
	}

	allowed := parseCIDRs(cfg.AllowedCIDRs)

	for _, ip := range ips {
		if isWhitelisted(ip, allowed) {
			continue
		}
		if isBlockedIP(ip) {
			return ErrBlockedDestination
		}
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		ip.IsPrivate()
}

func isWhitelisted(ip net.IP, cidrs []*net.IPNet) bool {
	for _, cidr := range cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func parseCIDRs(raw []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(raw))
	for _, c := range raw {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		nets = append(nets, ipnet)
	}
	return nets
}
