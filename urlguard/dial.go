package urlguard

import (
	"context"
	"fmt"
	"net"
)

var dialBlocks = mustParseCIDRs(
	"0.0.0.0/8",
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

// IsPrivateIP reports whether a resolved address must not be dialed
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	return inBlocks(ip, dialBlocks)
}

// DialContext wraps dialer so that hostnames resolving to private addresses
// are refused at connect time. This closes the gap between Validate, which
// only sees the hostname, and DNS answers pointing inside the network.
func (g Guard) DialContext(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	if g.AllowPrivate {
		return dialer.DialContext
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}

		var safeIP net.IP
		for _, a := range addrs {
			if !IsPrivateIP(a.IP) {
				safeIP = a.IP
				break
			}
		}

		if safeIP == nil {
			return nil, fmt.Errorf("blocked connection to private/local IP for %s: %w", host, ErrPrivateNetwork)
		}

		// Dial the IP directly so the answer cannot change between check and connect
		return dialer.DialContext(ctx, network, net.JoinHostPort(safeIP.String(), port))
	}
}
