// Package urlguard rejects URLs that are malformed, use a disallowed scheme or
// point at a private or loopback network. The check is pure and runs before
// any outbound fetch.
package urlguard

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrMalformedURL       = errors.New("malformed URL")
	ErrProtocolNotAllowed = errors.New("protocol not allowed")
	ErrPrivateNetwork     = errors.New("private network address not allowed")
)

// ValidationError describes why a URL was rejected
type ValidationError struct {
	URL    string
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid url %q: %v", e.URL, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// ValidURL is a URL that passed validation. Raw is the caller's input unchanged.
type ValidURL struct {
	Raw string
	URL *url.URL
}

func (v ValidURL) String() string {
	return v.Raw
}

var privateIPv4Blocks = mustParseCIDRs(
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
)

// IPv6 unique-local (fc00::/7) and link-local (fe80::/10) as text prefixes
var privateIPv6Prefixes = []string{"fc", "fd", "fe8", "fe9", "fea", "feb"}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Errorf("parse error on %q: %v", cidr, err))
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// Guard validates URLs. The zero value enforces every rule.
type Guard struct {
	// AllowPrivate disables the private-network checks. Only tests that talk
	// to loopback servers should set it.
	AllowPrivate bool
}

// Validate checks rawURL with the default Guard
func Validate(rawURL string) (ValidURL, error) {
	return Guard{}.Validate(rawURL)
}

// Validate returns the parsed URL or a *ValidationError
func (g Guard) Validate(rawURL string) (ValidURL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ValidURL{}, &ValidationError{URL: rawURL, Reason: ErrMalformedURL}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ValidURL{}, &ValidationError{URL: rawURL, Reason: ErrProtocolNotAllowed}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ValidURL{}, &ValidationError{URL: rawURL, Reason: ErrMalformedURL}
	}

	if !g.AllowPrivate && IsPrivateHost(host) {
		return ValidURL{}, &ValidationError{URL: rawURL, Reason: ErrPrivateNetwork}
	}

	return ValidURL{Raw: rawURL, URL: u}, nil
}

// IsPrivateHost reports whether a hostname (without brackets or port) names a
// loopback, link-local or private address. Only literal addresses and the
// reserved names are matched; no DNS lookup is made.
func IsPrivateHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")

	if host == "localhost" || host == "::1" || strings.HasSuffix(host, ".local") {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return inBlocks(ip4, privateIPv4Blocks)
		}
		if ip.IsLoopback() {
			return true
		}
	}

	// Textual IPv6 match so that zone suffixes and unusual spellings are caught
	if strings.Contains(host, ":") {
		for _, prefix := range privateIPv6Prefixes {
			if strings.HasPrefix(host, prefix) {
				return true
			}
		}
	}

	return false
}

func inBlocks(ip net.IP, blocks []*net.IPNet) bool {
	for _, block := range blocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
