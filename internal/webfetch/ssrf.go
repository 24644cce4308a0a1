// Package webfetch implements the hardened retrieval pipeline behind the web
// fetch tool: SSRF defense, robots compliance, bounded redirects, content
// extraction, revalidation, and concurrency gates.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBlockedByPolicy marks refusals that stem from configuration or safety
// policy rather than upstream failure.
var ErrBlockedByPolicy = errors.New("blocked by policy")

func policyErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBlockedByPolicy, fmt.Sprintf(format, args...))
}

// cgnat is the RFC 6598 shared address space, not covered by net.IP helpers.
var cgnat = func() *net.IPNet {
	_, n, _ := net.ParseCIDR("100.64.0.0/10")
	return n
}()

// isReservedIP classifies addresses the fetcher must never connect to:
// loopback, RFC1918/ULA private, link-local, CGNAT, and unspecified.
func isReservedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsUnspecified() ||
		cgnat.Contains(ip)
}

// checkURL validates scheme, credentials, and the host lists. It runs on the
// initial URL and again on every redirect hop.
func checkURL(u *url.URL, allow, block []string) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return policyErrorf("unsupported scheme %q", u.Scheme)
	}
	if u.User != nil {
		return policyErrorf("credentials in URL are not allowed")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return policyErrorf("URL has no host")
	}
	if host == "localhost" {
		return policyErrorf("private or loopback address %q", host)
	}
	if len(allow) > 0 && !hostInList(host, allow) {
		return policyErrorf("host %q is not allowlisted", host)
	}
	if hostInList(host, block) {
		return policyErrorf("host %q is blocklisted", host)
	}
	return nil
}

// hostInList matches a host exactly or as a subdomain of a listed pattern.
func hostInList(host string, list []string) bool {
	for _, pattern := range list {
		if host == pattern || strings.HasSuffix(host, "."+pattern) {
			return true
		}
	}
	return false
}

// resolveAndCheck resolves host and rejects any private or reserved address.
// Literal IPs are checked without a lookup.
func resolveAndCheck(ctx context.Context, resolver *net.Resolver, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isReservedIP(ip) {
			return policyErrorf("private or loopback address %q", host)
		}
		return nil
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", host, err)
	}
	for _, addr := range addrs {
		if isReservedIP(addr.IP) {
			return policyErrorf("private or loopback address %q resolved for %q", addr.IP, host)
		}
	}
	return nil
}
