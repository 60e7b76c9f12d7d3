package tools

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// checkSSRF rejects URLs that resolve to private, loopback, or link-local
// addresses. Called on the initial URL and on every redirect target.
func checkSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("localhost is not allowed")
	}

	// Literal IPs are checked directly; hostnames are resolved so DNS
	// rebinding to an internal address is caught before the request.
	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address %s is not allowed", ip)
	case ip.IsPrivate():
		return fmt.Errorf("private address %s is not allowed", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address %s is not allowed", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address %s is not allowed", ip)
	}
	return nil
}
