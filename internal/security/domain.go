package security

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a target URL cannot be parsed or has no host.
var ErrInvalidURL = errors.New("invalid URL")

// DomainAllowed reports whether domain is permitted by allowlist.
// An empty allowlist allows every domain. Entries match the domain itself
// and any of its subdomains: "example.com" allows "api.example.com" but
// not "notexample.com". Matching is case-insensitive.
func DomainAllowed(domain string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	host := normalizeDomain(domain)
	if host == "" {
		return false
	}
	for _, entry := range allowlist {
		if matchDomain(host, normalizeDomain(entry)) {
			return true
		}
	}
	return false
}

// HostOf extracts the lowercase hostname of rawURL.
func HostOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: empty hostname in %q", ErrInvalidURL, rawURL)
	}
	return host, nil
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

// matchDomain checks if host matches domain or is a subdomain of it.
func matchDomain(host, domain string) bool {
	if domain == "" {
		return false
	}
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
