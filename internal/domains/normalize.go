// Package domains validates domain names, enforces per-license domain
// policy and proves domain ownership by DNS TXT record or well-known file.
package domains

import (
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// Normalize reduces raw user input to the canonical stored form: no scheme,
// userinfo, port, path, query or fragment, lower-case ASCII, no leading
// "www." and no trailing dot. Internationalized names are converted to
// punycode. Normalize does not validate; pass the result to IsValidDomain.
func Normalize(raw string) string {
	host := strings.TrimSpace(raw)
	if host == "" {
		return ""
	}

	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	} else {
		host = strings.TrimPrefix(host, "//")
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	host = stripPort(host)

	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")

	if !isASCII(host) {
		if ascii, err := idna.Lookup.ToASCII(host); err == nil {
			host = ascii
		}
	}
	return host
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
		return strings.Trim(host, "[]")
	}
	// A bare IPv6 literal has several colons and no port.
	if strings.Count(host, ":") == 1 {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
	}
	return host
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
