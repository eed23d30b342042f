package domains

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

var hostnamePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*$`)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Info describes a normalized domain.
type Info struct {
	Domain     string `json:"domain"`
	RootDomain string `json:"root_domain"`
	Subdomain  string `json:"subdomain,omitempty"`
	Suffix     string `json:"suffix"`
	IsLocal    bool   `json:"is_local"`
	IsIP       bool   `json:"is_ip"`
	Valid      bool   `json:"valid"`
}

// Validator checks domain format and locality. It keeps no state between calls.
type Validator struct {
	localSuffixes []string
	resolver      Resolver
	timeout       time.Duration
	logger        *slog.Logger
}

// NewValidator returns a validator treating names under localSuffixes as
// development domains. A nil resolver disables resolution-based locality.
func NewValidator(localSuffixes []string, resolver Resolver, timeout time.Duration, logger *slog.Logger) *Validator {
	suffixes := make([]string, 0, len(localSuffixes))
	for _, s := range localSuffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		suffixes = append(suffixes, s)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		localSuffixes: suffixes,
		resolver:      resolver,
		timeout:       timeout,
		logger:        logger.With("component", "domain_validator"),
	}
}

// IsValidDomain reports whether domain, already normalized, is an acceptable
// host name. Public names must end in a known suffix; local names and
// private or loopback IP literals skip that check.
func (v *Validator) IsValidDomain(domain string) bool {
	if domain == "" || len(domain) > maxDomainLength {
		return false
	}

	if addr, err := netip.ParseAddr(domain); err == nil {
		return isLocalAddr(addr)
	}

	if !hostnamePattern.MatchString(domain) {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > maxLabelLength {
			return false
		}
	}

	if v.IsLocalDomain(domain) {
		return true
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	return hasKnownSuffix(domain)
}

// IsLocalDomain reports whether domain is a development name: localhost, a
// configured local suffix, or a loopback, private or unique-local address.
func (v *Validator) IsLocalDomain(domain string) bool {
	if domain == "localhost" {
		return true
	}
	if addr, err := netip.ParseAddr(domain); err == nil {
		return isLocalAddr(addr)
	}
	for _, suffix := range v.localSuffixes {
		if strings.HasSuffix(domain, suffix) || domain == strings.TrimPrefix(suffix, ".") {
			return true
		}
	}
	return false
}

// ResolvesLocal reports whether every address domain resolves to is local.
// Resolution failures and timeouts report false.
func (v *Validator) ResolvesLocal(ctx context.Context, domain string) bool {
	if v.resolver == nil {
		return false
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	addrs, err := v.resolver.LookupNetIP(ctx, "ip", domain)
	if err != nil || len(addrs) == 0 {
		v.logger.DebugContext(ctx, "domain resolution failed", "domain", domain, "error", err)
		return false
	}
	for _, addr := range addrs {
		if !isLocalAddr(addr) {
			return false
		}
	}
	return true
}

// GetDomainInfo splits domain into its registrable root, subdomain part and
// public suffix.
func (v *Validator) GetDomainInfo(domain string) Info {
	info := Info{
		Domain:  domain,
		Valid:   v.IsValidDomain(domain),
		IsLocal: v.IsLocalDomain(domain),
	}

	if _, err := netip.ParseAddr(domain); err == nil {
		info.IsIP = true
		info.RootDomain = domain
		return info
	}

	suffix, _ := publicsuffix.PublicSuffix(domain)
	info.Suffix = suffix

	root, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		// Single labels and bare suffixes are their own root.
		info.RootDomain = domain
		return info
	}
	info.RootDomain = root
	if domain != root {
		info.Subdomain = strings.TrimSuffix(domain, "."+root)
	}
	return info
}

// RootDomain returns the registrable root of domain.
func (v *Validator) RootDomain(domain string) string {
	return v.GetDomainInfo(domain).RootDomain
}

func hasKnownSuffix(domain string) bool {
	suffix, icann := publicsuffix.PublicSuffix(domain)
	if icann {
		return true
	}
	// Privately managed suffixes such as github.io are listed with a dot;
	// an unlisted TLD comes back as the bare last label.
	return strings.Contains(suffix, ".")
}

func isLocalAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}

var _ Resolver = (*net.Resolver)(nil)
