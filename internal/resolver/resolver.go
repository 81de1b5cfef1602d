package resolver

import (
	"net"
	"regexp"
	"strings"
)

// Kind classifies what a request host resolves to
type Kind int

const (
	// KindNone means the main domain, an unknown domain or an
	// unparseable host: the request proceeds without tenant context
	KindNone Kind = iota
	// KindReserved means a system subdomain (auth, api, admin, ...)
	KindReserved
	// KindTenant means a candidate tenant slug to look up
	KindTenant
)

// Resolution is the outcome of resolving a request host
type Resolution struct {
	Kind Kind
	// Name is the reserved name or candidate tenant slug, lowercased.
	// Empty for KindNone.
	Name string
}

// reservedNames are subdomains that can never be tenant slugs
var reservedNames = map[string]bool{
	"www":       true,
	"app":       true,
	"api":       true,
	"auth":      true,
	"admin":     true,
	"login":     true,
	"signup":    true,
	"dashboard": true,
	"billing":   true,
	"status":    true,
	"docs":      true,
	"help":      true,
	"support":   true,
	"blog":      true,
	"mail":      true,
	"cdn":       true,
	"assets":    true,
	"static":    true,
	"staging":   true,
	"internal":  true,
}

// slugPattern matches valid tenant slugs: lowercase alphanumeric with
// non-leading/trailing hyphens, max 63 chars (DNS label)
var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Resolver resolves request hosts against a configured base domain.
// It is pure and safe for concurrent use.
type Resolver struct {
	baseDomain string
}

// New creates a Resolver for the given base domain (e.g. "projectpulse.app")
func New(baseDomain string) *Resolver {
	return &Resolver{baseDomain: strings.ToLower(strings.TrimSuffix(baseDomain, "."))}
}

// Resolve classifies the host of an incoming request. It never fails:
// anything it cannot interpret resolves to KindNone.
func (r *Resolver) Resolve(host string) Resolution {
	host = normalizeHost(host)
	if host == "" || r.baseDomain == "" {
		return Resolution{Kind: KindNone}
	}

	if host == r.baseDomain {
		return Resolution{Kind: KindNone}
	}

	sub, ok := strings.CutSuffix(host, "."+r.baseDomain)
	if !ok || sub == "" {
		// Unknown domain entirely; treat as the main domain
		return Resolution{Kind: KindNone}
	}
	if strings.Contains(sub, ".") {
		// Nested subdomains are not tenant slugs
		return Resolution{Kind: KindNone}
	}

	if reservedNames[sub] {
		return Resolution{Kind: KindReserved, Name: sub}
	}
	if !slugPattern.MatchString(sub) {
		return Resolution{Kind: KindNone}
	}
	return Resolution{Kind: KindTenant, Name: sub}
}

// IsReserved reports whether a name can never be used as a tenant slug
func IsReserved(name string) bool {
	return reservedNames[strings.ToLower(name)]
}

// normalizeHost strips the port and lowercases the host
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
