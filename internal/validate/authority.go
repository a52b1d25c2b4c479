// Package validate classifies where a retrieved source comes from.
package validate

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/ppiankov/doppelcheck/internal/model"
)

// SourceClassifier assigns authority tiers to source URLs and flags sources
// hosted on the checked page's own site.
type SourceClassifier struct {
	domainMap map[string]model.AuthorityTier
	primary   []string
	secondary []string
	patterns  []compiledPattern
	pageHost  string
}

type compiledPattern struct {
	re   *regexp.Regexp
	tier model.AuthorityTier
}

// NewSourceClassifier creates a classifier for sources of pageURL.
// Invalid path patterns are skipped.
func NewSourceClassifier(cfg *model.AuthorityConfig, pageURL string) *SourceClassifier {
	if cfg == nil {
		cfg = &model.DefaultConfig().Authority
	}

	c := &SourceClassifier{
		domainMap: make(map[string]model.AuthorityTier, len(cfg.DomainMap)),
		primary:   normalizeDomains(cfg.PrimaryDomains),
		secondary: normalizeDomains(cfg.SecondaryDomains),
		pageHost:  hostOf(pageURL),
	}
	for domain, tier := range cfg.DomainMap {
		c.domainMap[normalizeHost(domain)] = ParseTier(tier)
	}
	for _, p := range cfg.PathPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		c.patterns = append(c.patterns, compiledPattern{re: re, tier: ParseTier(p.Tier)})
	}
	return c
}

// Classify returns the tier of uri and whether it lives on the page's site
func (c *SourceClassifier) Classify(uri string) (model.AuthorityTier, bool) {
	return c.Tier(uri), c.SameHost(uri)
}

// Tier classifies uri. Lookup order: explicit domain map, primary and
// secondary domain suffixes, path patterns, institutional TLDs.
func (c *SourceClassifier) Tier(uri string) model.AuthorityTier {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return model.TierUnknown
	}
	host := normalizeHost(parsed.Host)

	if tier, ok := c.domainMap[host]; ok {
		return tier
	}
	if matchesAny(host, c.primary) {
		return model.TierPrimary
	}
	if matchesAny(host, c.secondary) {
		return model.TierSecondary
	}
	for _, p := range c.patterns {
		if p.re.MatchString(parsed.Path) {
			return p.tier
		}
	}
	for _, suffix := range []string{".gov", ".edu", ".mil", ".int", ".ac.uk", ".gov.uk"} {
		if strings.HasSuffix(host, suffix) {
			return model.TierPrimary
		}
	}
	return model.TierTertiary
}

// SameHost reports whether uri shares the checked page's registrable host,
// ignoring a leading "www." and the port
func (c *SourceClassifier) SameHost(uri string) bool {
	if c.pageHost == "" {
		return false
	}
	h := hostOf(uri)
	if h == "" {
		return false
	}
	return h == c.pageHost || strings.HasSuffix(h, "."+c.pageHost) || strings.HasSuffix(c.pageHost, "."+h)
}

// ParseTier converts a configured tier name
func ParseTier(tier string) model.AuthorityTier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "primary", "1":
		return model.TierPrimary
	case "secondary", "2":
		return model.TierSecondary
	default:
		return model.TierTertiary
	}
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return normalizeHost(parsed.Host)
}

func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return strings.TrimPrefix(host, "www.")
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = normalizeHost(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
