package validate

import (
	"testing"

	"github.com/ppiankov/doppelcheck/internal/model"
)

func TestSourceClassifier_Tier(t *testing.T) {
	config := &model.AuthorityConfig{
		PrimaryDomains:   []string{"legislation.gov.uk", "doi.org"},
		SecondaryDomains: []string{"wikipedia.org", "reuters.com"},
		DomainMap:        map[string]string{"blog.reuters.com": "tertiary"},
		PathPatterns: []model.PathPattern{
			{Pattern: `^/papers/`, Tier: "primary"},
			{Pattern: `(`, Tier: "primary"}, // invalid, skipped
		},
	}
	classifier := NewSourceClassifier(config, "https://news.example.com/story")

	tests := []struct {
		url      string
		expected model.AuthorityTier
		desc     string
	}{
		{"https://legislation.gov.uk/ukpga/1998/42", model.TierPrimary, "primary exact"},
		{"https://www.legislation.gov.uk/statute", model.TierPrimary, "primary with www"},
		{"https://doi.org/10.1234/example", model.TierPrimary, "doi"},
		{"https://en.wikipedia.org/wiki/Go", model.TierSecondary, "secondary subdomain"},
		{"https://blog.reuters.com/post", model.TierTertiary, "domain map overrides suffix"},
		{"https://example.org/papers/1.pdf", model.TierPrimary, "path pattern"},
		{"https://data.census.gov/table", model.TierPrimary, "gov TLD"},
		{"https://www.ox.ac.uk/research", model.TierPrimary, "ac.uk"},
		{"https://someblog.example/post", model.TierTertiary, "default"},
		{"not a url", model.TierUnknown, "unparseable"},
		{"https://NOTWIKIPEDIA.org/x", model.TierTertiary, "suffix must be on a label boundary"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := classifier.Tier(tt.url); got != tt.expected {
				t.Errorf("Expected %v for %s, got %v", tt.expected, tt.url, got)
			}
		})
	}
}

func TestSourceClassifier_SameHost(t *testing.T) {
	classifier := NewSourceClassifier(nil, "https://www.news.example.com:443/story")

	tests := []struct {
		url  string
		want bool
	}{
		{"https://news.example.com/other", true},
		{"http://www.news.example.com/x", true},
		{"https://live.news.example.com/feed", true},
		{"https://example.com/", true},
		{"https://othernews.example.org/", false},
		{"https://news.example.com.evil.org/", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := classifier.SameHost(tt.url); got != tt.want {
			t.Errorf("SameHost(%q): expected %v, got %v", tt.url, tt.want, got)
		}
	}

	if NewSourceClassifier(nil, "").SameHost("https://news.example.com/") {
		t.Error("Expected no same-host match without a page URL")
	}
}

func TestSourceClassifier_DefaultConfig(t *testing.T) {
	classifier := NewSourceClassifier(nil, "https://news.example.com/")

	tier, same := classifier.Classify("https://de.wikipedia.org/wiki/Wasser")
	if tier != model.TierSecondary || same {
		t.Errorf("Expected secondary / not same host, got %v / %v", tier, same)
	}
}

func TestParseTier(t *testing.T) {
	tests := map[string]model.AuthorityTier{
		"primary":    model.TierPrimary,
		" Secondary": model.TierSecondary,
		"1":          model.TierPrimary,
		"2":          model.TierSecondary,
		"whatever":   model.TierTertiary,
	}
	for in, want := range tests {
		if got := ParseTier(in); got != want {
			t.Errorf("ParseTier(%q): expected %v, got %v", in, want, got)
		}
	}
}
