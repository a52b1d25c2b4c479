package model

import "fmt"

// SourceKey addresses a source. Source ids are scoped to their keypoint.
type SourceKey struct {
	Keypoint int `json:"keypoint_id"`
	Source   int `json:"source_id"`
}

func (k SourceKey) String() string {
	return fmt.Sprintf("%d/%d", k.Keypoint, k.Source)
}

// SourceStage is the cross-check position of a single source
type SourceStage int

const (
	SourceUnchecked     SourceStage = iota // Retrieved, no cross-check requested
	SourceCrossChecking                    // Cross-check requested, rating streaming
	SourceRated                            // Rating stream finished
	SourceUnretrievable                    // Backend could not retrieve the document; terminal
)

var sourceStageNames = map[SourceStage]string{
	SourceUnchecked:     "unchecked",
	SourceCrossChecking: "cross_checking",
	SourceRated:         "rated",
	SourceUnretrievable: "unretrievable",
}

func (s SourceStage) String() string {
	if name, ok := sourceStageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source_stage(%d)", int(s))
}

// MarshalText renders the stage by name in reports
func (s SourceStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible
func (s SourceStage) Terminal() bool {
	return s == SourceRated || s == SourceUnretrievable
}

// Source is a candidate document retrieved as evidence for or against a keypoint
type Source struct {
	KeypointID  int           `json:"keypoint_id"`
	ID          int           `json:"id"`
	URI         string        `json:"uri"`
	Title       string        `json:"title,omitempty"`
	DataSource  string        `json:"data_source,omitempty"` // Search backend, e.g. "Google", "Wikipedia"
	Query       string        `json:"query,omitempty"`       // Query the backend searched with
	Retrievable bool          `json:"retrievable"`
	SameHost    bool          `json:"same_host"` // Hosted on the checked page's domain
	Authority   AuthorityTier `json:"authority,omitempty"`
	Stage       SourceStage   `json:"stage"`
	Rating      *Rating       `json:"rating,omitempty"`
}

// Key returns the registry key of the source
func (s *Source) Key() SourceKey {
	return SourceKey{Keypoint: s.KeypointID, Source: s.ID}
}

// Rating is the cross-check outcome for one (keypoint, source) pair
type Rating struct {
	Raw         string  `json:"raw,omitempty"` // Streamed rating characters as received
	Score       float64 `json:"score"`         // Parsed score
	Value       int     `json:"value"`         // Score rounded and clamped to [-2, 2]
	Band        Band    `json:"band,omitempty"`
	Explanation string  `json:"explanation,omitempty"` // Append-only
}

// Band is one of five discrete alignment levels between a keypoint and a source
type Band string

const (
	BandStrongSupport       Band = "strong_support"
	BandSomeSupport         Band = "some_support"
	BandNoMention           Band = "no_mention"
	BandSomeContradiction   Band = "some_contradiction"
	BandStrongContradiction Band = "strong_contradiction"
)

// Bands lists all bands from strongest support to strongest contradiction
var Bands = []Band{
	BandStrongSupport,
	BandSomeSupport,
	BandNoMention,
	BandSomeContradiction,
	BandStrongContradiction,
}

// Label returns the human-readable band label
func (b Band) Label() string {
	switch b {
	case BandStrongSupport:
		return "Strong support"
	case BandSomeSupport:
		return "Some support"
	case BandNoMention:
		return "No mention"
	case BandSomeContradiction:
		return "Some contradiction"
	case BandStrongContradiction:
		return "Strong contradiction"
	default:
		return "Unrated"
	}
}

// Symbol returns the marker shown next to a rated source
func (b Band) Symbol() string {
	switch b {
	case BandStrongSupport:
		return "🟩"
	case BandSomeSupport:
		return "🟨"
	case BandNoMention:
		return "⬜"
	case BandSomeContradiction:
		return "🟧"
	case BandStrongContradiction:
		return "🟥"
	default:
		return "·"
	}
}

// AuthorityTier represents the classification of source authority
type AuthorityTier int

const (
	TierUnknown   AuthorityTier = 0 // Not yet classified
	TierPrimary   AuthorityTier = 1 // Laws, statutes, academic papers, official documents
	TierSecondary AuthorityTier = 2 // Encyclopedias, major publishers, reputable media
	TierTertiary  AuthorityTier = 3 // Blogs, personal websites, tourism sites
)

func (t AuthorityTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}
