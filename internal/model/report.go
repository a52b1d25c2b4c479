package model

import "time"

// Report is the outcome of one check run, written as JSON and Markdown
type Report struct {
	Subject      string    `json:"subject"`                 // Human-readable page subject
	PageURL      string    `json:"page_url"`                // URL that was checked
	InstanceID   string    `json:"instance_id"`             // Session instance id
	NameInstance string    `json:"name_instance,omitempty"` // Backend instance name from get_config
	DataSources  []string  `json:"data_sources,omitempty"`  // Search backends enabled on the instance
	CheckedAt    time.Time `json:"checked_at"`
	FetchMeta    FetchMeta `json:"fetch_meta"`

	Keypoints     []KeypointReport `json:"keypoints"`
	Notifications []Notification   `json:"notifications,omitempty"`

	Principles Principles `json:"principles"`
}

// KeypointReport bundles a keypoint with its sources and support summary
type KeypointReport struct {
	Keypoint Keypoint `json:"keypoint"`
	Sources  []Source `json:"sources"`
	Summary  Summary  `json:"summary"`
}

// FetchMeta contains HTTP metadata from fetching the page
type FetchMeta struct {
	StatusCode   int               `json:"status_code"`
	ContentType  string            `json:"content_type,omitempty"`
	LastModified string            `json:"last_modified,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	FromCache    bool              `json:"from_cache,omitempty"`
	ReaderMode   bool              `json:"reader_mode,omitempty"`
}

// Summary aggregates the rated sources of one keypoint
type Summary struct {
	Rated         int          `json:"rated"`
	Unrated       int          `json:"unrated"`
	Unretrievable int          `json:"unretrievable"`
	Counts        map[Band]int `json:"counts,omitempty"`
	Support       float64      `json:"support"`           // Mean rating value over rated sources, [-2, 2]
	Verdict       Band         `json:"verdict,omitempty"` // Band of the mean, empty when nothing is rated
	Signals       []Signal     `json:"signals,omitempty"`
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalNoSources        SignalType = "no_sources"         // Source search returned nothing
	SignalUnretrievable    SignalType = "unretrievable"      // Some sources could not be retrieved
	SignalContradiction    SignalType = "contradiction"      // At least one source contradicts the keypoint
	SignalMixedEvidence    SignalType = "mixed_evidence"     // Supporting and contradicting sources both present
	SignalSameHostEvidence SignalType = "same_host_evidence" // Evidence hosted on the checked page's domain
	SignalPrimarySource    SignalType = "primary_source"     // A primary-tier source was rated
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// Notification is a message shown in the sidebar notification panel
type Notification struct {
	Level       NotificationLevel `json:"level"`
	Message     string            `json:"message"`
	Dismissible bool              `json:"dismissible"` // Hard errors cannot be dismissed
	At          time.Time         `json:"at"`
}

// NotificationLevel classifies a notification
type NotificationLevel string

const (
	NotifyInfo  NotificationLevel = "info"
	NotifyWarn  NotificationLevel = "warning"
	NotifyError NotificationLevel = "error"
)

// Principles documents which core principles were applied
type Principles struct {
	NonNormative bool `json:"non_normative"` // Ratings describe source alignment, not truth
	Transparent  bool `json:"transparent"`   // Every band is derived from a visible score
}

// DefaultPrinciples returns the standard principles
func DefaultPrinciples() Principles {
	return Principles{
		NonNormative: true,
		Transparent:  true,
	}
}
