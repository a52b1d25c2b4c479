package model

import "fmt"

// Stage is the position of a keypoint in the check workflow.
// Stages are ordered and a keypoint only ever moves forward.
type Stage int

const (
	StageExtracting     Stage = iota // Text is still streaming in
	StageReady                       // Text complete, sources can be requested
	StageFindingSources              // Source search requested, results streaming
	StageSourcesReady                // Source search finished
)

var stageNames = map[Stage]string{
	StageExtracting:     "extracting",
	StageReady:          "ready",
	StageFindingSources: "finding_sources",
	StageSourcesReady:   "sources_ready",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// MarshalText renders the stage by name in reports
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Keypoint is an atomic factual assertion extracted from the checked page
type Keypoint struct {
	ID      int      `json:"id"`
	Text    string   `json:"text"`              // Assembled from streamed segments, append-only
	Stage   Stage    `json:"stage"`             // Workflow position
	Sources []int    `json:"sources,omitempty"` // Source ids in arrival order
	Quotes  []string `json:"quotes,omitempty"`  // Page excerpts the keypoint was drawn from
}

// HasSource reports whether the keypoint already lists the source id
func (k *Keypoint) HasSource(id int) bool {
	for _, s := range k.Sources {
		if s == id {
			return true
		}
	}
	return false
}
