package score

import (
	"fmt"
	"math"

	"github.com/ppiankov/doppelcheck/internal/model"
)

// Scorer summarizes the rated sources of a keypoint and generates signals
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Summarize aggregates the sources of one keypoint
func (s *Scorer) Summarize(kp model.Keypoint, sources []model.Source) model.Summary {
	summary := model.Summary{Counts: make(map[model.Band]int)}

	var total float64
	primary := 0
	sameHost := 0
	for _, src := range sources {
		switch {
		case src.Stage == model.SourceUnretrievable:
			summary.Unretrievable++
			continue
		case src.Stage == model.SourceRated && src.Rating != nil && src.Rating.Band != "":
			summary.Rated++
			summary.Counts[src.Rating.Band]++
			total += clamp(src.Rating.Score)
			if src.Authority == model.TierPrimary {
				primary++
			}
			if src.SameHost {
				sameHost++
			}
		default:
			summary.Unrated++
		}
	}

	if summary.Rated > 0 {
		summary.Support = total / float64(summary.Rated)
		summary.Verdict = BandFor(summary.Support)
	}

	// 1. Did the search find anything
	if kp.Stage == model.StageSourcesReady && len(sources) == 0 {
		summary.Signals = append(summary.Signals, model.Signal{
			Type:        model.SignalNoSources,
			Severity:    model.SeverityWarning,
			Description: "Source search returned no sources",
			Data:        map[string]interface{}{"keypoint": kp.ID},
		})
	}

	// 2. Retrievability
	if summary.Unretrievable > 0 {
		ratio := float64(summary.Unretrievable) / float64(len(sources))
		severity := model.SeverityInfo
		if ratio >= 0.5 {
			severity = model.SeverityWarning
		}
		summary.Signals = append(summary.Signals, model.Signal{
			Type:        model.SignalUnretrievable,
			Severity:    severity,
			Description: fmt.Sprintf("Unretrievable sources: %d/%d", summary.Unretrievable, len(sources)),
			Data: map[string]interface{}{
				"unretrievable": summary.Unretrievable,
				"total":         len(sources),
				"ratio":         ratio,
			},
		})
	}

	// 3. Contradiction and mixed evidence
	strong := summary.Counts[model.BandStrongContradiction]
	contradicting := strong + summary.Counts[model.BandSomeContradiction]
	supporting := summary.Counts[model.BandStrongSupport] + summary.Counts[model.BandSomeSupport]
	if contradicting > 0 {
		severity := model.SeverityWarning
		if strong > 0 {
			severity = model.SeverityCritical
		}
		summary.Signals = append(summary.Signals, model.Signal{
			Type:        model.SignalContradiction,
			Severity:    severity,
			Description: fmt.Sprintf("%d of %d rated sources contradict the keypoint", contradicting, summary.Rated),
			Data: map[string]interface{}{
				"contradicting": contradicting,
				"strong":        strong,
				"rated":         summary.Rated,
			},
		})
	}
	if contradicting > 0 && supporting > 0 {
		summary.Signals = append(summary.Signals, model.Signal{
			Type:        model.SignalMixedEvidence,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("Mixed evidence: %d supporting, %d contradicting", supporting, contradicting),
			Data: map[string]interface{}{
				"supporting":    supporting,
				"contradicting": contradicting,
			},
		})
	}

	// 4. Provenance of the rated evidence
	if sameHost > 0 {
		summary.Signals = append(summary.Signals, model.Signal{
			Type:        model.SignalSameHostEvidence,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("%d rated sources are hosted on the checked page's domain", sameHost),
			Data:        map[string]interface{}{"same_host": sameHost},
		})
	}
	if primary > 0 {
		summary.Signals = append(summary.Signals, model.Signal{
			Type:        model.SignalPrimarySource,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("%d rated sources are primary", primary),
			Data:        map[string]interface{}{"primary": primary},
		})
	}

	return summary
}

func clamp(score float64) float64 {
	return math.Max(-2, math.Min(2, score))
}
