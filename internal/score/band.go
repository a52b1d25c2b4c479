package score

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ppiankov/doppelcheck/internal/model"
)

var ErrNoRating = errors.New("no rating found")

// BandFor maps a score to its band:
//
//	score >= 2       strong support
//	1 <= score < 2   some support
//	0 <= score < 1   no mention
//	-1 <= score < 0  some contradiction
//	score < -1       strong contradiction
func BandFor(score float64) model.Band {
	switch {
	case score >= 2:
		return model.BandStrongSupport
	case score >= 1:
		return model.BandSomeSupport
	case score >= 0:
		return model.BandNoMention
	case score >= -1:
		return model.BandSomeContradiction
	default:
		return model.BandStrongContradiction
	}
}

// ValueFor maps a score to the discrete rating scale [-2, 2]. It floors,
// so the value always falls in the same band as the score.
func ValueFor(score float64) int {
	v := int(math.Floor(score))
	if v > 2 {
		return 2
	}
	if v < -2 {
		return -2
	}
	return v
}

// bandScores anchors each band label and symbol to a score inside the band
var bandScores = map[model.Band]float64{
	model.BandStrongSupport:       2,
	model.BandSomeSupport:         1,
	model.BandNoMention:           0,
	model.BandSomeContradiction:   -1,
	model.BandStrongContradiction: -2,
}

// ParseRating reads the score out of streamed rating text. The backend
// sends a signed number ("+2", "-1", "0.5"); band labels and symbols
// ("🟥 Strong contradiction") are accepted too.
func ParseRating(raw string) (float64, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, ErrNoRating
	}

	if f, err := strconv.ParseFloat(strings.TrimPrefix(firstField(text), "+"), 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("rating %q is not finite", raw)
		}
		return f, nil
	}

	lower := strings.ToLower(text)
	for _, b := range model.Bands {
		if strings.Contains(text, b.Symbol()) || strings.Contains(lower, strings.ToLower(b.Label())) {
			return bandScores[b], nil
		}
	}
	return 0, fmt.Errorf("rating %q: %w", raw, ErrNoRating)
}

func firstField(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == ',' || r == ';' || r == ':'
	})
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

// Rate fills in a rating from its raw text, or from the backend's match
// value when one was sent.
func Rate(r *model.Rating, match *float64) error {
	var s float64
	if match != nil {
		s = *match
	} else {
		parsed, err := ParseRating(r.Raw)
		if err != nil {
			return err
		}
		s = parsed
	}
	r.Score = s
	r.Value = ValueFor(s)
	r.Band = BandFor(s)
	return nil
}
