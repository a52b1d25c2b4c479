package score

import (
	"errors"
	"testing"

	"github.com/ppiankov/doppelcheck/internal/model"
)

func TestBandFor_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  model.Band
	}{
		{3, model.BandStrongSupport},
		{2, model.BandStrongSupport},
		{1.999, model.BandSomeSupport},
		{1, model.BandSomeSupport},
		{0.999, model.BandNoMention},
		{0, model.BandNoMention},
		{-0.001, model.BandSomeContradiction},
		{-1, model.BandSomeContradiction},
		{-1.001, model.BandStrongContradiction},
		{-2, model.BandStrongContradiction},
	}

	for _, tt := range tests {
		if got := BandFor(tt.score); got != tt.want {
			t.Errorf("BandFor(%v): expected %s, got %s", tt.score, tt.want, got)
		}
	}
}

func TestValueFor(t *testing.T) {
	tests := []struct {
		score float64
		want  int
	}{
		{2.4, 2},
		{7, 2},
		{1.5, 1},
		{1.9, 1},
		{0.5, 0},
		{0.4, 0},
		{-0.6, -1},
		{-1.5, -2},
		{-9, -2},
	}

	for _, tt := range tests {
		if got := ValueFor(tt.score); got != tt.want {
			t.Errorf("ValueFor(%v): expected %d, got %d", tt.score, tt.want, got)
		}
	}
}

func TestRate_ValueMatchesBand(t *testing.T) {
	scores := []float64{-3, -2.5, -2, -1.5, -1, -0.5, 0, 0.5, 1, 1.5, 1.9, 2, 2.5, 3}

	for _, s := range scores {
		match := s
		r := &model.Rating{}
		if err := Rate(r, &match); err != nil {
			t.Fatalf("Rate(%v): expected no error, got %v", s, err)
		}
		if got := BandFor(float64(r.Value)); got != r.Band {
			t.Errorf("Rate(%v): value %d is in band %s, rating band is %s", s, r.Value, got, r.Band)
		}
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"+2", 2},
		{"2", 2},
		{" -1\n", -1},
		{"0.5", 0.5},
		{"-2: the source says otherwise", -2},
		{"🟥 Strong contradiction", -2},
		{"Some support", 1},
		{"⬜", 0},
	}

	for _, tt := range tests {
		got, err := ParseRating(tt.raw)
		if err != nil {
			t.Errorf("ParseRating(%q): expected no error, got %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRating(%q): expected %v, got %v", tt.raw, tt.want, got)
		}
	}

	for _, raw := range []string{"", "   ", "maybe", "NaN"} {
		if _, err := ParseRating(raw); err == nil {
			t.Errorf("ParseRating(%q): expected error", raw)
		}
	}
	if _, err := ParseRating("perhaps"); !errors.Is(err, ErrNoRating) {
		t.Errorf("Expected ErrNoRating, got %v", err)
	}
}

func TestRate(t *testing.T) {
	r := &model.Rating{Raw: "-1"}
	if err := Rate(r, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if r.Band != model.BandSomeContradiction || r.Value != -1 {
		t.Errorf("Expected some contradiction / -1, got %s / %d", r.Band, r.Value)
	}

	match := 1.0
	r = &model.Rating{Raw: "garbage"}
	if err := Rate(r, &match); err != nil {
		t.Fatalf("Expected match value to win over raw text, got %v", err)
	}
	if r.Band != model.BandSomeSupport {
		t.Errorf("Expected some support, got %s", r.Band)
	}

	r = &model.Rating{}
	if err := Rate(r, nil); err == nil {
		t.Error("Expected error for empty rating")
	}
}

func rated(id int, s float64) model.Source {
	return model.Source{
		ID:     id,
		Stage:  model.SourceRated,
		Rating: &model.Rating{Score: s, Value: ValueFor(s), Band: BandFor(s)},
	}
}

func TestScorer_Summarize(t *testing.T) {
	scorer := NewScorer()
	kp := model.Keypoint{ID: 1, Stage: model.StageSourcesReady}

	primary := rated(2, 1)
	primary.Authority = model.TierPrimary

	sources := []model.Source{
		rated(0, 2),
		rated(1, -2),
		primary,
		{ID: 3, Stage: model.SourceUnretrievable},
		{ID: 4, Stage: model.SourceUnchecked},
	}

	summary := scorer.Summarize(kp, sources)

	if summary.Rated != 3 || summary.Unretrievable != 1 || summary.Unrated != 1 {
		t.Errorf("Expected 3 rated / 1 unretrievable / 1 unrated, got %d / %d / %d",
			summary.Rated, summary.Unretrievable, summary.Unrated)
	}
	if summary.Counts[model.BandStrongContradiction] != 1 {
		t.Errorf("Expected one strong contradiction, got %d", summary.Counts[model.BandStrongContradiction])
	}
	// (2 - 2 + 1) / 3
	if summary.Support < 0.333 || summary.Support > 0.334 {
		t.Errorf("Expected support ~0.333, got %f", summary.Support)
	}
	if summary.Verdict != model.BandNoMention {
		t.Errorf("Expected verdict no mention, got %s", summary.Verdict)
	}

	found := make(map[model.SignalType]model.Signal)
	for _, s := range summary.Signals {
		found[s.Type] = s
	}
	for _, want := range []model.SignalType{
		model.SignalUnretrievable,
		model.SignalContradiction,
		model.SignalMixedEvidence,
		model.SignalPrimarySource,
	} {
		if _, ok := found[want]; !ok {
			t.Errorf("Expected %s signal", want)
		}
	}
	if found[model.SignalContradiction].Severity != model.SeverityCritical {
		t.Errorf("Expected critical contradiction, got %s", found[model.SignalContradiction].Severity)
	}
	if _, ok := found[model.SignalNoSources]; ok {
		t.Error("Did not expect no_sources signal")
	}
}

func TestScorer_Summarize_NoSources(t *testing.T) {
	scorer := NewScorer()

	summary := scorer.Summarize(model.Keypoint{ID: 1, Stage: model.StageSourcesReady}, nil)
	if summary.Verdict != "" {
		t.Errorf("Expected no verdict without ratings, got %s", summary.Verdict)
	}
	if len(summary.Signals) != 1 || summary.Signals[0].Type != model.SignalNoSources {
		t.Errorf("Expected single no_sources signal, got %v", summary.Signals)
	}

	// Still searching: no signal yet
	summary = scorer.Summarize(model.Keypoint{ID: 1, Stage: model.StageFindingSources}, nil)
	if len(summary.Signals) != 0 {
		t.Errorf("Expected no signals while sources are pending, got %v", summary.Signals)
	}
}

func TestScorer_Summarize_ClampsScores(t *testing.T) {
	scorer := NewScorer()
	summary := scorer.Summarize(model.Keypoint{ID: 1}, []model.Source{rated(0, 10)})

	if summary.Support != 2 {
		t.Errorf("Expected support clamped to 2, got %f", summary.Support)
	}
	if summary.Verdict != model.BandStrongSupport {
		t.Errorf("Expected strong support, got %s", summary.Verdict)
	}
}
