package assemble

import (
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/doppelcheck/internal/registry"
)

func TestAppendSegment_ConcatenatesInArrivalOrder(t *testing.T) {
	reg := registry.New()
	asm := New(reg)
	ref := Ref{Target: TargetKeypoint, Keypoint: 1}

	segments := []string{"Water ", "boils at ", "100 degrees", ""}
	for i, seg := range segments {
		last := i == len(segments)-1
		res, err := asm.AppendSegment(ref, seg, last, false)
		if err != nil {
			t.Fatalf("Segment %d: expected no error, got %v", i, err)
		}
		if res.Created != (i == 0) {
			t.Errorf("Segment %d: expected created=%v, got %v", i, i == 0, res.Created)
		}
		if res.Sealed != last {
			t.Errorf("Segment %d: expected sealed=%v, got %v", i, last, res.Sealed)
		}
	}

	kp, err := reg.Keypoint(1)
	if err != nil {
		t.Fatalf("Expected keypoint to exist, got %v", err)
	}
	if want := strings.Join(segments, ""); kp.Text != want {
		t.Errorf("Expected %q, got %q", want, kp.Text)
	}
}

func TestAppendSegment_SealedRejectsFurtherText(t *testing.T) {
	reg := registry.New()
	asm := New(reg)
	ref := Ref{Target: TargetKeypoint, Keypoint: 2}

	if _, err := asm.AppendSegment(ref, "done", true, false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := asm.AppendSegment(ref, " more", false, false); !errors.Is(err, ErrSealed) {
		t.Errorf("Expected ErrSealed, got %v", err)
	}

	kp, _ := reg.Keypoint(2)
	if kp.Text != "done" {
		t.Errorf("Expected sealed text to stay %q, got %q", "done", kp.Text)
	}
	if !asm.Sealed(Ref{Target: TargetKeypoint, Keypoint: 2, Source: 99}) {
		t.Error("Expected keypoint refs to ignore the source field")
	}
}

func TestAppendSegment_SingleMaterialization(t *testing.T) {
	reg := registry.New()
	asm := New(reg)

	created := 0
	for _, id := range []int{1, 2, 1, 1, 2, 3} {
		res, err := asm.AppendSegment(Ref{Target: TargetKeypoint, Keypoint: id}, "x", false, false)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if res.Created {
			created++
		}
	}

	if created != 3 {
		t.Errorf("Expected 3 materializations, got %d", created)
	}
	if reg.Len() != 3 {
		t.Errorf("Expected 3 keypoints, got %d", reg.Len())
	}
}

func TestAppendSegment_BatchDoneOnce(t *testing.T) {
	reg := registry.New()
	asm := New(reg)

	res, _ := asm.AppendSegment(Ref{Target: TargetKeypoint, Keypoint: 1}, "a", true, true)
	if !res.BatchDone {
		t.Error("Expected first last-message to end the batch")
	}
	res, _ = asm.AppendSegment(Ref{Target: TargetKeypoint, Keypoint: 2}, "b", true, true)
	if res.BatchDone {
		t.Error("Expected batch end to be reported only once")
	}
	if asm.FinishBatch(TargetKeypoint) {
		t.Error("Expected FinishBatch to report false after the batch ended")
	}
	if !asm.FinishBatch(TargetExplanation) {
		t.Error("Expected batches of other targets to be independent")
	}
}

func TestAppendSegment_RatingAndExplanation(t *testing.T) {
	reg := registry.New()
	asm := New(reg)

	ratingRef := Ref{Target: TargetRating, Keypoint: 1, Source: 0}
	if _, err := asm.AppendSegment(ratingRef, "+", false, false); !errors.Is(err, registry.ErrUnknownKeypoint) {
		t.Errorf("Expected ErrUnknownKeypoint before the keypoint exists, got %v", err)
	}

	reg.GetOrCreateKeypoint(1)
	if _, err := asm.AppendSegment(ratingRef, "+", false, false); !errors.Is(err, registry.ErrUnknownSource) {
		t.Errorf("Expected ErrUnknownSource before the source exists, got %v", err)
	}

	src, _, _ := reg.GetOrCreateSource(1, 0)
	res, err := asm.AppendSegment(ratingRef, "+", false, false)
	if err != nil || !res.Created {
		t.Fatalf("Expected rating to be created, got created=%v err=%v", res.Created, err)
	}
	asm.AppendSegment(ratingRef, "2", false, false)

	explRef := Ref{Target: TargetExplanation, Keypoint: 1, Source: 0}
	asm.AppendSegment(explRef, "The source ", false, false)
	res, _ = asm.AppendSegment(explRef, "agrees.", true, false)
	if !res.Sealed {
		t.Error("Expected explanation to be sealed")
	}
	if res.Text != "The source agrees." {
		t.Errorf("Expected full explanation in result, got %q", res.Text)
	}

	if src.Rating.Raw != "+2" {
		t.Errorf("Expected raw rating +2, got %q", src.Rating.Raw)
	}
	if asm.Sealed(ratingRef) {
		t.Error("Expected rating buffer to stay open when only the explanation sealed")
	}
}

func TestAppendSegment_DismissedKeypoint(t *testing.T) {
	reg := registry.New()
	asm := New(reg)
	ref := Ref{Target: TargetKeypoint, Keypoint: 1}

	asm.AppendSegment(ref, "a", false, false)
	reg.Dismiss(1)

	if _, err := asm.AppendSegment(ref, "b", false, false); !errors.Is(err, registry.ErrDismissed) {
		t.Errorf("Expected ErrDismissed, got %v", err)
	}
}
