// Package assemble appends streamed text segments to the entity they address.
//
// Termination is two-level: isLastSegment freezes one entity, isLastMessage
// ends the whole batch the entity belongs to.
package assemble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ppiankov/doppelcheck/internal/model"
	"github.com/ppiankov/doppelcheck/internal/registry"
)

var ErrSealed = errors.New("entity text is sealed")

// Target selects which text buffer a segment belongs to
type Target int

const (
	TargetKeypoint    Target = iota // Keypoint.Text
	TargetRating                    // Source.Rating.Raw
	TargetExplanation               // Source.Rating.Explanation
)

func (t Target) String() string {
	switch t {
	case TargetKeypoint:
		return "keypoint"
	case TargetRating:
		return "rating"
	case TargetExplanation:
		return "explanation"
	}
	return fmt.Sprintf("target(%d)", int(t))
}

// Ref addresses one text buffer
type Ref struct {
	Target   Target
	Keypoint int
	Source   int // ignored for TargetKeypoint
}

func (r Ref) String() string {
	if r.Target == TargetKeypoint {
		return fmt.Sprintf("keypoint %d", r.Keypoint)
	}
	return fmt.Sprintf("%s %d/%d", r.Target, r.Keypoint, r.Source)
}

// Result describes what one AppendSegment call did
type Result struct {
	Created   bool   // Entity materialized by this call
	Sealed    bool   // Entity frozen by this call
	BatchDone bool   // Batch ended by this call; reported once per target
	Text      string // Full buffer after the append
}

// Assembler owns segment order and sealing. Keypoints are materialized
// through the registry; sources must already exist.
type Assembler struct {
	mu     sync.Mutex
	reg    *registry.Registry
	sealed map[Ref]bool
	done   map[Target]bool
}

// New creates an assembler over reg
func New(reg *registry.Registry) *Assembler {
	return &Assembler{
		reg:    reg,
		sealed: make(map[Ref]bool),
		done:   make(map[Target]bool),
	}
}

// AppendSegment appends text to the buffer addressed by ref.
// Segments arrive in order; an empty text with isLastSegment only seals.
func (a *Assembler) AppendSegment(ref Ref, text string, isLastSegment, isLastMessage bool) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ref.Target == TargetKeypoint {
		ref.Source = 0
	}
	if a.sealed[ref] {
		return Result{}, fmt.Errorf("%s: %w", ref, ErrSealed)
	}

	var res Result
	switch ref.Target {
	case TargetKeypoint:
		kp, created, err := a.reg.GetOrCreateKeypoint(ref.Keypoint)
		if err != nil {
			return Result{}, err
		}
		kp.Text += text
		res.Created = created
		res.Text = kp.Text

	case TargetRating, TargetExplanation:
		src, err := a.reg.Source(model.SourceKey{Keypoint: ref.Keypoint, Source: ref.Source})
		if err != nil {
			return Result{}, err
		}
		if src.Rating == nil {
			src.Rating = &model.Rating{}
			res.Created = true
		}
		if ref.Target == TargetRating {
			src.Rating.Raw += text
			res.Text = src.Rating.Raw
		} else {
			src.Rating.Explanation += text
			res.Text = src.Rating.Explanation
		}

	default:
		return Result{}, fmt.Errorf("unknown target %s", ref.Target)
	}

	if isLastSegment {
		a.sealed[ref] = true
		res.Sealed = true
	}
	if isLastMessage && !a.done[ref.Target] {
		a.done[ref.Target] = true
		res.BatchDone = true
	}
	return res, nil
}

// FinishBatch ends the batch of target without touching any entity.
// It reports true only the first time.
func (a *Assembler) FinishBatch(target Target) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done[target] {
		return false
	}
	a.done[target] = true
	return true
}

// Sealed reports whether ref is frozen
func (a *Assembler) Sealed(ref Ref) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ref.Target == TargetKeypoint {
		ref.Source = 0
	}
	return a.sealed[ref]
}

// Reset forgets seals and batch state
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = make(map[Ref]bool)
	a.done = make(map[Target]bool)
}
