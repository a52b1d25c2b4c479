// Package registry maps backend-assigned ids to the keypoints and sources
// materialized from the message stream.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ppiankov/doppelcheck/internal/model"
)

var (
	ErrDismissed       = errors.New("keypoint was dismissed")
	ErrUnknownKeypoint = errors.New("unknown keypoint")
	ErrUnknownSource   = errors.New("unknown source")
)

// Registry is an arena of entities plus an id index.
// The mutex guards the arena and index. Entity fields behind returned
// pointers belong to the single dispatcher that drives the workflow.
type Registry struct {
	mu sync.Mutex

	keypoints []*model.Keypoint // creation order, nil once dismissed
	kpIndex   map[int]int       // keypoint id -> arena slot
	dismissed map[int]bool

	sources  []*model.Source
	srcIndex map[model.SourceKey]int
}

// New creates an empty registry
func New() *Registry {
	r := &Registry{}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.keypoints = nil
	r.kpIndex = make(map[int]int)
	r.dismissed = make(map[int]bool)
	r.sources = nil
	r.srcIndex = make(map[model.SourceKey]int)
}

// Reset drops every entity and tombstone
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// GetOrCreateKeypoint returns the keypoint for id, creating it in the
// Extracting stage on first sight. created reports whether this call made it.
func (r *Registry) GetOrCreateKeypoint(id int) (kp *model.Keypoint, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dismissed[id] {
		return nil, false, fmt.Errorf("keypoint %d: %w", id, ErrDismissed)
	}
	if slot, ok := r.kpIndex[id]; ok {
		return r.keypoints[slot], false, nil
	}

	kp = &model.Keypoint{ID: id, Stage: model.StageExtracting}
	r.kpIndex[id] = len(r.keypoints)
	r.keypoints = append(r.keypoints, kp)
	return kp, true, nil
}

// Keypoint looks up a live keypoint
func (r *Registry) Keypoint(id int) (*model.Keypoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keypoint(id)
}

func (r *Registry) keypoint(id int) (*model.Keypoint, error) {
	if r.dismissed[id] {
		return nil, fmt.Errorf("keypoint %d: %w", id, ErrDismissed)
	}
	slot, ok := r.kpIndex[id]
	if !ok {
		return nil, fmt.Errorf("keypoint %d: %w", id, ErrUnknownKeypoint)
	}
	return r.keypoints[slot], nil
}

// Keypoints returns live keypoints in creation order
func (r *Registry) Keypoints() []*model.Keypoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.Keypoint, 0, len(r.kpIndex))
	for _, kp := range r.keypoints {
		if kp != nil {
			out = append(out, kp)
		}
	}
	return out
}

// Len returns the number of live keypoints
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kpIndex)
}

// GetOrCreateSource returns the source (keypointID, id), creating it on
// first sight and appending it to the keypoint's ordered source list.
func (r *Registry) GetOrCreateSource(keypointID, id int) (src *model.Source, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kp, err := r.keypoint(keypointID)
	if err != nil {
		return nil, false, err
	}

	key := model.SourceKey{Keypoint: keypointID, Source: id}
	if slot, ok := r.srcIndex[key]; ok {
		return r.sources[slot], false, nil
	}

	src = &model.Source{KeypointID: keypointID, ID: id, Stage: model.SourceUnchecked}
	r.srcIndex[key] = len(r.sources)
	r.sources = append(r.sources, src)
	kp.Sources = append(kp.Sources, id)
	return src, true, nil
}

// Source looks up a source of a live keypoint
func (r *Registry) Source(key model.SourceKey) (*model.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.keypoint(key.Keypoint); err != nil {
		return nil, err
	}
	slot, ok := r.srcIndex[key]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", key, ErrUnknownSource)
	}
	return r.sources[slot], nil
}

// Sources returns the sources of a keypoint in arrival order
func (r *Registry) Sources(keypointID int) []*model.Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	kp, err := r.keypoint(keypointID)
	if err != nil {
		return nil
	}
	out := make([]*model.Source, 0, len(kp.Sources))
	for _, id := range kp.Sources {
		if slot, ok := r.srcIndex[model.SourceKey{Keypoint: keypointID, Source: id}]; ok {
			out = append(out, r.sources[slot])
		}
	}
	return out
}

// Dismiss removes a keypoint and its sources and tombstones the id so
// late frames cannot bring it back.
func (r *Registry) Dismiss(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kp, err := r.keypoint(id)
	if err != nil {
		return err
	}
	for _, sid := range kp.Sources {
		key := model.SourceKey{Keypoint: id, Source: sid}
		if slot, ok := r.srcIndex[key]; ok {
			r.sources[slot] = nil
			delete(r.srcIndex, key)
		}
	}
	r.keypoints[r.kpIndex[id]] = nil
	delete(r.kpIndex, id)
	r.dismissed[id] = true
	return nil
}

// Dismissed reports whether id was dismissed
func (r *Registry) Dismissed(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dismissed[id]
}
