package workflow

import "fmt"

// ControlKind names a user-triggerable action in the sidebar
type ControlKind int

const (
	ControlStart       ControlKind = iota // batch-level "extract keypoints"
	ControlFindSources                    // per keypoint
	ControlCrosscheck                     // per source
)

func (k ControlKind) String() string {
	switch k {
	case ControlStart:
		return "start"
	case ControlFindSources:
		return "find_sources"
	case ControlCrosscheck:
		return "crosscheck"
	}
	return fmt.Sprintf("control(%d)", int(k))
}

// ControlID addresses one control
type ControlID struct {
	Kind     ControlKind
	Keypoint int
	Source   int
}

// StartControl is the single batch-level control
var StartControl = ControlID{Kind: ControlStart}

// FindSourcesControl is the source search control of a keypoint
func FindSourcesControl(keypointID int) ControlID {
	return ControlID{Kind: ControlFindSources, Keypoint: keypointID}
}

// CrosscheckControl is the cross-check control of a source
func CrosscheckControl(keypointID, sourceID int) ControlID {
	return ControlID{Kind: ControlCrosscheck, Keypoint: keypointID, Source: sourceID}
}

func (c ControlID) String() string {
	switch c.Kind {
	case ControlStart:
		return "start"
	case ControlFindSources:
		return fmt.Sprintf("find_sources %d", c.Keypoint)
	default:
		return fmt.Sprintf("%s %d/%d", c.Kind, c.Keypoint, c.Source)
	}
}

// ControlState is the lifecycle of a control. Removed is final.
type ControlState int

const (
	ControlAbsent ControlState = iota
	ControlEnabled
	ControlDisabled
	ControlRemoved
)

func (s ControlState) String() string {
	switch s {
	case ControlEnabled:
		return "enabled"
	case ControlDisabled:
		return "disabled"
	case ControlRemoved:
		return "removed"
	}
	return "absent"
}
