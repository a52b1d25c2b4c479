// Package sidebar keeps the live view of a check session: a tree of
// keypoints and their sources built from workflow events, plus the
// notification panel.
package sidebar

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/doppelcheck/internal/model"
	"github.com/ppiankov/doppelcheck/internal/workflow"
)

// KeypointView is one keypoint node of the tree
type KeypointView struct {
	ID          int
	Text        string
	Stage       model.Stage
	Quotes      int // marks placed on the page
	Collapsed   bool
	FindSources workflow.ControlState
	Sources     []*SourceView
}

// SourceView is one source row under a keypoint
type SourceView struct {
	ID          int
	URI         string
	Title       string
	DataSource  string
	SameHost    bool
	Authority   model.AuthorityTier
	Stage       model.SourceStage
	Rating      string // raw rating characters as they stream
	Explanation string
	Band        model.Band
	Crosscheck  workflow.ControlState
}

// View is the sidebar view model. It is updated only through Apply, on
// the session's dispatch goroutine, and read from anywhere.
type View struct {
	mu sync.Mutex

	keypoints []*KeypointView
	index     map[int]*KeypointView
	start     workflow.ControlState
	notices   []model.Notification
	batchDone bool
	fallback  string

	live   io.Writer // progress lines, nil when quiet
	styles Styles
}

// New creates a view. Progress lines are written to live as events
// arrive; pass nil for a silent view.
func New(live io.Writer, color bool) *View {
	out := live
	if out == nil {
		out = io.Discard
	}
	return &View{
		index:  make(map[int]*KeypointView),
		start:  workflow.ControlEnabled,
		live:   live,
		styles: NewStyles(out, color),
	}
}

// Listener returns the function to subscribe to a workflow controller
func (v *View) Listener() workflow.Listener {
	return v.Apply
}

// Apply updates the view with one event
func (v *View) Apply(ev workflow.Event) {
	v.mu.Lock()
	line := v.apply(ev)
	v.mu.Unlock()

	if line != "" && v.live != nil {
		fmt.Fprintln(v.live, line)
	}
}

func (v *View) apply(ev workflow.Event) string {
	switch ev.Type {
	case workflow.EventKeypointCreated:
		v.keypoint(ev.Keypoint).Stage = ev.Stage

	case workflow.EventKeypointText:
		kp := v.keypoint(ev.Keypoint)
		kp.Text += ev.Text

	case workflow.EventKeypointReady:
		kp := v.keypoint(ev.Keypoint)
		kp.Text = ev.Text
		kp.Stage = ev.Stage
		return fmt.Sprintf("%s %s", v.styles.Keypoint.Render(fmt.Sprintf("[%d]", kp.ID)), kp.Text)

	case workflow.EventKeypointDismissed:
		v.remove(ev.Keypoint)
		return v.styles.Muted.Render(fmt.Sprintf("[%d] dismissed (%d mark(s) removed)", ev.Keypoint, ev.Count))

	case workflow.EventBatchDone:
		v.batchDone = true
		return v.styles.Muted.Render(fmt.Sprintf("extraction finished: %d keypoint(s)", ev.Count))

	case workflow.EventQuote:
		v.keypoint(ev.Keypoint).Quotes += ev.Count

	case workflow.EventSourcesRequested:
		v.keypoint(ev.Keypoint).Stage = ev.Stage
		return v.styles.Muted.Render(fmt.Sprintf("[%d] searching sources…", ev.Keypoint))

	case workflow.EventSourceAdded:
		if ev.SourceInfo == nil {
			return ""
		}
		src := v.source(ev.Keypoint, ev.Source)
		info := ev.SourceInfo
		src.URI, src.Title, src.DataSource = info.URI, info.Title, info.DataSource
		src.SameHost, src.Authority, src.Stage = info.SameHost, info.Authority, info.Stage
		if src.Stage == model.SourceUnretrievable {
			return v.styles.Muted.Render(fmt.Sprintf("  [%d.%d] %s (not retrievable)", ev.Keypoint, ev.Source, src.label()))
		}
		return fmt.Sprintf("  [%d.%d] %s", ev.Keypoint, ev.Source, src.label())

	case workflow.EventSourcesReady:
		v.keypoint(ev.Keypoint).Stage = ev.Stage
		return v.styles.Muted.Render(fmt.Sprintf("[%d] %d source(s) found", ev.Keypoint, ev.Count))

	case workflow.EventCrosscheckRequested:
		v.source(ev.Keypoint, ev.Source).Stage = ev.SourceStage

	case workflow.EventRatingText:
		v.source(ev.Keypoint, ev.Source).Rating += ev.Text

	case workflow.EventExplanationText:
		v.source(ev.Keypoint, ev.Source).Explanation += ev.Text

	case workflow.EventSourceRated:
		src := v.source(ev.Keypoint, ev.Source)
		src.Stage = ev.SourceStage
		if ev.SourceInfo != nil && ev.SourceInfo.Rating != nil {
			src.Band = ev.SourceInfo.Rating.Band
			src.Explanation = ev.SourceInfo.Rating.Explanation
		}
		rating := "unreadable rating"
		if src.Band != "" {
			rating = v.styles.Band(src.Band)
		}
		return fmt.Sprintf("  [%d.%d] %s: %s", ev.Keypoint, ev.Source, src.label(), rating)

	case workflow.EventControl:
		v.control(ev)

	case workflow.EventNotification:
		if ev.Notification != nil {
			v.notices = append(v.notices, *ev.Notification)
			return v.styles.Notice(*ev.Notification)
		}

	case workflow.EventTransportFailed:
		v.fallback = ev.Text
	}
	return ""
}

func (v *View) control(ev workflow.Event) {
	id := ev.Control
	switch id.Kind {
	case workflow.ControlStart:
		v.start = ev.ControlState
	case workflow.ControlFindSources:
		if kp, ok := v.index[id.Keypoint]; ok {
			kp.FindSources = ev.ControlState
		}
	case workflow.ControlCrosscheck:
		if _, ok := v.index[id.Keypoint]; ok {
			v.source(id.Keypoint, id.Source).Crosscheck = ev.ControlState
		}
	}
}

func (v *View) keypoint(id int) *KeypointView {
	if kp, ok := v.index[id]; ok {
		return kp
	}
	kp := &KeypointView{ID: id}
	v.index[id] = kp
	v.keypoints = append(v.keypoints, kp)
	return kp
}

func (v *View) source(keypointID, sourceID int) *SourceView {
	kp := v.keypoint(keypointID)
	for _, s := range kp.Sources {
		if s.ID == sourceID {
			return s
		}
	}
	s := &SourceView{ID: sourceID}
	kp.Sources = append(kp.Sources, s)
	return s
}

func (v *View) remove(id int) {
	if _, ok := v.index[id]; !ok {
		return
	}
	delete(v.index, id)
	for i, kp := range v.keypoints {
		if kp.ID == id {
			v.keypoints = append(v.keypoints[:i], v.keypoints[i+1:]...)
			break
		}
	}
}

// Toggle collapses or expands a keypoint's sources
func (v *View) Toggle(keypointID int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	kp, ok := v.index[keypointID]
	if !ok {
		return fmt.Errorf("no keypoint %d", keypointID)
	}
	kp.Collapsed = !kp.Collapsed
	return nil
}

// DismissNotice removes notification i from the panel
func (v *View) DismissNotice(i int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i >= 0 && i < len(v.notices) {
		v.notices = append(v.notices[:i], v.notices[i+1:]...)
	}
}

// Keypoints returns a copy of the keypoint tree in arrival order
func (v *View) Keypoints() []KeypointView {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]KeypointView, len(v.keypoints))
	for i, kp := range v.keypoints {
		out[i] = *kp
		out[i].Sources = make([]*SourceView, len(kp.Sources))
		for j, s := range kp.Sources {
			cp := *s
			out[i].Sources[j] = &cp
		}
	}
	return out
}

// Notices returns the notification panel, oldest first
func (v *View) Notices() []model.Notification {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.Notification(nil), v.notices...)
}

// Render draws the whole sidebar
func (v *View) Render() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	b.WriteString(v.styles.Title.Render("Doppelcheck"))
	b.WriteString("\n")

	switch {
	case v.start == workflow.ControlEnabled:
		b.WriteString(v.styles.Muted.Render("press start to extract keypoints"))
		b.WriteString("\n")
	case !v.batchDone:
		b.WriteString(v.styles.Muted.Render("extracting keypoints…"))
		b.WriteString("\n")
	}

	for _, kp := range v.keypoints {
		v.renderKeypoint(&b, kp)
	}

	if len(v.notices) > 0 {
		lines := make([]string, len(v.notices))
		for i, n := range v.notices {
			lines[i] = fmt.Sprintf("%d %s", i, v.styles.Notice(n))
		}
		b.WriteString(v.styles.Panel.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}
	if v.fallback != "" {
		b.WriteString(v.styles.Error.Render("Open " + v.fallback + " to check this page through the server"))
		b.WriteString("\n")
	}
	return b.String()
}

func (v *View) renderKeypoint(b *strings.Builder, kp *KeypointView) {
	marker := "▾"
	if kp.Collapsed {
		marker = "▸"
	}
	fmt.Fprintf(b, "%s %s %s", marker, v.styles.Keypoint.Render(fmt.Sprintf("[%d]", kp.ID)), strings.TrimSpace(kp.Text))
	if kp.Stage == model.StageExtracting {
		b.WriteString(" …")
	}
	if kp.FindSources == workflow.ControlEnabled {
		b.WriteString(v.styles.Muted.Render("  (sources " + fmt.Sprint(kp.ID) + ")"))
	}
	b.WriteString("\n")

	if kp.Collapsed {
		return
	}
	if kp.Stage == model.StageFindingSources && len(kp.Sources) == 0 {
		b.WriteString(v.styles.Muted.Render("    searching sources…"))
		b.WriteString("\n")
	}
	if kp.Stage == model.StageSourcesReady && len(kp.Sources) == 0 {
		b.WriteString(v.styles.Muted.Render("    no sources found"))
		b.WriteString("\n")
	}

	sources := append([]*SourceView(nil), kp.Sources...)
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	for _, s := range sources {
		v.renderSource(b, kp.ID, s)
	}
}

func (v *View) renderSource(b *strings.Builder, keypointID int, s *SourceView) {
	fmt.Fprintf(b, "    [%d.%d] ", keypointID, s.ID)
	switch s.Stage {
	case model.SourceUnretrievable:
		b.WriteString(v.styles.Muted.Render(s.label() + " (not retrievable)"))
	case model.SourceRated:
		rating := "unreadable rating"
		if s.Band != "" {
			rating = v.styles.Band(s.Band)
		}
		fmt.Fprintf(b, "%s %s", rating, s.label())
	case model.SourceCrossChecking:
		fmt.Fprintf(b, "%s %s", v.styles.Muted.Render("checking "+strings.TrimSpace(s.Rating)+"…"), s.label())
	default:
		b.WriteString(s.label())
		if s.Crosscheck == workflow.ControlEnabled {
			b.WriteString(v.styles.Muted.Render(fmt.Sprintf("  (check %d %d)", keypointID, s.ID)))
		}
	}
	b.WriteString("\n")

	if s.Explanation != "" {
		fmt.Fprintf(b, "        %s\n", v.styles.Muted.Render(strings.TrimSpace(s.Explanation)))
	}
}

func (s *SourceView) label() string {
	name := s.Title
	if name == "" {
		name = s.URI
	}
	var tags []string
	if s.DataSource != "" {
		tags = append(tags, s.DataSource)
	}
	if s.Authority != model.TierUnknown {
		tags = append(tags, s.Authority.String())
	}
	if s.SameHost {
		tags = append(tags, "same site")
	}
	if len(tags) == 0 {
		return name
	}
	return name + " (" + strings.Join(tags, ", ") + ")"
}
