// Package workflow drives the check stages of one session: it applies
// inbound frames, gates user actions through controls and emits events
// for the sidebar.
package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/doppelcheck/internal/assemble"
	"github.com/ppiankov/doppelcheck/internal/metrics"
	"github.com/ppiankov/doppelcheck/internal/model"
	"github.com/ppiankov/doppelcheck/internal/protocol"
	"github.com/ppiankov/doppelcheck/internal/registry"
	"github.com/ppiankov/doppelcheck/internal/transport"
)

var (
	ErrControlDisabled   = errors.New("control is not enabled")
	ErrIllegalTransition = errors.New("illegal stage transition")
	ErrNotDismissible    = errors.New("notification cannot be dismissed")
	ErrFailed            = errors.New("session has failed")
)

// Sender delivers a request to the backend
type Sender interface {
	Send(kind protocol.RequestKind, content any) error
}

// Highlighter marks quotes on the checked page
type Highlighter interface {
	Highlight(excerpt string, entityID int) (int, error)
	RemoveHighlight(entityID int) int
}

// Classifier rates where a source comes from
type Classifier interface {
	Classify(uri string) (tier model.AuthorityTier, sameHost bool)
}

// Options configures a Controller
type Options struct {
	AutoSources    bool          // Request sources as soon as a keypoint is ready
	AutoCrosscheck bool          // Cross-check each retrievable source as it arrives
	StageTimeout   time.Duration // 0 waits indefinitely
	FallbackURL    string        // Shown when the connection fails
	Highlighter    Highlighter
	Classifier     Classifier
	Logger         *slog.Logger
	Now            func() time.Time
}

// Controller is the workflow state machine of one session
type Controller struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	sender Sender
	reg    *registry.Registry
	asm    *assemble.Assembler
	opts   Options
	logger *slog.Logger

	controls  map[ControlID]ControlState
	requested map[string]time.Time // source searches and cross-checks awaiting their end
	timedOut  map[string]bool
	matches   map[model.SourceKey]float64
	notices   []model.Notification
	listeners []Listener
	batchDone bool
	failed    error
}

// New creates a controller with the start control enabled
func New(sender Sender, reg *registry.Registry, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		sender:    sender,
		reg:       reg,
		asm:       assemble.New(reg),
		opts:      opts,
		logger:    opts.Logger,
		controls:  map[ControlID]ControlState{StartControl: ControlEnabled},
		requested: make(map[string]time.Time),
		timedOut:  make(map[string]bool),
		matches:   make(map[model.SourceKey]float64),
	}
}

// Subscribe registers a listener for all subsequent events
func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// do runs fn under the state lock and then delivers the collected events.
// emitMu is taken before the state lock is released so event batches reach
// listeners in the order their changes were applied.
func (c *Controller) do(fn func(out *events) error) error {
	c.mu.Lock()
	var out events
	err := fn(&out)
	listeners := c.listeners
	c.emitMu.Lock()
	c.mu.Unlock()

	for _, ev := range out {
		for _, l := range listeners {
			l(ev)
		}
	}
	c.emitMu.Unlock()
	return err
}

// StartExtraction sends the page HTML for keypoint extraction
func (c *Controller) StartExtraction(pageHTML string) error {
	return c.do(func(out *events) error {
		if c.failed != nil {
			return ErrFailed
		}
		if state := c.controls[StartControl]; state != ControlEnabled {
			return fmt.Errorf("%s is %s: %w", StartControl, state, ErrControlDisabled)
		}
		c.setControl(out, StartControl, ControlDisabled)
		return c.send(out, protocol.RequestKeypoints, pageHTML)
	})
}

// FindSources requests sources for a ready keypoint
func (c *Controller) FindSources(keypointID int) error {
	return c.do(func(out *events) error {
		if c.failed != nil {
			return ErrFailed
		}
		kp, err := c.reg.Keypoint(keypointID)
		if err != nil {
			return err
		}
		id := FindSourcesControl(keypointID)
		if state := c.controls[id]; state != ControlEnabled {
			return fmt.Errorf("%s is %s: %w", id, state, ErrControlDisabled)
		}
		return c.findSources(out, kp)
	})
}

func (c *Controller) findSources(out *events, kp *model.Keypoint) error {
	c.setControl(out, FindSourcesControl(kp.ID), ControlDisabled)
	if err := c.advanceKeypoint(kp, model.StageFindingSources); err != nil {
		return err
	}
	c.track(protocol.SourcesKey(kp.ID))
	out.add(Event{Type: EventSourcesRequested, Keypoint: kp.ID, Stage: kp.Stage})
	return c.send(out, protocol.RequestSources, protocol.SourcesContent{
		KeypointID:   kp.ID,
		KeypointText: kp.Text,
	})
}

// Crosscheck requests a rating of one source against its keypoint
func (c *Controller) Crosscheck(keypointID, sourceID int) error {
	return c.do(func(out *events) error {
		if c.failed != nil {
			return ErrFailed
		}
		kp, err := c.reg.Keypoint(keypointID)
		if err != nil {
			return err
		}
		src, err := c.reg.Source(model.SourceKey{Keypoint: keypointID, Source: sourceID})
		if err != nil {
			return err
		}
		id := CrosscheckControl(keypointID, sourceID)
		if state := c.controls[id]; state != ControlEnabled {
			return fmt.Errorf("%s is %s: %w", id, state, ErrControlDisabled)
		}
		return c.crosscheck(out, kp, src)
	})
}

func (c *Controller) crosscheck(out *events, kp *model.Keypoint, src *model.Source) error {
	c.setControl(out, CrosscheckControl(kp.ID, src.ID), ControlDisabled)
	if err := c.advanceSource(src, model.SourceCrossChecking); err != nil {
		return err
	}
	c.track(protocol.CrosscheckKey(kp.ID, src.ID))
	out.add(Event{Type: EventCrosscheckRequested, Keypoint: kp.ID, Source: src.ID, SourceStage: src.Stage})
	return c.send(out, protocol.RequestCrosscheck, protocol.CrosscheckContent{
		KeypointID:   kp.ID,
		KeypointText: kp.Text,
		SourceID:     src.ID,
		SourceURI:    src.URI,
		DataSource:   src.DataSource,
	})
}

// Dismiss removes a keypoint, its sources, controls and highlights.
// Frames that still arrive for it are dropped.
func (c *Controller) Dismiss(keypointID int) error {
	return c.do(func(out *events) error {
		kp, err := c.reg.Keypoint(keypointID)
		if err != nil {
			return err
		}
		sources := append([]int(nil), kp.Sources...)
		if err := c.reg.Dismiss(keypointID); err != nil {
			return err
		}

		c.untrack(protocol.SourcesKey(keypointID))
		c.setControl(out, FindSourcesControl(keypointID), ControlRemoved)
		for _, sid := range sources {
			c.untrack(protocol.CrosscheckKey(keypointID, sid))
			c.setControl(out, CrosscheckControl(keypointID, sid), ControlRemoved)
			delete(c.matches, model.SourceKey{Keypoint: keypointID, Source: sid})
		}

		removed := 0
		if c.opts.Highlighter != nil {
			removed = c.opts.Highlighter.RemoveHighlight(keypointID)
		}
		out.add(Event{Type: EventKeypointDismissed, Keypoint: keypointID, Count: removed})
		return nil
	})
}

// DismissNotification closes the notification at index i
func (c *Controller) DismissNotification(i int) error {
	return c.do(func(out *events) error {
		if i < 0 || i >= len(c.notices) {
			return fmt.Errorf("notification %d does not exist", i)
		}
		if !c.notices[i].Dismissible {
			return ErrNotDismissible
		}
		c.notices = append(c.notices[:i], c.notices[i+1:]...)
		return nil
	})
}

// Fail records a terminal transport failure. Every enabled control is
// disabled and a hard notification points at the proxy fallback.
func (c *Controller) Fail(err error) {
	_ = c.do(func(out *events) error {
		c.fail(out, err)
		return nil
	})
}

func (c *Controller) fail(out *events, err error) {
	if c.failed != nil || err == nil {
		return
	}
	c.failed = err

	fallback := c.opts.FallbackURL
	var terr *transport.TransportError
	if errors.As(err, &terr) && terr.FallbackURL != "" {
		fallback = terr.FallbackURL
	}

	ids := make([]ControlID, 0, len(c.controls))
	for id, state := range c.controls {
		if state == ControlEnabled {
			ids = append(ids, id)
		}
	}
	sortControls(ids)
	for _, id := range ids {
		c.setControl(out, id, ControlDisabled)
	}

	msg := fmt.Sprintf("Connection to the Doppelcheck server failed: %v", err)
	if fallback != "" {
		msg += ". Open " + fallback + " to check this page through the server instead"
	}
	c.logger.Error("transport failed", "error", err, "fallback", fallback)
	c.notify(out, model.NotifyError, msg, false)
	out.add(Event{Type: EventTransportFailed, Text: fallback})
}

// CheckTimeouts raises one notification for every source search or
// cross-check that has waited longer than the stage timeout. Stages and
// controls are left as they are.
func (c *Controller) CheckTimeouts(now time.Time) {
	if c.opts.StageTimeout <= 0 {
		return
	}
	_ = c.do(func(out *events) error {
		keys := make([]string, 0, len(c.requested))
		for key, at := range c.requested {
			if !c.timedOut[key] && now.Sub(at) >= c.opts.StageTimeout {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			c.timedOut[key] = true
			c.notify(out, model.NotifyWarn,
				fmt.Sprintf("No answer for %s after %s", key, c.opts.StageTimeout), true)
		}
		return nil
	})
}

// Idle reports whether nothing more is expected: the extraction batch has
// ended and every requested stage has finished or timed out, or the
// session failed.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed != nil {
		return true
	}
	if !c.batchDone {
		return false
	}
	for key := range c.requested {
		if !c.timedOut[key] {
			return false
		}
	}
	return true
}

// Failed returns the terminal failure, if any
func (c *Controller) Failed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// BatchDone reports whether keypoint extraction has finished
func (c *Controller) BatchDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchDone
}

// Control returns the state of a control
func (c *Controller) Control(id ControlID) ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls[id]
}

// Notifications returns the open notifications, oldest first
func (c *Controller) Notifications() []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Notification(nil), c.notices...)
}

// Snapshot copies every live keypoint with its sources
func (c *Controller) Snapshot() []model.KeypointReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	kps := c.reg.Keypoints()
	out := make([]model.KeypointReport, 0, len(kps))
	for _, kp := range kps {
		cp := *kp
		cp.Sources = append([]int(nil), kp.Sources...)
		cp.Quotes = append([]string(nil), kp.Quotes...)

		report := model.KeypointReport{Keypoint: cp}
		for _, src := range c.reg.Sources(kp.ID) {
			report.Sources = append(report.Sources, copySource(src))
		}
		out = append(out, report)
	}
	return out
}

func copySource(src *model.Source) model.Source {
	cp := *src
	if src.Rating != nil {
		r := *src.Rating
		cp.Rating = &r
	}
	return cp
}

func (c *Controller) send(out *events, kind protocol.RequestKind, content any) error {
	if err := c.sender.Send(kind, content); err != nil {
		var terr *transport.TransportError
		if errors.As(err, &terr) || errors.Is(err, transport.ErrClosed) {
			c.fail(out, err)
		}
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

func (c *Controller) setControl(out *events, id ControlID, state ControlState) {
	current := c.controls[id]
	if current == state || current == ControlRemoved {
		return
	}
	c.controls[id] = state
	out.add(Event{Type: EventControl, Keypoint: id.Keypoint, Source: id.Source, Control: id, ControlState: state})
}

func (c *Controller) advanceKeypoint(kp *model.Keypoint, to model.Stage) error {
	if to <= kp.Stage {
		return fmt.Errorf("keypoint %d %s -> %s: %w", kp.ID, kp.Stage, to, ErrIllegalTransition)
	}
	kp.Stage = to
	metrics.StageTransitions.WithLabelValues("keypoint", to.String()).Inc()
	return nil
}

func (c *Controller) advanceSource(src *model.Source, to model.SourceStage) error {
	legal := (src.Stage == model.SourceUnchecked && (to == model.SourceCrossChecking || to == model.SourceUnretrievable)) ||
		(src.Stage == model.SourceCrossChecking && to == model.SourceRated)
	if !legal {
		return fmt.Errorf("source %s %s -> %s: %w", src.Key(), src.Stage, to, ErrIllegalTransition)
	}
	src.Stage = to
	metrics.StageTransitions.WithLabelValues("source", to.String()).Inc()
	return nil
}

func (c *Controller) notify(out *events, level model.NotificationLevel, msg string, dismissible bool) {
	n := model.Notification{
		Level:       level,
		Message:     msg,
		Dismissible: dismissible,
		At:          c.opts.Now(),
	}
	c.notices = append(c.notices, n)
	out.add(Event{Type: EventNotification, Notification: &n})
}

func (c *Controller) track(key string) {
	c.requested[key] = c.opts.Now()
}

func (c *Controller) untrack(key string) {
	delete(c.requested, key)
	delete(c.timedOut, key)
}

func sortControls(ids []ControlID) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Keypoint != b.Keypoint {
			return a.Keypoint < b.Keypoint
		}
		return a.Source < b.Source
	})
}
