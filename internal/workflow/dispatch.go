package workflow

import (
	"errors"
	"fmt"

	"github.com/ppiankov/doppelcheck/internal/assemble"
	"github.com/ppiankov/doppelcheck/internal/metrics"
	"github.com/ppiankov/doppelcheck/internal/model"
	"github.com/ppiankov/doppelcheck/internal/protocol"
	"github.com/ppiankov/doppelcheck/internal/registry"
	"github.com/ppiankov/doppelcheck/internal/score"
)

// Dispatch applies one inbound frame. It is called from the session's
// reader goroutine; one bad frame never stops the session.
func (c *Controller) Dispatch(frame protocol.Frame) {
	_ = c.do(func(out *events) error {
		c.dispatch(out, frame.Message)
		return nil
	})
}

func (c *Controller) dispatch(out *events, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Pong:
		out.add(Event{Type: EventPong})

	case protocol.KeypointSegment:
		c.onKeypointSegment(out, m)

	case protocol.Quote:
		c.onQuote(out, m)

	case protocol.SourceFound:
		c.onSource(out, m)

	case protocol.RatingSegment:
		src, ok := c.ratingTarget(out, m, m.KeypointID, m.SourceID)
		if !ok {
			return
		}
		ref := assemble.Ref{Target: assemble.TargetRating, Keypoint: m.KeypointID, Source: m.SourceID}
		if _, err := c.asm.AppendSegment(ref, m.Content, false, false); err != nil {
			c.reject(out, m, err)
			return
		}
		out.add(Event{Type: EventRatingText, Keypoint: src.KeypointID, Source: src.ID, Text: m.Content})

	case protocol.ExplanationSegment:
		src, ok := c.ratingTarget(out, m, m.KeypointID, m.SourceID)
		if !ok {
			return
		}
		c.onExplanation(out, m, src, m.Content, m.Stop)

	case protocol.CrosscheckResult:
		src, ok := c.ratingTarget(out, m, m.KeypointID, m.SourceID)
		if !ok {
			return
		}
		if m.HasMatchValue {
			c.matches[src.Key()] = m.MatchValue
		}
		c.onExplanation(out, m, src, m.Content, m.Stop)

	case protocol.ErrorNotice:
		c.logger.Error("server error", "message", m.Content)
		c.notify(out, model.NotifyError, "Server error: "+m.Content, false)

	case protocol.LogNotice:
		c.logger.Info("server log", "message", m.Content)
		c.notify(out, model.NotifyInfo, m.Content, true)

	case protocol.Unknown:
		c.logger.Warn("unknown message type", "type", m.Type)
		c.notify(out, model.NotifyWarn, fmt.Sprintf("Unknown message type %q", m.Type), true)

	case protocol.Malformed:
		c.logger.Warn("malformed frame", "error", m.Err, "size", len(m.Raw))
		c.notify(out, model.NotifyWarn, fmt.Sprintf("Malformed message from server: %v", m.Err), true)
	}
}

func (c *Controller) onKeypointSegment(out *events, m protocol.KeypointSegment) {
	if !m.HasKeypoint {
		if m.StopAll {
			c.finishBatch(out)
		}
		return
	}

	ref := assemble.Ref{Target: assemble.TargetKeypoint, Keypoint: m.KeypointID}
	res, err := c.asm.AppendSegment(ref, m.Content, m.Stop, m.StopAll)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrDismissed):
			c.logger.Debug("frame for dismissed keypoint dropped", "keypoint", m.KeypointID)
		case errors.Is(err, assemble.ErrSealed) && m.Content == "" && (m.Stop || m.StopAll):
			// repeated terminator for a finished keypoint
			c.logger.Debug("redundant stop for sealed keypoint", "keypoint", m.KeypointID)
		default:
			c.reject(out, m, err)
		}
		if m.StopAll {
			c.finishBatch(out)
		}
		return
	}

	kp, err := c.reg.Keypoint(m.KeypointID)
	if err != nil {
		c.reject(out, m, err)
		return
	}
	if res.Created {
		c.keypointCreated(out, kp)
	}
	if m.Content != "" {
		out.add(Event{Type: EventKeypointText, Keypoint: kp.ID, Text: m.Content, Stage: kp.Stage})
	}
	if res.Sealed {
		c.keypointReady(out, kp)
	}
	if res.BatchDone {
		c.batchFinished(out)
	}
}

func (c *Controller) keypointCreated(out *events, kp *model.Keypoint) {
	metrics.StageTransitions.WithLabelValues("keypoint", kp.Stage.String()).Inc()
	out.add(Event{Type: EventKeypointCreated, Keypoint: kp.ID, Stage: kp.Stage})
	c.setControl(out, FindSourcesControl(kp.ID), ControlDisabled)
}

func (c *Controller) keypointReady(out *events, kp *model.Keypoint) {
	if err := c.advanceKeypoint(kp, model.StageReady); err != nil {
		c.logger.Warn("keypoint not ready", "keypoint", kp.ID, "error", err)
		return
	}
	out.add(Event{Type: EventKeypointReady, Keypoint: kp.ID, Text: kp.Text, Stage: kp.Stage})

	if c.opts.AutoSources && c.failed == nil {
		if err := c.findSources(out, kp); err != nil {
			c.logger.Warn("automatic source search failed", "keypoint", kp.ID, "error", err)
		}
		return
	}
	c.setControl(out, FindSourcesControl(kp.ID), ControlEnabled)
}

func (c *Controller) finishBatch(out *events) {
	if c.asm.FinishBatch(assemble.TargetKeypoint) {
		c.batchFinished(out)
	}
}

func (c *Controller) batchFinished(out *events) {
	c.batchDone = true
	c.setControl(out, StartControl, ControlRemoved)
	out.add(Event{Type: EventBatchDone, Count: c.reg.Len()})
}

func (c *Controller) onQuote(out *events, m protocol.Quote) {
	kp, created, err := c.reg.GetOrCreateKeypoint(m.KeypointID)
	if err != nil {
		c.logger.Debug("quote for dismissed keypoint dropped", "keypoint", m.KeypointID)
		return
	}
	if created {
		c.keypointCreated(out, kp)
	}
	kp.Quotes = append(kp.Quotes, m.Content)

	marks := 0
	if c.opts.Highlighter != nil {
		marks, err = c.opts.Highlighter.Highlight(m.Content, kp.ID)
		if err != nil {
			c.logger.Warn("highlight failed", "keypoint", kp.ID, "error", err)
		}
	}
	out.add(Event{Type: EventQuote, Keypoint: kp.ID, Text: m.Content, Count: marks})
}

func (c *Controller) onSource(out *events, m protocol.SourceFound) {
	kp, err := c.reg.Keypoint(m.KeypointID)
	if err != nil {
		if errors.Is(err, registry.ErrDismissed) {
			c.logger.Debug("source for dismissed keypoint dropped", "keypoint", m.KeypointID)
			return
		}
		c.reject(out, m, err)
		return
	}
	if kp.Stage < model.StageFindingSources {
		c.reject(out, m, fmt.Errorf("keypoint %d did not request sources: %w", kp.ID, ErrIllegalTransition))
		return
	}

	if m.HasSource {
		if kp.Stage == model.StageSourcesReady {
			c.reject(out, m, fmt.Errorf("source %d/%d after the source search ended: %w", kp.ID, m.SourceID, ErrIllegalTransition))
			return
		}
		src, created, err := c.reg.GetOrCreateSource(kp.ID, m.SourceID)
		if err != nil {
			c.reject(out, m, err)
			return
		}
		if created {
			c.sourceAdded(out, kp, src, m)
		} else {
			c.logger.Debug("duplicate source frame", "source", src.Key())
		}
	}

	if m.Stop && kp.Stage == model.StageFindingSources {
		if err := c.advanceKeypoint(kp, model.StageSourcesReady); err != nil {
			c.reject(out, m, err)
			return
		}
		c.untrack(protocol.SourcesKey(kp.ID))
		out.add(Event{Type: EventSourcesReady, Keypoint: kp.ID, Stage: kp.Stage, Count: len(kp.Sources)})
	}
}

func (c *Controller) sourceAdded(out *events, kp *model.Keypoint, src *model.Source, m protocol.SourceFound) {
	src.URI = m.URI
	src.Title = m.Title
	src.DataSource = m.DataSource
	src.Query = m.Query
	src.Retrievable = m.Success
	if c.opts.Classifier != nil && src.URI != "" {
		src.Authority, src.SameHost = c.opts.Classifier.Classify(src.URI)
	}
	metrics.StageTransitions.WithLabelValues("source", model.SourceUnchecked.String()).Inc()

	id := CrosscheckControl(kp.ID, src.ID)
	if !src.Retrievable {
		_ = c.advanceSource(src, model.SourceUnretrievable)
		info := copySource(src)
		out.add(Event{Type: EventSourceAdded, Keypoint: kp.ID, Source: src.ID, SourceStage: src.Stage, SourceInfo: &info})
		c.setControl(out, id, ControlDisabled)
		return
	}

	info := copySource(src)
	out.add(Event{Type: EventSourceAdded, Keypoint: kp.ID, Source: src.ID, SourceStage: src.Stage, SourceInfo: &info})
	if c.opts.AutoCrosscheck && c.failed == nil {
		c.controls[id] = ControlEnabled
		if err := c.crosscheck(out, kp, src); err != nil {
			c.logger.Warn("automatic cross-check failed", "source", src.Key(), "error", err)
		}
		return
	}
	c.setControl(out, id, ControlEnabled)
}

// ratingTarget resolves the source a rating frame addresses. Only a
// source with a cross-check in flight accepts rating text.
func (c *Controller) ratingTarget(out *events, m protocol.Message, keypointID, sourceID int) (*model.Source, bool) {
	src, err := c.reg.Source(model.SourceKey{Keypoint: keypointID, Source: sourceID})
	if err != nil {
		if errors.Is(err, registry.ErrDismissed) {
			c.logger.Debug("rating for dismissed keypoint dropped", "keypoint", keypointID)
			return nil, false
		}
		c.reject(out, m, err)
		return nil, false
	}
	if src.Stage != model.SourceCrossChecking {
		c.reject(out, m, fmt.Errorf("source %s is %s: %w", src.Key(), src.Stage, ErrIllegalTransition))
		return nil, false
	}
	return src, true
}

func (c *Controller) onExplanation(out *events, m protocol.Message, src *model.Source, text string, stop bool) {
	ref := assemble.Ref{Target: assemble.TargetExplanation, Keypoint: src.KeypointID, Source: src.ID}
	res, err := c.asm.AppendSegment(ref, text, stop, false)
	if err != nil {
		c.reject(out, m, err)
		return
	}
	if text != "" {
		out.add(Event{Type: EventExplanationText, Keypoint: src.KeypointID, Source: src.ID, Text: text})
	}
	if res.Sealed {
		c.rate(out, src)
	}
}

func (c *Controller) rate(out *events, src *model.Source) {
	if src.Rating == nil {
		src.Rating = &model.Rating{}
	}
	var match *float64
	if v, ok := c.matches[src.Key()]; ok {
		match = &v
	}
	rateErr := score.Rate(src.Rating, match)

	if err := c.advanceSource(src, model.SourceRated); err != nil {
		c.logger.Warn("source not rated", "source", src.Key(), "error", err)
		return
	}
	c.untrack(protocol.CrosscheckKey(src.KeypointID, src.ID))

	if rateErr != nil {
		c.logger.Warn("unreadable rating", "source", src.Key(), "raw", src.Rating.Raw, "error", rateErr)
		c.notify(out, model.NotifyWarn, fmt.Sprintf("Could not read the rating of source %s: %v", src.Key(), rateErr), true)
	} else {
		metrics.Ratings.WithLabelValues(string(src.Rating.Band)).Inc()
	}

	info := copySource(src)
	out.add(Event{Type: EventSourceRated, Keypoint: src.KeypointID, Source: src.ID, SourceStage: src.Stage, SourceInfo: &info})
}

func (c *Controller) reject(out *events, m protocol.Message, err error) {
	c.logger.Warn("frame rejected", "kind", m.Kind(), "error", err)
	c.notify(out, model.NotifyWarn, fmt.Sprintf("Ignored %s: %v", m.Kind(), err), true)
}
