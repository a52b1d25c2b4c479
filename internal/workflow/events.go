package workflow

import "github.com/ppiankov/doppelcheck/internal/model"

// EventType names a workflow change the rendering layer reacts to
type EventType string

const (
	EventKeypointCreated     EventType = "keypoint_created"
	EventKeypointText        EventType = "keypoint_text"
	EventKeypointReady       EventType = "keypoint_ready"
	EventKeypointDismissed   EventType = "keypoint_dismissed"
	EventBatchDone           EventType = "batch_done"
	EventQuote               EventType = "quote"
	EventSourcesRequested    EventType = "sources_requested"
	EventSourceAdded         EventType = "source_added"
	EventSourcesReady        EventType = "sources_ready"
	EventCrosscheckRequested EventType = "crosscheck_requested"
	EventRatingText          EventType = "rating_text"
	EventExplanationText     EventType = "explanation_text"
	EventSourceRated         EventType = "source_rated"
	EventControl             EventType = "control"
	EventNotification        EventType = "notification"
	EventTransportFailed     EventType = "transport_failed"
	EventPong                EventType = "pong"
)

// Event is a value snapshot of one change. Only the fields relevant to
// Type are set.
type Event struct {
	Type     EventType
	Keypoint int
	Source   int
	Text     string // appended segment, quote, or full keypoint text on ready

	Stage       model.Stage
	SourceStage model.SourceStage
	SourceInfo  *model.Source // copy, for EventSourceAdded and EventSourceRated

	Control      ControlID
	ControlState ControlState

	Notification *model.Notification
	Count        int // marks placed/removed, keypoints in batch, sources found
}

// Listener receives events in order. Listeners run while events are being
// delivered and must not call mutating Controller methods.
type Listener func(Event)

type events []Event

func (e *events) add(ev Event) {
	*e = append(*e, ev)
}
