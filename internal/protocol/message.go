package protocol

import "encoding/json"

// Kind names an inbound message variant
type Kind string

const (
	KindPong        Kind = "pong_message"
	KindKeypoint    Kind = "keypoint_message"
	KindQuote       Kind = "quote_message"
	KindSources     Kind = "sources_message"
	KindRating      Kind = "rating_message"
	KindExplanation Kind = "explanation_message"
	KindCrosscheck  Kind = "crosscheck_message"
	KindError       Kind = "error_message"
	KindLog         Kind = "log_message"
	KindUnknown     Kind = "unknown"
	KindMalformed   Kind = "malformed"
)

// Message is one decoded inbound frame. The set of variants is closed;
// anything the decoder does not recognise becomes Unknown or Malformed.
type Message interface {
	Kind() Kind
	isMessage()
}

// Frame is a decoded message together with its envelope
type Frame struct {
	InstanceID string
	Message    Message
}

// Pong answers a ping
type Pong struct{}

// KeypointSegment is a chunk of a keypoint's text.
// A frame without keypoint id only carries the batch terminator.
type KeypointSegment struct {
	KeypointID  int
	HasKeypoint bool
	Content     string
	Stop        bool // last segment of this keypoint
	StopAll     bool // last message of the extraction batch
}

// Quote is a page excerpt that supports a keypoint
type Quote struct {
	KeypointID int
	Content    string
}

// SourceFound announces one retrieved source, or ends the source batch
// of a keypoint when Stop is set. Legacy frames may do both at once.
type SourceFound struct {
	KeypointID int
	SourceID   int
	HasSource  bool
	URI        string
	Title      string
	DataSource string
	Query      string
	Success    bool
	Stop       bool
}

// RatingSegment is a chunk of the raw rating text of a source
type RatingSegment struct {
	KeypointID int
	SourceID   int
	Content    string
}

// ExplanationSegment is a chunk of the rating explanation of a source
type ExplanationSegment struct {
	KeypointID int
	SourceID   int
	Content    string
	Stop       bool
}

// CrosscheckResult carries a numeric match value together with
// explanation text (crosscheck_message and legacy compare frames)
type CrosscheckResult struct {
	KeypointID    int
	SourceID      int
	MatchValue    float64
	HasMatchValue bool
	Content       string
	Stop          bool
}

// ErrorNotice is an application error reported by the backend
type ErrorNotice struct {
	Content string
}

// LogNotice is an informational message from the backend
type LogNotice struct {
	Content string
}

// Unknown is a well-formed frame of a kind this client does not handle
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

// Malformed is a frame that could not be decoded
type Malformed struct {
	Err error
	Raw []byte
}

func (Pong) Kind() Kind               { return KindPong }
func (KeypointSegment) Kind() Kind    { return KindKeypoint }
func (Quote) Kind() Kind              { return KindQuote }
func (SourceFound) Kind() Kind        { return KindSources }
func (RatingSegment) Kind() Kind      { return KindRating }
func (ExplanationSegment) Kind() Kind { return KindExplanation }
func (CrosscheckResult) Kind() Kind   { return KindCrosscheck }
func (ErrorNotice) Kind() Kind        { return KindError }
func (LogNotice) Kind() Kind          { return KindLog }
func (Unknown) Kind() Kind            { return KindUnknown }
func (Malformed) Kind() Kind          { return KindMalformed }

func (Pong) isMessage()               {}
func (KeypointSegment) isMessage()    {}
func (Quote) isMessage()              {}
func (SourceFound) isMessage()        {}
func (RatingSegment) isMessage()      {}
func (ExplanationSegment) isMessage() {}
func (CrosscheckResult) isMessage()   {}
func (ErrorNotice) isMessage()        {}
func (LogNotice) isMessage()          {}
func (Unknown) isMessage()            {}
func (Malformed) isMessage()          {}

// Completes returns the correlation key that m terminates, if any
func Completes(m Message) (string, bool) {
	switch v := m.(type) {
	case Pong:
		return PingKey(), true
	case KeypointSegment:
		if v.StopAll {
			return KeypointsKey(), true
		}
	case SourceFound:
		if v.Stop {
			return SourcesKey(v.KeypointID), true
		}
	case ExplanationSegment:
		if v.Stop {
			return CrosscheckKey(v.KeypointID, v.SourceID), true
		}
	case CrosscheckResult:
		if v.Stop {
			return CrosscheckKey(v.KeypointID, v.SourceID), true
		}
	}
	return "", false
}
