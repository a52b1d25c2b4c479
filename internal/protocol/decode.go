package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNoKind = errors.New("frame has neither message_type nor purpose")

// optionalID accepts a JSON number, a numeric string, an empty string or null
type optionalID struct {
	Value int
	Set   bool
}

func (o *optionalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("id %q is not an integer", s)
		}
		o.Value, o.Set = n, true
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("id %s is not a number", b)
	}
	if f != float64(int(f)) {
		return fmt.Errorf("id %s is not an integer", b)
	}
	o.Value, o.Set = int(f), true
	return nil
}

// wireFrame is the union of the fields of both dialects
type wireFrame struct {
	MessageType string     `json:"message_type"`
	InstanceID  string     `json:"instance_id"`
	KeypointID  optionalID `json:"keypoint_id"`
	SourceID    optionalID `json:"source_id"`
	Content     *string    `json:"content"`
	Stop        bool       `json:"stop"`
	StopAll     bool       `json:"stop_all"`
	Title       string     `json:"title"`
	DataSource  string     `json:"data_source"`
	Query       string     `json:"query"`
	Success     *bool      `json:"success"`
	MatchValue  *float64   `json:"match_value"`

	// legacy "purpose" dialect
	Purpose     string     `json:"purpose"`
	ClaimID     optionalID `json:"claim_id"`
	DocumentID  optionalID `json:"document_id"`
	DocumentURI string     `json:"document_uri"`
	Segment     string     `json:"segment"`
	Highlight   string     `json:"highlight"`
	LastSegment bool       `json:"last_segment"`
	LastMessage bool       `json:"last_message"`
}

func (w *wireFrame) content() string {
	if w.Content == nil {
		return ""
	}
	return *w.Content
}

func (w *wireFrame) success() bool {
	return w.Success == nil || *w.Success
}

// Decode turns one raw frame into a Frame. It never fails: frames that
// cannot be parsed decode to Malformed, unrecognised kinds to Unknown.
func Decode(data []byte) Frame {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{Message: Malformed{Err: err, Raw: data}}
	}

	var (
		msg Message
		err error
	)
	switch {
	case w.MessageType != "":
		msg, err = decodeMature(&w, data)
	case w.Purpose != "":
		msg, err = decodeLegacy(&w, data)
	default:
		err = ErrNoKind
	}
	if err != nil {
		return Frame{InstanceID: w.InstanceID, Message: Malformed{Err: err, Raw: data}}
	}
	return Frame{InstanceID: w.InstanceID, Message: msg}
}

func decodeMature(w *wireFrame, raw []byte) (Message, error) {
	switch Kind(w.MessageType) {
	case KindPong:
		return Pong{}, nil

	case KindKeypoint:
		if !w.KeypointID.Set && !w.StopAll {
			return nil, fmt.Errorf("%s without keypoint_id", w.MessageType)
		}
		return KeypointSegment{
			KeypointID:  w.KeypointID.Value,
			HasKeypoint: w.KeypointID.Set,
			Content:     w.content(),
			Stop:        w.Stop,
			StopAll:     w.StopAll,
		}, nil

	case KindQuote:
		if !w.KeypointID.Set {
			return nil, fmt.Errorf("%s without keypoint_id", w.MessageType)
		}
		return Quote{KeypointID: w.KeypointID.Value, Content: w.content()}, nil

	case KindSources:
		if !w.KeypointID.Set {
			return nil, fmt.Errorf("%s without keypoint_id", w.MessageType)
		}
		if !w.SourceID.Set && !w.Stop {
			return nil, fmt.Errorf("%s without source_id", w.MessageType)
		}
		return SourceFound{
			KeypointID: w.KeypointID.Value,
			SourceID:   w.SourceID.Value,
			HasSource:  w.SourceID.Set,
			URI:        w.content(),
			Title:      w.Title,
			DataSource: w.DataSource,
			Query:      w.Query,
			Success:    w.success(),
			Stop:       w.Stop,
		}, nil

	case KindRating:
		if err := requireSource(w); err != nil {
			return nil, err
		}
		return RatingSegment{
			KeypointID: w.KeypointID.Value,
			SourceID:   w.SourceID.Value,
			Content:    w.content(),
		}, nil

	case KindExplanation:
		if err := requireSource(w); err != nil {
			return nil, err
		}
		return ExplanationSegment{
			KeypointID: w.KeypointID.Value,
			SourceID:   w.SourceID.Value,
			Content:    w.content(),
			Stop:       w.Stop,
		}, nil

	case KindCrosscheck:
		if err := requireSource(w); err != nil {
			return nil, err
		}
		return crosscheck(w.KeypointID.Value, w.SourceID.Value, w.MatchValue, w.content(), w.Stop), nil

	case KindError:
		return ErrorNotice{Content: w.content()}, nil

	case KindLog:
		return LogNotice{Content: w.content()}, nil
	}

	return Unknown{Type: w.MessageType, Raw: json.RawMessage(raw)}, nil
}

func decodeLegacy(w *wireFrame, raw []byte) (Message, error) {
	switch w.Purpose {
	case "pong":
		return Pong{}, nil

	case "extract":
		if !w.ClaimID.Set {
			return nil, errors.New("extract without claim_id")
		}
		if w.Highlight != "" {
			return Quote{KeypointID: w.ClaimID.Value, Content: w.Highlight}, nil
		}
		return KeypointSegment{
			KeypointID:  w.ClaimID.Value,
			HasKeypoint: true,
			Content:     w.Segment,
			Stop:        w.LastSegment,
			StopAll:     w.LastSegment && w.LastMessage,
		}, nil

	case "retrieve":
		if !w.ClaimID.Set {
			return nil, errors.New("retrieve without claim_id")
		}
		return SourceFound{
			KeypointID: w.ClaimID.Value,
			SourceID:   w.DocumentID.Value,
			HasSource:  w.DocumentID.Set && w.DocumentURI != "",
			URI:        w.DocumentURI,
			Title:      w.Segment,
			Success:    w.success(),
			Stop:       w.LastMessage,
		}, nil

	case "compare":
		if !w.ClaimID.Set || !w.DocumentID.Set {
			return nil, errors.New("compare without claim_id or document_id")
		}
		return crosscheck(w.ClaimID.Value, w.DocumentID.Value, w.MatchValue, w.Segment, w.LastSegment), nil
	}

	return Unknown{Type: w.Purpose, Raw: json.RawMessage(raw)}, nil
}

func requireSource(w *wireFrame) error {
	if !w.KeypointID.Set || !w.SourceID.Set {
		return fmt.Errorf("%s without keypoint_id or source_id", w.MessageType)
	}
	return nil
}

func crosscheck(keypointID, sourceID int, match *float64, content string, stop bool) CrosscheckResult {
	r := CrosscheckResult{
		KeypointID: keypointID,
		SourceID:   sourceID,
		Content:    content,
		Stop:       stop,
	}
	if match != nil {
		r.MatchValue, r.HasMatchValue = *match, true
	}
	return r
}
