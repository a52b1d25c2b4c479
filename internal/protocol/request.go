package protocol

import (
	"fmt"
	"strconv"
)

// RequestKind is the message_type of an outgoing request
type RequestKind string

const (
	RequestPing       RequestKind = "ping"
	RequestKeypoints  RequestKind = "keypoint_new" // content: full page HTML
	RequestSources    RequestKind = "sourcefinder" // content: SourcesContent
	RequestCrosscheck RequestKind = "crosschecker" // content: CrosscheckContent
	RequestLog        RequestKind = "log"          // content: free text
)

// Request is the envelope of every frame the client sends
type Request struct {
	MessageType RequestKind `json:"message_type"`
	InstanceID  string      `json:"instance_id"`
	OriginalURL string      `json:"original_url"`
	Content     any         `json:"content"`
}

// SourcesContent asks the backend to search sources for one keypoint
type SourcesContent struct {
	KeypointID   int    `json:"keypoint_id"`
	KeypointText string `json:"keypoint_text"`
}

// CrosscheckContent asks the backend to rate one source against one keypoint
type CrosscheckContent struct {
	KeypointID   int    `json:"keypoint_id"`
	KeypointText string `json:"keypoint_text"`
	SourceID     int    `json:"source_id"`
	SourceURI    string `json:"source_uri"`
	DataSource   string `json:"data_source,omitempty"`
}

// Key returns the correlation key of the request.
// Requests that expect no terminal frame (log) return an empty key.
func (r Request) Key() string {
	switch r.MessageType {
	case RequestPing:
		return PingKey()
	case RequestKeypoints:
		return KeypointsKey()
	case RequestSources:
		switch c := r.Content.(type) {
		case SourcesContent:
			return SourcesKey(c.KeypointID)
		case *SourcesContent:
			return SourcesKey(c.KeypointID)
		}
	case RequestCrosscheck:
		switch c := r.Content.(type) {
		case CrosscheckContent:
			return CrosscheckKey(c.KeypointID, c.SourceID)
		case *CrosscheckContent:
			return CrosscheckKey(c.KeypointID, c.SourceID)
		}
	}
	return ""
}

// PingKey correlates a ping with its pong
func PingKey() string { return string(RequestPing) }

// KeypointsKey correlates the extraction request with the end of its batch
func KeypointsKey() string { return string(RequestKeypoints) }

// SourcesKey correlates a source search with its terminal frame
func SourcesKey(keypointID int) string {
	return string(RequestSources) + ":" + strconv.Itoa(keypointID)
}

// CrosscheckKey correlates a cross-check with its terminal frame
func CrosscheckKey(keypointID, sourceID int) string {
	return fmt.Sprintf("%s:%d/%d", RequestCrosscheck, keypointID, sourceID)
}
