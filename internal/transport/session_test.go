package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/doppelcheck/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// backend is a scripted websocket peer: for each request it receives, it
// answers with the frames returned by reply.
type backend struct {
	server   *httptest.Server
	mu       sync.Mutex
	received []protocol.Request
	reply    func(req protocol.Request) []string
}

func newBackend(reply func(req protocol.Request) []string) *backend {
	b := &backend{reply: reply}
	b.server = httptest.NewServer(http.HandlerFunc(b.handleWS))
	return b
}

func (b *backend) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/talk" {
		http.NotFound(w, r)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		b.mu.Lock()
		b.received = append(b.received, req)
		b.mu.Unlock()

		for _, frame := range b.reply(req) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}
}

func (b *backend) requests() []protocol.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Request(nil), b.received...)
}

func (b *backend) talkURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/talk"
}

func (b *backend) address() string {
	return strings.TrimPrefix(b.server.URL, "http://")
}

func dial(t *testing.T, b *backend) *Session {
	t.Helper()
	s, err := Dial(context.Background(), Options{
		Address:     b.address(),
		URL:         b.talkURL(),
		InstanceID:  "test-instance",
		OriginalURL: "https://news.example.com/story",
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return s
}

func TestSession_PingPong(t *testing.T) {
	b := newBackend(func(req protocol.Request) []string {
		if req.MessageType == protocol.RequestPing {
			return []string{`{"message_type":"pong_message","instance_id":"test-instance"}`}
		}
		return nil
	})
	defer b.server.Close()

	s := dial(t, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan protocol.Frame, 1)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, func(f protocol.Frame) { frames <- f }) }()

	if err := s.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	select {
	case f := <-frames:
		if _, ok := f.Message.(protocol.Pong); !ok {
			t.Errorf("Expected Pong, got %T", f.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for pong")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected clean stop on cancel, got %v", err)
	}

	reqs := b.requests()
	if len(reqs) != 1 || reqs[0].InstanceID != "test-instance" || reqs[0].OriginalURL != "https://news.example.com/story" {
		t.Errorf("Expected one ping with envelope fields, got %+v", reqs)
	}
}

func TestSession_PendingClearedByTerminalFrame(t *testing.T) {
	b := newBackend(func(req protocol.Request) []string {
		if req.MessageType != protocol.RequestSources {
			return nil
		}
		return []string{
			`{"message_type":"sources_message","keypoint_id":4,"source_id":0,"content":"https://a.example"}`,
			`{"message_type":"sources_message","keypoint_id":4,"source_id":"","content":"","stop":true}`,
		}
	})
	defer b.server.Close()

	s := dial(t, b)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []protocol.Message
	stopped := make(chan struct{})
	go s.Run(ctx, func(f protocol.Frame) {
		mu.Lock()
		got = append(got, f.Message)
		mu.Unlock()
		if sf, ok := f.Message.(protocol.SourceFound); ok && sf.Stop {
			close(stopped)
		}
	})

	if err := s.Send(protocol.RequestSources, protocol.SourcesContent{KeypointID: 4, KeypointText: "claim"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := s.Send(protocol.RequestLog, "client log line"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for source batch end")
	}

	if pending := s.Pending(); len(pending) != 0 {
		t.Errorf("Expected no pending requests, got %v", pending)
	}

	sent := s.Sent()
	if len(sent) != 2 {
		t.Fatalf("Expected 2 recorded requests, got %d", len(sent))
	}
	if sent[0].Key != "sourcefinder:4" || sent[1].Key != "" {
		t.Errorf("Unexpected recorded keys: %q, %q", sent[0].Key, sent[1].Key)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("Expected 2 frames dispatched, got %d", len(got))
	}
}

func TestSession_PendingWhileStreaming(t *testing.T) {
	b := newBackend(func(req protocol.Request) []string { return nil })
	defer b.server.Close()

	s := dial(t, b)
	defer s.Close()

	if err := s.Send(protocol.RequestCrosscheck, protocol.CrosscheckContent{KeypointID: 1, SourceID: 2}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := s.Send(protocol.RequestKeypoints, "<html></html>"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	pending := s.Pending()
	want := []string{"crosschecker:1/2", "keypoint_new"}
	if len(pending) != len(want) || pending[0] != want[0] || pending[1] != want[1] {
		t.Errorf("Expected pending %v, got %v", want, pending)
	}

	s.Close()
	if len(s.Pending()) != 0 {
		t.Error("Expected Close to reset pending requests")
	}
	if err := s.Send(protocol.RequestPing, "ping"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestSession_ErrorFrameKeepsConnection(t *testing.T) {
	b := newBackend(func(req protocol.Request) []string {
		switch req.MessageType {
		case protocol.RequestKeypoints:
			return []string{`{"message_type":"error_message","content":"model overloaded"}`}
		case protocol.RequestPing:
			return []string{`{"message_type":"pong_message"}`}
		}
		return nil
	})
	defer b.server.Close()

	s := dial(t, b)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan protocol.Message, 4)
	go s.Run(ctx, func(f protocol.Frame) { frames <- f.Message })

	s.Send(protocol.RequestKeypoints, "<html></html>")
	s.Ping()

	kinds := []protocol.Kind{}
	for len(kinds) < 2 {
		select {
		case m := <-frames:
			kinds = append(kinds, m.Kind())
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out, got %v", kinds)
		}
	}
	if kinds[0] != protocol.KindError || kinds[1] != protocol.KindPong {
		t.Errorf("Expected error then pong, got %v", kinds)
	}
}

func TestDial_FailureCarriesFallbackURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := Dial(context.Background(), Options{
		Address:     "check.example.org",
		URL:         "ws" + strings.TrimPrefix(server.URL, "http") + "/talk",
		OriginalURL: "https://news.example.com/story",
	})

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *TransportError, got %v", err)
	}
	if terr.Op != "dial" {
		t.Errorf("Expected dial op, got %s", terr.Op)
	}
	want := "https://check.example.org/get_content/?url=https%3A%2F%2Fnews.example.com%2Fstory"
	if terr.FallbackURL != want {
		t.Errorf("Expected fallback %s, got %s", want, terr.FallbackURL)
	}
	if !strings.Contains(terr.Error(), want) {
		t.Errorf("Expected error text to mention fallback, got %s", terr.Error())
	}
}

func TestRun_UnexpectedCloseIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection without a close handshake
		conn.UnderlyingConn().Close()
	}))
	defer server.Close()

	s, err := Dial(context.Background(), Options{
		Address:     "check.example.org",
		URL:         "ws" + strings.TrimPrefix(server.URL, "http") + "/talk",
		OriginalURL: "https://news.example.com/story",
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()

	err = s.Run(context.Background(), func(protocol.Frame) {})
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "read" {
		t.Fatalf("Expected read *TransportError, got %v", err)
	}
	if terr.FallbackURL == "" {
		t.Error("Expected fallback URL on read failure")
	}
}
