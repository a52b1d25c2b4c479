// Package transport owns the single websocket connection between a check
// session and the Doppelcheck backend.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/doppelcheck/internal/metrics"
	"github.com/ppiankov/doppelcheck/internal/protocol"
	"github.com/ppiankov/doppelcheck/internal/util"
)

var ErrClosed = errors.New("session closed")

// TransportError is a terminal connection failure. The session is not
// retried; the user is pointed at the proxy-rendered page instead.
type TransportError struct {
	Op          string
	FallbackURL string
	Err         error
}

func (e *TransportError) Error() string {
	if e.FallbackURL == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s: %v (open %s instead)", e.Op, e.Err, e.FallbackURL)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a session
type Options struct {
	Address          string // backend host[:port], used for the fallback URL
	URL              string // websocket endpoint, e.g. wss://host/talk
	InstanceID       string
	OriginalURL      string // page being checked
	InsecureTLS      bool
	HTTPProxy        string
	HTTPSProxy       string
	NoProxy          string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Sent is one outbound request as recorded by the session
type Sent struct {
	Kind protocol.RequestKind
	Key  string
	At   time.Time
}

// Session is one connection lifetime. Writes are serialized; frames are
// read and dispatched by a single goroutine in Run.
type Session struct {
	opts   Options
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]time.Time
	sent    []Sent
	closed  bool
}

// Dial opens the session's connection
func Dial(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	dialer := websocket.Dialer{
		Proxy:            util.NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy),
		HandshakeTimeout: timeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: opts.InsecureTLS}, //nolint:gosec // opt-in for self-hosted backends
	}

	conn, resp, err := dialer.DialContext(ctx, opts.URL, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		metrics.TransportFailures.WithLabelValues("dial").Inc()
		return nil, &TransportError{
			Op:          "dial",
			FallbackURL: fallback(opts),
			Err:         err,
		}
	}

	logger.Debug("session connected", "url", opts.URL, "instance_id", opts.InstanceID)
	return &Session{
		opts:    opts,
		conn:    conn,
		logger:  logger,
		pending: make(map[string]time.Time),
	}, nil
}

func fallback(opts Options) string {
	if opts.Address == "" || opts.OriginalURL == "" {
		return ""
	}
	return util.FallbackURL(opts.Address, opts.OriginalURL)
}

// InstanceID returns the id sent with every request
func (s *Session) InstanceID() string { return s.opts.InstanceID }

// FallbackURL returns the proxy page for the checked URL
func (s *Session) FallbackURL() string { return fallback(s.opts) }

// Send writes one request. The request's correlation key is recorded as
// pending until its terminal frame arrives.
func (s *Session) Send(kind protocol.RequestKind, content any) error {
	req := protocol.Request{
		MessageType: kind,
		InstanceID:  s.opts.InstanceID,
		OriginalURL: s.opts.OriginalURL,
		Content:     content,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	key := req.Key()
	now := time.Now()
	s.sent = append(s.sent, Sent{Kind: kind, Key: key, At: now})
	if key != "" {
		s.pending[key] = now
	}
	pending := len(s.pending)
	s.mu.Unlock()

	metrics.PendingRequests.Set(float64(pending))

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		metrics.TransportFailures.WithLabelValues("write").Inc()
		return &TransportError{Op: "write", FallbackURL: s.FallbackURL(), Err: err}
	}

	metrics.RequestsSent.WithLabelValues(string(kind)).Inc()
	s.logger.Debug("request sent", "kind", kind, "key", key)
	return nil
}

// Ping sends a connectivity probe; the pong arrives through Run
func (s *Session) Ping() error {
	return s.Send(protocol.RequestPing, "ping")
}

// Run reads frames until ctx is cancelled or the connection fails, handing
// each decoded frame to handler on the calling goroutine. A cancelled
// context or a normal close returns nil; anything else is a *TransportError.
func (s *Session) Run(ctx context.Context, handler func(protocol.Frame)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			metrics.TransportFailures.WithLabelValues("read").Inc()
			return &TransportError{Op: "read", FallbackURL: s.FallbackURL(), Err: err}
		}

		frame := protocol.Decode(data)
		kind := frame.Message.Kind()
		metrics.FramesReceived.WithLabelValues(string(kind)).Inc()

		if frame.InstanceID != "" && frame.InstanceID != s.opts.InstanceID {
			s.logger.Warn("frame for another instance", "kind", kind, "instance_id", frame.InstanceID)
		}
		if key, ok := protocol.Completes(frame.Message); ok {
			s.complete(key)
		}

		handler(frame)
	}
}

func (s *Session) complete(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	n := len(s.pending)
	s.mu.Unlock()
	metrics.PendingRequests.Set(float64(n))
}

// Pending returns the in-flight correlation keys, sorted
func (s *Session) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sent returns every request sent so far, in order
func (s *Session) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the session and forgets all pending requests
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = make(map[string]time.Time)
	s.mu.Unlock()
	metrics.PendingRequests.Set(0)

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
