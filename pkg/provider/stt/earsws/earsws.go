// Package earsws is the websocket client to the speech-recognition service.
//
// The service exposes a persistent duplex endpoint (conventionally
// ws://host:port/listen): the client streams binary linear-PCM frames and
// plain-text control commands upstream, and receives JSON transcript events
// downstream:
//
//	{"type":"interim","text":"...","confidence":0.93}
//	{"type":"final","text":"...","confidence":0.98}
//
// The server may interleave service lines ("ACK: ...", "STATE: LISTENING");
// these are logged and skipped. Reconnection is the caller's job — the
// pipeline owns the backoff policy, the client only reports that the stream
// died.
package earsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hibiki-ai/hibiki/pkg/provider/stt"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

const (
	// Control commands understood by the recognition service.
	cmdPause  = "PAUSE_LISTENING"
	cmdResume = "RESUME_LISTENING"

	defaultAudioBuf = 256
	defaultEventBuf = 64
)

// ProtocolError reports a malformed or unexpected message from the
// recognition service. The connection is not assumed broken.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "earsws: protocol error: " + e.Msg }

// ErrorClass implements the pipeline's failure taxonomy.
func (e *ProtocolError) ErrorClass() string { return "protocol" }

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithDialTimeout bounds each dial attempt. Default 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// Client implements stt.Provider for the recognition websocket service.
type Client struct {
	endpoint    string
	dialTimeout time.Duration
}

var _ stt.Provider = (*Client)(nil)

// New creates a client for the recognition service at endpoint
// (e.g., "ws://127.0.0.1:8001/listen").
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("earsws: endpoint must not be empty")
	}
	c := &Client{endpoint: endpoint, dialTimeout: 10 * time.Second}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// StartStream dials the recognition service and returns a live session.
func (c *Client) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("earsws: dial %s: %w", c.endpoint, err)
	}
	// Audio frames may outgrow the library default read limit on echo paths.
	conn.SetReadLimit(1 << 22)

	sess := &session{
		conn:   conn,
		audio:  make(chan []byte, defaultAudioBuf),
		events: make(chan stt.Event, defaultEventBuf),
		done:   make(chan struct{}),
	}

	// The service starts paused after accepting a connection; kick it into
	// listening before the first frame arrives.
	if err := sess.sendControl(ctx, cmdResume); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("earsws: handshake: %w", err)
	}

	sess.wg.Add(2)
	go sess.readLoop()
	go sess.writeLoop()

	return sess, nil
}

// session is a live recognition stream. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	audio  chan []byte
	events chan stt.Event

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// transcriptEvent is the JSON shape of a recognition result.
type transcriptEvent struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SendAudio queues one PCM frame for delivery.
func (s *session) SendAudio(frame []byte) error {
	select {
	case <-s.done:
		return errors.New("earsws: session is closed")
	default:
	}
	select {
	case s.audio <- frame:
		return nil
	case <-s.done:
		return errors.New("earsws: session is closed")
	}
}

// Events returns the transcript event stream.
func (s *session) Events() <-chan stt.Event { return s.events }

// Pause asks the service to stop emitting transcripts.
func (s *session) Pause() error { return s.sendControl(context.Background(), cmdPause) }

// Resume reverses Pause.
func (s *session) Resume() error { return s.sendControl(context.Background(), cmdResume) }

// Close terminates the session cleanly. Idempotent.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

func (s *session) sendControl(ctx context.Context, cmd string) error {
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		return fmt.Errorf("earsws: send %s: %w", cmd, err)
	}
	return nil
}

// writeLoop drains the audio channel onto the wire.
func (s *session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case frame := <-s.audio:
			if err := s.conn.Write(context.Background(), websocket.MessageBinary, frame); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop receives messages from the service and dispatches transcript
// events. Protocol errors are delivered but leave the stream running; only
// a failed read ends the loop, closing the events channel after the
// terminal error unless the close was clean.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(context.Background())
		if err != nil {
			select {
			case <-s.done:
				// Caller-initiated close, not an error.
			default:
				s.deliver(stt.Event{Err: fmt.Errorf("earsws: read: %w", err)})
			}
			return
		}

		event, ok, err := parseMessage(msg)
		if err != nil {
			// A garbled message does not mean the connection is broken;
			// report it and keep reading.
			s.deliver(stt.Event{Err: err})
			continue
		}
		if !ok {
			continue
		}
		s.deliver(stt.Event{Transcript: event})
	}
}

func (s *session) deliver(event stt.Event) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

// parseMessage decodes one downstream message. Service lines ("ACK: …",
// "STATE: …") and empty messages are skipped; anything that is neither a
// service line nor a well-formed transcript event is a protocol error.
func parseMessage(msg []byte) (types.Transcript, bool, error) {
	text := strings.TrimSpace(string(msg))
	if text == "" {
		return types.Transcript{}, false, nil
	}

	upper := strings.ToUpper(text)
	if strings.HasPrefix(upper, "ACK:") || strings.HasPrefix(upper, "STATE:") {
		slog.Debug("earsws: service message", "message", text)
		return types.Transcript{}, false, nil
	}

	var event transcriptEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return types.Transcript{}, false, &ProtocolError{Msg: fmt.Sprintf("unparseable message %q", truncate(text, 120))}
	}

	switch event.Type {
	case "interim", "final":
	default:
		return types.Transcript{}, false, &ProtocolError{Msg: fmt.Sprintf("unknown event type %q", event.Type)}
	}

	return types.Transcript{
		Text:       event.Text,
		IsFinal:    event.Type == "final",
		Confidence: event.Confidence,
		Timestamp:  time.Now(),
	}, true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
