// Package cosyvoice provides a speech-synthesis provider backed by a
// CosyVoice server over WebSocket.
//
// Each Synthesize call opens its own connection. The server greets with
// {"status":"connected"}, the client sends one synthesis request, and the
// server answers with a status message, PCM audio as binary frames, and a
// final {"status":"done"}. The first synthesis after process start is given
// a longer deadline because the server loads voice weights lazily.
package cosyvoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/hibiki-ai/hibiki/pkg/provider/tts"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

const (
	defaultColdStartTimeout = 60 * time.Second
	defaultSteadyTimeout    = 10 * time.Second

	defaultFrameBuf = 64

	// synthesisMode is the only generation mode the server supports for
	// pre-registered speakers.
	synthesisMode = "sft"
)

// ProtocolError reports a malformed or unexpected message from the
// synthesis service.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "cosyvoice: " + e.Msg }

// ErrorClass marks the error as a protocol violation.
func (e *ProtocolError) ErrorClass() string { return "protocol" }

// UpstreamError reports a synthesis the server explicitly rejected.
type UpstreamError struct {
	Msg string
}

func (e *UpstreamError) Error() string { return "cosyvoice: server error: " + e.Msg }

// ErrorClass marks the error as an upstream failure.
func (e *UpstreamError) ErrorClass() string { return "upstream" }

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithColdStartTimeout sets the deadline for the first synthesis after
// process start, covering the server's lazy voice-model load.
func WithColdStartTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.coldStartTimeout = d
	}
}

// WithSteadyTimeout sets the deadline for every synthesis after the first.
func WithSteadyTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.steadyTimeout = d
	}
}

// Client implements tts.Provider against a CosyVoice WebSocket server.
type Client struct {
	endpoint string
	format   types.PCMFormat

	coldStartTimeout time.Duration
	steadyTimeout    time.Duration

	// warmed flips to true once any synthesis has completed successfully.
	warmed atomic.Bool
}

// New creates a Client for the given ws:// or wss:// endpoint.
func New(endpoint string, format types.PCMFormat, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("cosyvoice: endpoint must not be empty")
	}
	c := &Client{
		endpoint:         endpoint,
		format:           format,
		coldStartTimeout: defaultColdStartTimeout,
		steadyTimeout:    defaultSteadyTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Format implements tts.Provider.
func (c *Client) Format() types.PCMFormat { return c.format }

// synthRequest is the JSON payload sent for each synthesis.
type synthRequest struct {
	Text    string `json:"text"`
	Mode    string `json:"mode"`
	Speaker string `json:"speaker"`
	Stream  bool   `json:"stream"`
}

// statusMessage covers every JSON message the server sends.
type statusMessage struct {
	Status  string `json:"status"`
	Stream  bool   `json:"stream"`
	Message string `json:"message"`
}

// Synthesize implements tts.Provider. It dials, waits for the greeting,
// sends the request, and hands the connection to a reader goroutine that
// feeds the Result.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	if req.Text == "" {
		return nil, errors.New("cosyvoice: text must not be empty")
	}

	deadline := c.steadyTimeout
	if !c.warmed.Load() {
		deadline = c.coldStartTimeout
	}

	// One deadline spans dial, greeting, request, and the wait for the
	// first audio frame. Ownership passes to the read loop on success.
	deadlineCtx, cancelDeadline := context.WithTimeout(ctx, deadline)

	conn, _, err := websocket.Dial(deadlineCtx, c.endpoint, nil)
	if err != nil {
		cancelDeadline()
		return nil, fmt.Errorf("cosyvoice: dial: %w", err)
	}
	conn.SetReadLimit(1 << 24)

	if err := awaitGreeting(deadlineCtx, conn); err != nil {
		cancelDeadline()
		conn.Close(websocket.StatusInternalError, "bad greeting")
		return nil, err
	}

	payload, err := json.Marshal(synthRequest{
		Text:    req.Text,
		Mode:    synthesisMode,
		Speaker: req.Voice.ID,
		Stream:  req.Streaming,
	})
	if err != nil {
		cancelDeadline()
		conn.Close(websocket.StatusInternalError, "marshal failed")
		return nil, fmt.Errorf("cosyvoice: marshal request: %w", err)
	}
	if err := conn.Write(deadlineCtx, websocket.MessageText, payload); err != nil {
		cancelDeadline()
		conn.Close(websocket.StatusInternalError, "request failed")
		return nil, fmt.Errorf("cosyvoice: send request: %w", err)
	}

	res := &result{
		conn:   conn,
		frames: make(chan []byte),
		raw:    make(chan []byte, defaultFrameBuf),
		done:   make(chan struct{}),
	}
	go res.readLoop(ctx, deadlineCtx, cancelDeadline, c)
	go res.forward()
	return res, nil
}

// awaitGreeting consumes the {"status":"connected"} handshake.
func awaitGreeting(ctx context.Context, conn *websocket.Conn) error {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("cosyvoice: read greeting: %w", err)
	}
	if typ != websocket.MessageText {
		return &ProtocolError{Msg: "expected text greeting, got binary"}
	}
	var msg statusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &ProtocolError{Msg: fmt.Sprintf("malformed greeting: %v", err)}
	}
	if msg.Status != "connected" {
		return &ProtocolError{Msg: fmt.Sprintf("unexpected greeting status %q", msg.Status)}
	}
	return nil
}

// result is the live state of one synthesis. The read loop queues decoded
// frames on raw; forward moves them to the public channel and stops dead on
// Cancel, so a cancelled result never hands out audio that was already
// queued.
type result struct {
	conn   *websocket.Conn
	frames chan []byte
	raw    chan []byte

	done chan struct{}
	once sync.Once

	connOnce sync.Once

	errMu sync.Mutex
	err   error
}

var _ tts.Result = (*result)(nil)

// Frames implements tts.Result.
func (r *result) Frames() <-chan []byte { return r.frames }

// Err implements tts.Result.
func (r *result) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Cancel implements tts.Result.
func (r *result) Cancel() {
	r.once.Do(func() {
		close(r.done)
	})
	r.closeConn(websocket.StatusNormalClosure, "cancelled")
}

func (r *result) closeConn(code websocket.StatusCode, reason string) {
	r.connOnce.Do(func() {
		r.conn.Close(code, reason)
	})
}

func (r *result) fail(err error) {
	r.errMu.Lock()
	r.err = err
	r.errMu.Unlock()
}

// forward drains raw into the public frames channel until the stream ends
// or the result is cancelled.
func (r *result) forward() {
	defer close(r.frames)
	for {
		select {
		case <-r.done:
			return
		case frame, ok := <-r.raw:
			if !ok {
				return
			}
			select {
			case r.frames <- frame:
			case <-r.done:
				return
			}
		}
	}
}

// readLoop consumes server messages until done, error, or cancellation.
// deadlineCtx is the single synthesis deadline armed before the dial; it
// covers everything up to the first audio frame, after which only ctx
// bounds the stream.
func (r *result) readLoop(ctx, deadlineCtx context.Context, cancelDeadline context.CancelFunc, c *Client) {
	defer close(r.raw)
	defer cancelDeadline()
	defer r.closeConn(websocket.StatusNormalClosure, "finished")

	readCtx := deadlineCtx
	firstFrame := true

	for {
		typ, data, err := r.conn.Read(readCtx)
		if err != nil {
			select {
			case <-r.done:
				// Cancelled locally; not a failure.
			default:
				if readCtx.Err() != nil && ctx.Err() == nil {
					err = fmt.Errorf("cosyvoice: synthesis deadline exceeded: %w", readCtx.Err())
				} else {
					err = fmt.Errorf("cosyvoice: read: %w", err)
				}
				r.fail(err)
			}
			return
		}

		if typ == websocket.MessageBinary {
			if firstFrame {
				firstFrame = false
				cancelDeadline()
				readCtx = ctx
				c.warmed.Store(true)
			}
			frame := make([]byte, len(data))
			copy(frame, data)
			select {
			case r.raw <- frame:
			case <-r.done:
				return
			case <-ctx.Done():
				r.fail(ctx.Err())
				return
			}
			continue
		}

		var msg statusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.fail(&ProtocolError{Msg: fmt.Sprintf("malformed status message: %v", err)})
			return
		}

		switch msg.Status {
		case "start", "complete":
			// Audio follows.
		case "done":
			c.warmed.Store(true)
			return
		case "error":
			r.fail(&UpstreamError{Msg: msg.Message})
			return
		default:
			slog.Debug("cosyvoice: ignoring status message", "status", msg.Status)
		}
	}
}
