// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator sends correct
// Requests and to feed controlled reply streams without a live backend.
// All fields are safe to set before calling any method; mutating them during
// a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Deltas: []llm.Delta{{Text: "Hello!"}, {Done: true}},
//	}
//	stream, err := p.StreamReply(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/hibiki-ai/hibiki/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamReply.
type StreamCall struct {
	// Ctx is the context passed to StreamReply.
	Ctx context.Context
	// Req is the Request passed to StreamReply.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
// A zero-value Provider streams an empty reply (a lone Done delta).
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Deltas is the sequence of Delta values emitted on the channel returned
	// by StreamReply. If the last delta is not terminal, a Done delta is
	// appended automatically.
	Deltas []llm.Delta

	// StreamErr, if non-nil, is returned as the error from StreamReply
	// instead of starting a channel.
	StreamErr error

	// Gate, if non-nil, is received from before each delta is emitted.
	// Close it (or send repeatedly) to step the stream from a test; leave
	// nil for an ungated stream.
	Gate chan struct{}

	// --- Call records ---

	// StreamCalls records every call to StreamReply.
	StreamCalls []StreamCall
}

// StreamReply records the call and plays back Deltas on a fresh channel.
// The channel respects ctx: cancellation stops playback and closes it.
func (p *Provider) StreamReply(ctx context.Context, req llm.Request) (<-chan llm.Delta, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	deltas := make([]llm.Delta, len(p.Deltas))
	copy(deltas, p.Deltas)
	gate := p.Gate
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if n := len(deltas); n == 0 || (!deltas[n-1].Done && deltas[n-1].Err == nil) {
		deltas = append(deltas, llm.Delta{Done: true})
	}

	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		for _, d := range deltas {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Calls returns a snapshot of the recorded StreamReply calls. Thread-safe.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamCall, len(p.StreamCalls))
	copy(out, p.StreamCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
