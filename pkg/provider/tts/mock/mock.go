// Package mock provides test doubles for the tts package interfaces.
//
// Use Provider to verify that the caller dispatches the expected synthesis
// requests and to feed controlled audio without a live backend.
//
// Example:
//
//	p := &mock.Provider{Audio: [][]byte{{1, 2}, {3, 4}}}
//	res, _ := p.Synthesize(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/hibiki-ai/hibiki/pkg/provider/tts"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
// A zero-value Provider returns empty, immediately-completed results.
type Provider struct {
	mu sync.Mutex

	// Audio is the sequence of frames every Result emits before completing.
	Audio [][]byte

	// ResultErr, if non-nil, is reported by every Result's Err after its
	// frames are drained.
	ResultErr error

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// FormatValue is returned by Format.
	FormatValue types.PCMFormat

	// Hold, if non-nil, keeps every Result open (frames delivered, channel
	// not closed) until the channel is closed. Use it to test cancellation
	// of in-flight synthesis.
	Hold chan struct{}

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns a scripted Result.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	audio := make([][]byte, len(p.Audio))
	copy(audio, p.Audio)
	resultErr := p.ResultErr
	hold := p.Hold
	err := p.SynthesizeErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	res := &Result{
		FramesCh: make(chan []byte, len(audio)+1),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(res.FramesCh)
		for _, frame := range audio {
			select {
			case res.FramesCh <- frame:
			case <-res.done:
				return
			case <-ctx.Done():
				res.SetErr(ctx.Err())
				return
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-res.done:
				return
			case <-ctx.Done():
				res.SetErr(ctx.Err())
				return
			}
		}
		res.SetErr(resultErr)
	}()
	return res, nil
}

// Format returns FormatValue.
func (p *Provider) Format() types.PCMFormat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.FormatValue
}

// Calls returns a snapshot of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Result is a mock implementation of tts.Result.
type Result struct {
	mu sync.Mutex

	// FramesCh is the channel returned by Frames.
	FramesCh chan []byte

	// ErrValue is returned by Err.
	ErrValue error

	// CancelCallCount is the number of times Cancel was called.
	CancelCallCount int

	done     chan struct{}
	doneOnce sync.Once
}

// Frames implements tts.Result.
func (r *Result) Frames() <-chan []byte { return r.FramesCh }

// Err implements tts.Result.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ErrValue
}

// SetErr records the terminal error. Safe to call from the playback goroutine.
func (r *Result) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ErrValue = err
}

// Cancel implements tts.Result.
func (r *Result) Cancel() {
	r.mu.Lock()
	r.CancelCallCount++
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

// Ensure Result implements tts.Result at compile time.
var _ tts.Result = (*Result)(nil)
