// Package mock provides in-memory Capture and Playback implementations for
// pipeline tests. Capture replays scripted frames; Playback records every
// write and reports them on a channel so tests can assert ordering.
package mock

import (
	"context"
	"sync"

	"github.com/hibiki-ai/hibiki/pkg/audio"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

// Capture replays a scripted list of frames to the registered callback as
// fast as the consumer allows. Tests may also inject frames at runtime via
// Inject.
type Capture struct {
	// Frames are delivered in order on Start.
	Frames [][]byte

	// FormatValue is returned by Format.
	FormatValue types.PCMFormat

	mu      sync.Mutex
	onFrame func([]byte)
	onErr   func(error)
	started bool
	starts  int
	stops   int
}

var _ audio.Capture = (*Capture)(nil)

// Start delivers the scripted frames synchronously, then returns.
func (c *Capture) Start(_ context.Context, onFrame func(frame []byte), onErr func(err error)) error {
	c.mu.Lock()
	c.onFrame = onFrame
	c.onErr = onErr
	c.started = true
	c.starts++
	frames := c.Frames
	c.mu.Unlock()

	for _, frame := range frames {
		onFrame(frame)
	}
	return nil
}

// Inject delivers one extra frame, simulating live microphone input.
func (c *Capture) Inject(frame []byte) {
	c.mu.Lock()
	onFrame := c.onFrame
	c.mu.Unlock()
	if onFrame != nil {
		onFrame(frame)
	}
}

// Fail reports a device error, simulating the driver losing the device.
func (c *Capture) Fail(err error) {
	c.mu.Lock()
	onErr := c.onErr
	c.mu.Unlock()
	if onErr != nil {
		onErr(err)
	}
}

// Stop halts delivery.
func (c *Capture) Stop() error {
	c.mu.Lock()
	c.onFrame = nil
	c.onErr = nil
	c.started = false
	c.stops++
	c.mu.Unlock()
	return nil
}

// StartCount reports how many times Start was called.
func (c *Capture) StartCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// StopCount reports how many times Stop was called.
func (c *Capture) StopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Format reports the configured format.
func (c *Capture) Format() types.PCMFormat { return c.FormatValue }

// Close is a no-op.
func (c *Capture) Close() error { return nil }

// Playback records written PCM. Each Write is appended to Writes and, when
// Played is non-nil, a copy is sent there so tests can observe playout order.
type Playback struct {
	// FormatValue is returned by Format.
	FormatValue types.PCMFormat

	// Played receives a copy of every written chunk when non-nil.
	Played chan []byte

	mu      sync.Mutex
	writes  [][]byte
	cleared int
}

var _ audio.Playback = (*Playback)(nil)

// Write records the chunk.
func (p *Playback) Write(pcm []byte) error {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	p.mu.Lock()
	p.writes = append(p.writes, buf)
	p.mu.Unlock()

	if p.Played != nil {
		p.Played <- buf
	}
	return nil
}

// Drain returns immediately; the mock plays instantaneously.
func (p *Playback) Drain(ctx context.Context) error { return ctx.Err() }

// Clear counts the discard; recorded writes are kept for assertions.
func (p *Playback) Clear() {
	p.mu.Lock()
	p.cleared++
	p.mu.Unlock()
}

// Writes returns a snapshot of everything written so far.
func (p *Playback) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// ClearCount reports how many times Clear was called.
func (p *Playback) ClearCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleared
}

// Format reports the configured format.
func (p *Playback) Format() types.PCMFormat { return p.FormatValue }

// Close is a no-op.
func (p *Playback) Close() error { return nil }
