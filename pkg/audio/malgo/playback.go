package malgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/hibiki-ai/hibiki/pkg/audio"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

// PlaybackDevice wraps a miniaudio playback device. Written PCM accumulates
// in an internal buffer drained by the device callback; when the buffer runs
// dry the callback emits silence, so the device never starves.
type PlaybackDevice struct {
	format types.PCMFormat
	device *malgo.Device

	mu       sync.Mutex
	buffered []byte
	drained  chan struct{} // closed and replaced whenever the buffer empties
}

var _ audio.Playback = (*PlaybackDevice)(nil)

func (p *PlaybackDevice) init(audioCtx *malgo.AllocatedContext) error {
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * p.format.Channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(p.format.SampleRate)
	config.Playback.Format = format
	config.Playback.Channels = uint32(p.format.Channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(p.format.SampleRate / 10) // ~100ms of audio
	config.Periods = 4

	p.drained = make(chan struct{})
	close(p.drained)

	device, err := malgo.InitDevice(audioCtx.Context, config, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pOutput) < n {
				return
			}

			p.mu.Lock()
			copied := copy(pOutput[:n], p.buffered)
			p.buffered = p.buffered[copied:]
			if len(p.buffered) == 0 {
				p.signalDrainedLocked()
			}
			p.mu.Unlock()

			for i := copied; i < n; i++ {
				pOutput[i] = 0
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}

	p.device = device
	return nil
}

func (p *PlaybackDevice) start() error {
	if p.device == nil {
		return fmt.Errorf("playback device not initialized")
	}
	return p.device.Start()
}

// Write queues PCM for playback.
func (p *PlaybackDevice) Write(pcm []byte) error {
	if p.device == nil {
		return fmt.Errorf("malgo: playback device not initialized")
	}
	if !p.device.IsStarted() {
		return fmt.Errorf("malgo: playback device not started")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffered) == 0 && len(pcm) > 0 {
		p.drained = make(chan struct{})
	}
	p.buffered = append(p.buffered, pcm...)
	return nil
}

// Drain blocks until all queued audio has been consumed by the device
// callback (plus one period of slack for the hardware to play it out).
func (p *PlaybackDevice) Drain(ctx context.Context) error {
	p.mu.Lock()
	drained := p.drained
	p.mu.Unlock()

	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	// One device period of slack: the callback consumed the bytes but the
	// hardware is still voicing the last period.
	period := p.format.Duration(p.format.BytesPerSecond() / 10)
	select {
	case <-time.After(period):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear discards all queued, unplayed audio.
func (p *PlaybackDevice) Clear() {
	p.mu.Lock()
	p.buffered = nil
	p.signalDrainedLocked()
	p.mu.Unlock()
}

// Format reports the fixed playback format.
func (p *PlaybackDevice) Format() types.PCMFormat { return p.format }

// Close stops and releases the device.
func (p *PlaybackDevice) Close() error {
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	return nil
}

// signalDrainedLocked closes the drained channel if it is still open.
// Callers must hold p.mu.
func (p *PlaybackDevice) signalDrainedLocked() {
	select {
	case <-p.drained:
	default:
		close(p.drained)
	}
}
