package malgo

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/hibiki-ai/hibiki/pkg/audio"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

// CaptureDevice wraps a miniaudio capture device. The device callback copies
// each period into a fresh buffer and hands it to the registered callback;
// it never blocks, so downstream stalls cannot back up into the driver.
type CaptureDevice struct {
	format types.PCMFormat
	device *malgo.Device

	mu       sync.Mutex
	onFrame  func(frame []byte)
	onErr    func(err error)
	stopping bool
}

var _ audio.Capture = (*CaptureDevice)(nil)

func (c *CaptureDevice) init(audioCtx *malgo.AllocatedContext) error {
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * c.format.Channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(c.format.SampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(c.format.Channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = uint32(c.format.SampleRate / 100) // 10ms periods
	config.Periods = 3

	device, err := malgo.InitDevice(audioCtx.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			c.mu.Lock()
			onFrame := c.onFrame
			c.mu.Unlock()
			if onFrame != nil {
				frame := make([]byte, n)
				copy(frame, pInput[:n])
				onFrame(frame)
			}
		},
		Stop: func() {
			// Fires when the backend tears the device down on its own,
			// e.g. the default device disappeared. An intentional Stop()
			// sets stopping first.
			c.mu.Lock()
			onErr := c.onErr
			stopping := c.stopping
			c.mu.Unlock()
			if !stopping && onErr != nil {
				onErr(fmt.Errorf("malgo: capture device stopped unexpectedly"))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}

	c.device = device
	return nil
}

// Start begins delivering captured frames to onFrame. Unexpected device
// stops are reported through onErr.
func (c *CaptureDevice) Start(_ context.Context, onFrame func(frame []byte), onErr func(err error)) error {
	c.mu.Lock()
	c.onFrame = onFrame
	c.onErr = onErr
	c.stopping = false
	c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("malgo: capture device not initialized")
	}
	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("malgo: start capture device: %w", err)
	}
	return nil
}

// Stop halts frame delivery without releasing the device.
func (c *CaptureDevice) Stop() error {
	if c.device == nil {
		return fmt.Errorf("malgo: capture device not initialized")
	}
	if !c.device.IsStarted() {
		return nil
	}
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("malgo: stop capture device: %w", err)
	}

	c.mu.Lock()
	c.onFrame = nil
	c.onErr = nil
	c.mu.Unlock()
	return nil
}

// Format reports the fixed capture format.
func (c *CaptureDevice) Format() types.PCMFormat { return c.format }

// Close releases the device.
func (c *CaptureDevice) Close() error {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.mu.Lock()
	c.stopping = true
	c.onFrame = nil
	c.onErr = nil
	c.mu.Unlock()
	return nil
}
