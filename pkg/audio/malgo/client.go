// Package malgo adapts local audio devices (microphone and speaker) to the
// pipeline's Capture and Playback interfaces using the miniaudio bindings.
package malgo

import (
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// Client owns the miniaudio context shared by the capture and playback
// devices. Failure to initialise any device is fatal at startup; the pipeline
// cannot run without a microphone and a speaker.
type Client struct {
	audioContext *malgo.AllocatedContext

	Capture  *CaptureDevice
	Playback *PlaybackDevice
}

// Config selects the device formats. Capture and playback may run at
// different sample rates (recognition and synthesis backends rarely agree).
type Config struct {
	CaptureFormat  types.PCMFormat
	PlaybackFormat types.PCMFormat
}

// NewClient initialises the audio backend and both devices.
func NewClient(cfg Config) (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	client := &Client{audioContext: audioCtx}

	client.Capture = &CaptureDevice{format: cfg.CaptureFormat}
	if err := client.Capture.init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}

	client.Playback = &PlaybackDevice{format: cfg.PlaybackFormat}
	if err := client.Playback.init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	if err := client.Playback.start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}

	return client, nil
}

// Close stops and releases both devices and the audio context.
func (c *Client) Close() {
	if c.Capture != nil {
		_ = c.Capture.Close()
	}
	if c.Playback != nil {
		_ = c.Playback.Close()
	}
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}
