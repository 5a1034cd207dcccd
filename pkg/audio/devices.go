package audio

import (
	"context"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// Capture is a continuous microphone source. Implementations deliver
// fixed-format PCM frames to the callback from a device-owned goroutine or
// callback thread; the callback must not block, which is why the pipeline
// always points it at a [FrameQueue].
type Capture interface {
	// Start begins delivering frames to onFrame. Failure to open the device
	// is fatal at startup; implementations report transient device errors
	// through onErr (may be nil) and keep capturing where possible.
	Start(ctx context.Context, onFrame func(frame []byte), onErr func(err error)) error

	// Stop halts frame delivery. The device may be restarted.
	Stop() error

	// Format reports the fixed capture format.
	Format() types.PCMFormat

	// Close releases the device.
	Close() error
}

// Playback is the single ordered audio sink. Writes append to a device
// buffer drained at the device's own cadence.
type Playback interface {
	// Write queues PCM for playback. It returns once the audio is accepted
	// into the device buffer, not once it is audible.
	Write(pcm []byte) error

	// Drain blocks until everything queued so far has been played out or ctx
	// is cancelled.
	Drain(ctx context.Context) error

	// Clear discards all queued, unplayed audio. Used on barge-in.
	Clear()

	// Format reports the fixed playback format.
	Format() types.PCMFormat

	// Close releases the device.
	Close() error
}
