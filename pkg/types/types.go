// Package types defines the shared types used across all Hibiki packages.
//
// These types form the lingua franca between the provider clients, the audio
// layer, and the pipeline orchestrator. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// PCMFormat describes raw linear-PCM audio: the agreed fixed format of every
// frame travelling between capture↔recognition and synthesis↔playback.
type PCMFormat struct {
	// SampleRate in Hz (e.g., 16000 on the recognition path, 24000 on the
	// synthesis path).
	SampleRate int

	// Channels is the channel count. The pipeline runs mono end to end.
	Channels int

	// BytesPerSample is the sample width in bytes (2 for s16le).
	BytesPerSample int
}

// BytesPerSecond returns the byte rate of the format.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample
}

// Duration returns the play time of n bytes of audio in this format.
func (f PCMFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// Bytes returns the number of bytes covering d of audio in this format,
// rounded down to a whole sample.
func (f PCMFormat) Bytes(d time.Duration) int {
	n := int(d.Seconds() * float64(f.BytesPerSecond()))
	step := f.Channels * f.BytesPerSample
	if step > 0 {
		n -= n % step
	}
	return n
}

// Transcript represents a speech-to-text result from the recognition service.
// Both interim and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or interim
	// (superseded by later events) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the service does not report confidence.
	Confidence float64

	// Timestamp marks when the event was received.
	Timestamp time.Time
}

// VoiceProfile identifies a server-side fine-tuned synthesis voice. Switching
// profiles may incur a one-time adapter load on the synthesis backend, which
// the pipeline tolerates through its extended first-call timeout.
type VoiceProfile struct {
	// ID is the speaker identifier understood by the synthesis service
	// (e.g., the name of a trained LoRA adapter).
	ID string

	// Name is an optional human-readable label.
	Name string
}

// Message is one entry of the conversation history handed to the generation
// backend alongside a new prompt.
type Message struct {
	// Role is RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
