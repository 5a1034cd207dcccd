// Package tts defines the Provider interface for speech-synthesis backends.
//
// A synthesis provider turns one sentence-sized piece of text into raw PCM
// audio. The primary entry point is Synthesize, which returns a Result whose
// Frames channel emits audio as it becomes available. Callers dispatch one
// request per sentence chunk and play the results back in chunk order.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// Request carries one piece of text to synthesise.
type Request struct {
	// Text is the sentence to speak. Must be non-empty.
	Text string

	// Voice selects the speaker profile.
	Voice types.VoiceProfile

	// Streaming asks the backend to deliver audio incrementally as it is
	// generated. When false, the backend delivers the full utterance as a
	// single frame once synthesis completes.
	Streaming bool
}

// Result is a single in-flight synthesis.
//
// The Frames channel is closed by the provider once the backend signals
// completion or after a failure; in the failure case Err returns the cause.
// Callers must drain Frames or call Cancel to release the underlying
// connection.
type Result interface {
	// Frames emits raw PCM audio in delivery order. Closed on completion,
	// failure, or cancellation.
	Frames() <-chan []byte

	// Err reports why the stream ended. It is only meaningful after Frames
	// is closed; nil means the backend signalled normal completion.
	Err() error

	// Cancel abandons the synthesis. No further frames are delivered after
	// Cancel returns, even if some are already buffered. Idempotent.
	Cancel()
}

// Provider is the abstraction over any speech-synthesis backend.
type Provider interface {
	// Synthesize starts one synthesis request. A non-nil error means the
	// request could not be started (connection or handshake failure);
	// failures after that surface through Result.Err.
	Synthesize(ctx context.Context, req Request) (Result, error)

	// Format describes the PCM layout of the frames this provider emits.
	Format() types.PCMFormat
}
