// Package stt defines the client interface to the speech-recognition
// service.
//
// The recognition backend is an external collaborator: it receives raw
// linear-PCM frames over a persistent duplex connection and emits interim and
// final transcript events. This package only specifies the interface
// boundary; pkg/provider/stt/earsws implements it for the websocket protocol
// the pipeline's recognition server speaks, and pkg/provider/stt/mock
// provides a scripted session for tests.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// StreamConfig describes the audio format of a new recognition stream.
type StreamConfig struct {
	// Format is the fixed PCM format of every frame sent on the stream.
	Format types.PCMFormat

	// Language is an optional recognition language hint (e.g., "ja").
	Language string
}

// Event is one message from the recognition stream: either a transcript or a
// terminal error. After an Event with a non-nil Err, the events channel is
// closed and the session is dead; the caller decides whether to reconnect.
type Event struct {
	Transcript types.Transcript
	Err        error
}

// SessionHandle is an open recognition stream.
//
// Callers must call Close when the session is no longer needed; failing to
// do so leaks the read/write goroutines inside the implementation.
type SessionHandle interface {
	// SendAudio delivers one PCM frame. It never blocks on the network:
	// frames are queued internally and written by a dedicated goroutine.
	// Calling SendAudio after Close returns an error.
	SendAudio(frame []byte) error

	// Events returns the ordered stream of transcript events. The channel
	// is closed when the session ends, after a final Event carrying the
	// session error if the end was not clean.
	Events() <-chan Event

	// Pause asks the service to stop emitting transcripts without closing
	// the stream. Used when barge-in is disabled and the pipeline does not
	// want to hear itself talk.
	Pause() error

	// Resume reverses Pause.
	Resume() error

	// Close terminates the session and releases its resources. Idempotent.
	Close() error
}

// Provider is the abstraction over the recognition backend.
type Provider interface {
	// StartStream opens a new recognition stream. The returned session is
	// ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
