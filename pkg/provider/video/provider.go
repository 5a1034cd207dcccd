// Package video defines the Provider interface for talking-face rendering
// backends. A video provider takes one turn's synthesised speech and
// produces a lip-synced video artifact for it.
package video

import "context"

// Request carries one utterance to render.
type Request struct {
	// AudioWAV is the complete utterance as a WAV file.
	AudioWAV []byte

	// FaceImagePath is the server-side path of the face image to animate.
	FaceImagePath string
}

// Artifact is the rendered output.
type Artifact struct {
	// Path is the local filesystem path of the saved video file.
	Path string
}

// Provider is the abstraction over any talking-face backend.
//
// Rendering is best effort: callers log failures and move on, a failed
// render never fails the turn that produced the audio.
type Provider interface {
	// Generate renders req and writes the result to local storage.
	Generate(ctx context.Context, req Request) (*Artifact, error)
}
