// Package llm defines the Provider interface for reply-generation backends.
//
// A reply generator takes the user's final transcript plus conversation
// history and streams the assistant's answer back as incremental text
// deltas. Implementors must be safe for concurrent use. Channels returned
// by StreamReply must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// Request carries everything the generator needs to produce a reply.
type Request struct {
	// Prompt is the user's final transcript for the current turn.
	Prompt string

	// History is the ordered conversation so far, oldest first. It does not
	// include Prompt; implementations append it as the last user message.
	History []types.Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the history. Empty means the backend default.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// backend default.
	Temperature float64

	// MaxTokens caps the reply length in model tokens. Zero means unlimited
	// (backend default).
	MaxTokens int
}

// Delta is a single fragment of the streamed reply.
//
// A well-formed stream is zero or more text deltas followed by exactly one
// terminal delta: either Done set, or Err set. Concatenating the Text fields
// of all deltas in order yields the full reply verbatim.
type Delta struct {
	// Text is the incremental reply content. Empty on the terminal delta.
	Text string

	// Done is true on the terminal delta of a successful stream.
	Done bool

	// Err, if non-nil, terminates the stream with a failure. A stream never
	// carries both Done and Err.
	Err error
}

// Provider is the abstraction over any reply-generation backend.
//
// Implementations must propagate context cancellation promptly: when ctx is
// cancelled, StreamReply's channel must be closed as quickly as possible.
type Provider interface {
	// StreamReply sends req to the model and returns a read-only channel that
	// emits Delta values as they arrive. The channel is closed by the
	// implementation after the terminal delta.
	//
	// Callers must drain the channel to avoid goroutine leaks. The initial
	// error return is non-nil only for failures that prevent the stream from
	// starting; later failures arrive as a Delta with Err set.
	//
	// The returned channel must never be nil when error is nil.
	StreamReply(ctx context.Context, req Request) (<-chan Delta, error)
}
