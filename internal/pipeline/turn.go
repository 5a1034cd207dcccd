// Package pipeline implements the voice interaction loop: capture feeds
// recognition, a final transcript drives reply generation, generated text is
// chunked into sentences, each sentence is synthesised, and the audio is
// played back in sentence order. A single orchestrator goroutine owns all
// turn state; every other goroutine communicates with it through messages.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// TurnState is the lifecycle phase of one conversational turn.
type TurnState int

const (
	// StateIdle means no turn is active; capture audio still flows to
	// recognition so the next utterance can start a turn.
	StateIdle TurnState = iota

	// StateListening means the user is speaking and interim transcripts are
	// arriving.
	StateListening

	// StateThinking means the final transcript has been accepted and reply
	// generation is running.
	StateThinking

	// StateSpeaking means synthesised audio is being played back.
	StateSpeaking
)

// String implements fmt.Stringer.
func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// validNext lists the forward transitions. Cancellation additionally allows
// any state back to idle or listening.
var validNext = map[TurnState][]TurnState{
	StateIdle:      {StateListening},
	StateListening: {StateThinking},
	StateThinking:  {StateSpeaking},
	StateSpeaking:  {StateIdle},
}

// canTransition reports whether moving from to next is legal, either as the
// forward progression or as a cancellation cut back to idle or listening.
func canTransition(from, next TurnState) bool {
	if next == StateIdle || next == StateListening {
		return true
	}
	for _, v := range validNext[from] {
		if v == next {
			return true
		}
	}
	return false
}

// Turn is the mutable record of one exchange. Only the orchestrator
// goroutine touches it.
type Turn struct {
	// ID identifies the turn in logs, metrics, and the archive.
	ID uuid.UUID

	// State is the current lifecycle phase.
	State TurnState

	// Interim is the latest non-final transcript.
	Interim types.Transcript

	// Transcript is the final recognised utterance, set on the transition
	// to thinking.
	Transcript string

	// Reply accumulates the generated text, delta by delta.
	Reply string

	// Chunks counts the sentence chunks dispatched to synthesis so far.
	Chunks int

	// Cancelled is set when a barge-in or a failure cut the turn short.
	Cancelled bool

	// Started is when the turn entered listening.
	Started time.Time

	// Ended is when the turn returned to idle.
	Ended time.Time
}

// newTurn creates a turn in the listening state.
func newTurn(now time.Time) *Turn {
	return &Turn{
		ID:      uuid.New(),
		State:   StateListening,
		Started: now,
	}
}

// transition moves the turn to next, returning an error for a jump the
// state machine does not allow.
func (t *Turn) transition(next TurnState) error {
	if !canTransition(t.State, next) {
		return fmt.Errorf("pipeline: invalid transition %s -> %s", t.State, next)
	}
	t.State = next
	return nil
}
