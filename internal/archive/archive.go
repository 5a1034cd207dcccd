// Package archive persists per-turn conversation artifacts: the final
// transcript, the generated reply, the synthesised audio, and an optional
// video path. Two backends are provided, a filesystem store and a
// PostgreSQL store.
package archive

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// Record is everything worth keeping from one completed turn.
type Record struct {
	// TurnID identifies the turn that produced these artifacts.
	TurnID uuid.UUID

	// StartedAt is when the turn entered listening.
	StartedAt time.Time

	// EndedAt is when playback finished or the turn was cancelled.
	EndedAt time.Time

	// Transcript is the final recognised user utterance.
	Transcript string

	// Reply is the full generated reply text. For cancelled turns this is
	// whatever had been generated before the cut.
	Reply string

	// Audio is the synthesised reply as raw PCM in Format.
	Audio []byte

	// Format describes the PCM layout of Audio.
	Format types.PCMFormat

	// VideoPath is the rendered talking-face artifact, empty when video
	// rendering was off or failed.
	VideoPath string
}

// Store persists turn records.
//
// Implementations must be safe for concurrent use; Save is called from the
// pipeline's archival goroutine while the next turn is already running.
type Store interface {
	// Save persists one record. Saving the same TurnID twice overwrites.
	Save(ctx context.Context, rec *Record) error
}
