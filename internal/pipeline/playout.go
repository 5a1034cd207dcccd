package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/hibiki-ai/hibiki/pkg/audio"
	"github.com/hibiki-ai/hibiki/pkg/provider/tts"
)

// errPlayoutCancelled is the internal signal that the playout was cut by a
// barge-in; it never reaches the event loop.
var errPlayoutCancelled = errors.New("pipeline: playout cancelled")

// playoutCmd carries either a synthesis result to schedule or the final
// chunk count.
type playoutCmd struct {
	index int
	res   tts.Result
	total int // -1 unless this is the finish command
}

// playout plays one turn's synthesis results in chunk order, regardless of
// the order they complete in. It owns the playback device for the duration
// of the turn; cancel clears the device and abandons everything in flight.
type playout struct {
	turnID uuid.UUID
	device audio.Playback
	events chan<- event

	cmds chan playoutCmd
	done chan struct{}
	once sync.Once
}

func newPlayout(turnID uuid.UUID, device audio.Playback, events chan<- event) *playout {
	return &playout{
		turnID: turnID,
		device: device,
		events: events,
		cmds:   make(chan playoutCmd, 64),
		done:   make(chan struct{}),
	}
}

// add schedules chunk index for playback once all lower chunks have played.
func (p *playout) add(index int, res tts.Result) {
	select {
	case p.cmds <- playoutCmd{index: index, res: res, total: -1}:
	case <-p.done:
		res.Cancel()
	}
}

// finish tells the playout how many chunks the turn has in total. Playback
// completes once that many chunks have played.
func (p *playout) finish(total int) {
	select {
	case p.cmds <- playoutCmd{index: -1, total: total}:
	case <-p.done:
	}
}

// cancel abandons the turn's audio. Buffered device audio is cleared; no
// further events are emitted. Idempotent.
func (p *playout) cancel() {
	p.once.Do(func() { close(p.done) })
}

// run is the playout goroutine. It emits one chunkPlayedEvent per chunk and
// a single playoutDoneEvent (or nothing, if cancelled).
func (p *playout) run(ctx context.Context) {
	pending := make(map[int]tts.Result)
	next := 0
	total := -1
	var pcm bytes.Buffer

	defer func() {
		for _, res := range pending {
			res.Cancel()
		}
	}()

	for {
		if res, ok := pending[next]; ok {
			delete(pending, next)
			if err := p.play(ctx, res, &pcm); err != nil {
				if !errors.Is(err, errPlayoutCancelled) {
					p.emit(ctx, playoutDoneEvent{turnID: p.turnID, err: err})
				}
				p.clear()
				return
			}
			p.emit(ctx, chunkPlayedEvent{turnID: p.turnID, index: next})
			next++
			continue
		}

		if total >= 0 && next >= total {
			if err := p.device.Drain(ctx); err != nil && ctx.Err() == nil {
				p.emit(ctx, playoutDoneEvent{turnID: p.turnID, err: err})
				return
			}
			p.emit(ctx, playoutDoneEvent{turnID: p.turnID, audio: pcm.Bytes()})
			return
		}

		select {
		case cmd := <-p.cmds:
			if cmd.total >= 0 {
				total = cmd.total
			} else {
				pending[cmd.index] = cmd.res
			}
		case <-p.done:
			p.clear()
			return
		case <-ctx.Done():
			p.clear()
			return
		}
	}
}

// play drains one chunk's frames into the device, accumulating the PCM for
// the turn archive.
func (p *playout) play(ctx context.Context, res tts.Result, pcm *bytes.Buffer) error {
	defer res.Cancel()
	for {
		select {
		case frame, ok := <-res.Frames():
			if !ok {
				return res.Err()
			}
			if err := p.device.Write(frame); err != nil {
				return err
			}
			pcm.Write(frame)
		case <-p.done:
			return errPlayoutCancelled
		case <-ctx.Done():
			return errPlayoutCancelled
		}
	}
}

// clear drops whatever the device has buffered.
func (p *playout) clear() {
	p.device.Clear()
}

// emit delivers an event to the orchestrator without wedging on shutdown.
func (p *playout) emit(ctx context.Context, ev event) {
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}
