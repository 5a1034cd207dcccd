package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hibiki-ai/hibiki/internal/archive"
	"github.com/hibiki-ai/hibiki/internal/config"
	"github.com/hibiki-ai/hibiki/internal/observe"
	"github.com/hibiki-ai/hibiki/internal/resilience"
	"github.com/hibiki-ai/hibiki/pkg/audio"
	"github.com/hibiki-ai/hibiki/pkg/provider/llm"
	"github.com/hibiki-ai/hibiki/pkg/provider/stt"
	"github.com/hibiki-ai/hibiki/pkg/provider/tts"
	"github.com/hibiki-ai/hibiki/pkg/provider/video"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

// event is a message delivered to the orchestrator loop. All pipeline state
// changes happen inside the loop, one event at a time.
type event any

type transcriptEvent struct {
	tr types.Transcript
}

type recognitionErrEvent struct {
	err error
}

type recognitionLostEvent struct{}

type deltaEvent struct {
	turnID uuid.UUID
	delta  llm.Delta
}

type chunkPlayedEvent struct {
	turnID uuid.UUID
	index  int
}

type playoutDoneEvent struct {
	turnID uuid.UUID
	audio  []byte
	err    error
}

type energyEvent struct{}

type stallEvent struct {
	turnID uuid.UUID
}

type captureErrEvent struct {
	err error
}

// Options configures an Orchestrator. Recognition, Generation, Synthesis,
// Capture, and Playback are required; the rest is optional.
type Options struct {
	Recognition stt.Provider
	Generation  llm.Provider
	Synthesis   tts.Provider

	// Video renders a talking face per turn. Nil disables rendering.
	Video video.Provider

	Capture  audio.Capture
	Playback audio.Playback

	// Archive persists turn artifacts. Nil disables archiving.
	Archive archive.Store

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Voice is the synthesis speaker.
	Voice types.VoiceProfile

	// FaceImagePath is handed to the video backend with each render.
	FaceImagePath string

	// SystemPrompt is injected before the conversation history.
	SystemPrompt string

	// HistoryTurns caps the conversation context sent to generation.
	HistoryTurns int

	// MaxChunkRunes bounds sentence chunks without terminal punctuation.
	MaxChunkRunes int

	// StreamingSynthesis asks the synthesis backend for incremental audio.
	StreamingSynthesis bool

	// StallTimeout bounds the gap between generation deltas once a turn is
	// accepted. A stream that stays silent this long fails the turn. Zero
	// uses DefaultStallTimeout.
	StallTimeout time.Duration

	// BargeIn decides when the user may cut the assistant off.
	BargeIn BargeInPolicy

	// Per-backend reconnect policies. Zero values use the resilience
	// defaults.
	RecognitionBackoff resilience.Policy
	GenerationBackoff  resilience.Policy
	SynthesisBackoff   resilience.Policy
}

// Orchestrator runs the voice interaction loop. Construct with New, then
// call Run; Run blocks until ctx is cancelled or the recognition link is
// lost beyond recovery.
type Orchestrator struct {
	opts    Options
	metrics *observe.Metrics

	events chan event

	// rec is the live recognition session, swapped on reconnect. The
	// capture pump reads it outside the loop.
	rec atomic.Pointer[recBox]

	// speaking mirrors the speaking state for the capture pump.
	speaking atomic.Bool

	// Loop-owned state.
	session        *Session
	turn           *Turn
	chunker        *SentenceChunker
	playout        *playout
	turnCtx        context.Context
	turnCancel     context.CancelFunc
	stall          *time.Timer
	restartCapture func() error
	spoken         bytes.Buffer
	sawDelta       bool
	thinkingAt     time.Time
	dispatchedAt   map[int]time.Time
}

// DefaultStallTimeout is the generation stall bound when Options leaves
// StallTimeout zero.
const DefaultStallTimeout = 30 * time.Second

type recBox struct {
	handle stt.SessionHandle
}

// New validates opts and creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Recognition == nil:
		return nil, errors.New("pipeline: Recognition is required")
	case opts.Generation == nil:
		return nil, errors.New("pipeline: Generation is required")
	case opts.Synthesis == nil:
		return nil, errors.New("pipeline: Synthesis is required")
	case opts.Capture == nil:
		return nil, errors.New("pipeline: Capture is required")
	case opts.Playback == nil:
		return nil, errors.New("pipeline: Playback is required")
	}
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Orchestrator{
		opts:    opts,
		metrics: m,
		events:  make(chan event, 256),
		session: newSession(opts.HistoryTurns),
	}, nil
}

// Run executes the interaction loop until ctx is cancelled or recognition
// cannot be re-established within the backoff budget. The returned error is
// ctx.Err() on clean shutdown and the single exhausted-budget error
// otherwise.
func (o *Orchestrator) Run(ctx context.Context) error {
	handle, err := o.connectRecognition(ctx)
	if err != nil {
		return err
	}
	o.rec.Store(&recBox{handle: handle})
	go o.forwardTranscripts(ctx, handle)
	defer func() {
		if box := o.rec.Load(); box != nil {
			_ = box.handle.Close()
		}
	}()

	queue := audio.NewFrameQueue(64)
	defer queue.Close()
	onFrame := func(frame []byte) {
		_ = queue.Push(frame)
	}
	onCaptureErr := func(err error) {
		select {
		case o.events <- captureErrEvent{err: err}:
		default:
		}
	}
	o.restartCapture = func() error {
		_ = o.opts.Capture.Stop()
		return o.opts.Capture.Start(ctx, onFrame, onCaptureErr)
	}
	if err := o.opts.Capture.Start(ctx, onFrame, onCaptureErr); err != nil {
		return fmt.Errorf("pipeline: start capture: %w", err)
	}
	defer func() { _ = o.opts.Capture.Stop() }()
	go o.pumpCapture(ctx, queue)

	slog.Info("pipeline: running", "barge_in", string(o.opts.BargeIn.Mode))

	for {
		select {
		case <-ctx.Done():
			o.shutdownTurn()
			return ctx.Err()
		case ev := <-o.events:
			if err := o.handle(ctx, ev); err != nil {
				o.shutdownTurn()
				return err
			}
		}
	}
}

// handle processes one event. A non-nil return is fatal for the session.
func (o *Orchestrator) handle(ctx context.Context, ev event) error {
	switch ev := ev.(type) {
	case transcriptEvent:
		o.onTranscript(ctx, ev.tr)
	case recognitionErrEvent:
		o.onRecognitionErr(ctx, ev.err)
	case recognitionLostEvent:
		return o.onRecognitionLost(ctx)
	case deltaEvent:
		o.onDelta(ctx, ev)
	case chunkPlayedEvent:
		o.onChunkPlayed(ctx, ev)
	case playoutDoneEvent:
		o.onPlayoutDone(ctx, ev)
	case energyEvent:
		o.onEnergy(ctx)
	case stallEvent:
		o.onStall(ctx, ev)
	case captureErrEvent:
		return o.onCaptureErr(ctx, ev.err)
	}
	return nil
}

// ---- recognition ----

func (o *Orchestrator) connectRecognition(ctx context.Context) (stt.SessionHandle, error) {
	var handle stt.SessionHandle
	err := o.opts.RecognitionBackoff.Retry(ctx, "recognition", func(ctx context.Context) error {
		h, err := o.opts.Recognition.StartStream(ctx, stt.StreamConfig{
			Format: o.opts.Capture.Format(),
		})
		if err != nil {
			o.metrics.RecordRetry(ctx, "recognition")
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// forwardTranscripts pumps one recognition session's events into the loop.
// A closed event channel means the stream died.
func (o *Orchestrator) forwardTranscripts(ctx context.Context, handle stt.SessionHandle) {
	for ev := range handle.Events() {
		if ev.Err != nil {
			o.emit(ctx, recognitionErrEvent{err: ev.Err})
			continue
		}
		o.emit(ctx, transcriptEvent{tr: ev.Transcript})
	}
	o.emit(ctx, recognitionLostEvent{})
}

// pumpCapture moves microphone frames to recognition and watches for
// energy barge-ins.
func (o *Orchestrator) pumpCapture(ctx context.Context, queue *audio.FrameQueue) {
	for {
		frame, err := queue.Pop(ctx)
		if err != nil {
			return
		}
		if box := o.rec.Load(); box != nil {
			_ = box.handle.SendAudio(frame)
		}
		if o.speaking.Load() && o.opts.BargeIn.EnergyExceeded(frame) {
			select {
			case o.events <- energyEvent{}:
			default:
			}
		}
	}
}

func (o *Orchestrator) onRecognitionErr(ctx context.Context, err error) {
	cls := resilience.Classify(err)
	o.metrics.RecordError(ctx, "recognition", string(cls))
	if cls == resilience.ClassProtocol && o.turn != nil {
		slog.Error("pipeline: recognition protocol error, aborting turn",
			"turn_id", o.turn.ID, "error", err)
		o.abortTurn(ctx)
		return
	}
	slog.Warn("pipeline: recognition error", "class", string(cls), "error", err)
}

// onRecognitionLost rebuilds the recognition stream under the backoff
// policy. The exhausted budget is the one fatal error of the session.
func (o *Orchestrator) onRecognitionLost(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Warn("pipeline: recognition stream lost, reconnecting")
	handle, err := o.connectRecognition(ctx)
	if err != nil {
		return err
	}
	if box := o.rec.Swap(&recBox{handle: handle}); box != nil {
		_ = box.handle.Close()
	}
	go o.forwardTranscripts(ctx, handle)

	// Restore the pause state the old stream was in.
	if o.opts.BargeIn.Mode == config.BargeInOff && o.turn != nil && o.turn.State != StateListening {
		_ = handle.Pause()
	}
	return nil
}

// ---- transcripts ----

func (o *Orchestrator) onTranscript(ctx context.Context, tr types.Transcript) {
	state := StateIdle
	if o.turn != nil {
		state = o.turn.State
	}

	switch state {
	case StateIdle:
		o.startTurn(tr)
		if tr.IsFinal {
			o.acceptFinal(ctx, tr)
		}
	case StateListening:
		if tr.IsFinal {
			o.acceptFinal(ctx, tr)
		} else {
			o.turn.Interim = tr
		}
	case StateThinking, StateSpeaking:
		if !o.opts.BargeIn.ShouldInterrupt(tr, o.spoken.String()) {
			return
		}
		slog.Info("pipeline: barge-in", "turn_id", o.turn.ID, "heard", tr.Text)
		o.metrics.BargeIns.Add(ctx, 1)
		o.cancelTurn(ctx)
		o.startTurn(tr)
		if tr.IsFinal {
			o.acceptFinal(ctx, tr)
		}
	}
}

func (o *Orchestrator) startTurn(tr types.Transcript) {
	o.turn = newTurn(time.Now())
	o.turn.Interim = tr
	slog.Info("pipeline: turn started", "turn_id", o.turn.ID)
}

// acceptFinal moves the turn into thinking and kicks off generation.
func (o *Orchestrator) acceptFinal(ctx context.Context, tr types.Transcript) {
	turn := o.turn
	turn.Transcript = tr.Text
	if err := turn.transition(StateThinking); err != nil {
		slog.Error("pipeline: dropping final transcript", "error", err)
		return
	}
	o.thinkingAt = time.Now()
	o.metrics.RecognitionLatency.Record(ctx, o.thinkingAt.Sub(turn.Started).Seconds())
	slog.Info("pipeline: final transcript", "turn_id", turn.ID, "text", tr.Text)

	if o.opts.BargeIn.Mode == config.BargeInOff {
		if box := o.rec.Load(); box != nil {
			_ = box.handle.Pause()
		}
	}

	o.chunker = NewSentenceChunker(o.opts.MaxChunkRunes)
	o.spoken.Reset()
	o.sawDelta = false
	o.dispatchedAt = make(map[int]time.Time)
	o.playout = newPlayout(turn.ID, o.opts.Playback, o.events)

	// Everything the turn spawns runs under one cancellable context, so a
	// barge-in or abort reaches work blocked inside a backend call too.
	o.turnCtx, o.turnCancel = context.WithCancel(ctx)
	go o.playout.run(o.turnCtx)

	turnID := turn.ID
	o.stall = time.AfterFunc(o.stallTimeout(), func() {
		select {
		case o.events <- stallEvent{turnID: turnID}:
		default:
		}
	})

	go o.generate(o.turnCtx, turn.ID, llm.Request{
		Prompt:       tr.Text,
		History:      o.session.History(),
		SystemPrompt: o.opts.SystemPrompt,
	})
}

func (o *Orchestrator) stallTimeout() time.Duration {
	if o.opts.StallTimeout > 0 {
		return o.opts.StallTimeout
	}
	return DefaultStallTimeout
}

// ---- generation ----

func (o *Orchestrator) generate(ctx context.Context, turnID uuid.UUID, req llm.Request) {
	var stream <-chan llm.Delta
	err := o.opts.GenerationBackoff.Retry(ctx, "generation", func(ctx context.Context) error {
		s, err := o.opts.Generation.StreamReply(ctx, req)
		if err != nil {
			o.metrics.RecordRetry(ctx, "generation")
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		o.emit(ctx, deltaEvent{turnID: turnID, delta: llm.Delta{Err: err}})
		return
	}
	for delta := range stream {
		o.emit(ctx, deltaEvent{turnID: turnID, delta: delta})
		if delta.Done || delta.Err != nil {
			return
		}
	}
}

func (o *Orchestrator) onDelta(ctx context.Context, ev deltaEvent) {
	turn := o.turn
	if turn == nil || turn.ID != ev.turnID {
		return
	}

	switch {
	case ev.delta.Err != nil:
		cls := resilience.Classify(ev.delta.Err)
		o.metrics.RecordError(ctx, "generation", string(cls))
		slog.Error("pipeline: generation failed",
			"turn_id", turn.ID, "class", string(cls), "error", ev.delta.Err)
		o.abortTurn(ctx)

	case ev.delta.Done:
		if o.stall != nil {
			o.stall.Stop()
			o.stall = nil
		}
		if last := o.chunker.Flush(); last != nil {
			o.dispatchChunk(*last)
		}
		o.playout.finish(turn.Chunks)
		slog.Debug("pipeline: generation done",
			"turn_id", turn.ID, "chunks", turn.Chunks)

	default:
		if o.stall != nil {
			o.stall.Reset(o.stallTimeout())
		}
		if !o.sawDelta {
			o.sawDelta = true
			o.metrics.GenerationFirstDelta.Record(ctx, time.Since(o.thinkingAt).Seconds())
		}
		turn.Reply += ev.delta.Text
		for _, chunk := range o.chunker.Feed(ev.delta.Text) {
			o.dispatchChunk(chunk)
		}
	}
}

// ---- synthesis and playback ----

func (o *Orchestrator) dispatchChunk(chunk Chunk) {
	turn := o.turn
	if turn.Chunks == 0 {
		if err := turn.transition(StateSpeaking); err != nil {
			slog.Error("pipeline: cannot start speaking", "error", err)
			return
		}
		o.speaking.Store(true)
	}
	turn.Chunks++
	o.spoken.WriteString(chunk.Text)
	o.spoken.WriteString(" ")
	o.dispatchedAt[chunk.Index] = time.Now()
	slog.Debug("pipeline: chunk dispatched",
		"turn_id", turn.ID, "index", chunk.Index, "text", chunk.Text)
	go o.synthesize(o.turnCtx, o.playout, chunk)
}

func (o *Orchestrator) synthesize(ctx context.Context, pl *playout, chunk Chunk) {
	var res tts.Result
	err := o.opts.SynthesisBackoff.Retry(ctx, "synthesis", func(ctx context.Context) error {
		r, err := o.opts.Synthesis.Synthesize(ctx, tts.Request{
			Text:      chunk.Text,
			Voice:     o.opts.Voice,
			Streaming: o.opts.StreamingSynthesis,
		})
		if err != nil {
			o.metrics.RecordRetry(ctx, "synthesis")
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		o.emit(ctx, playoutDoneEvent{turnID: pl.turnID, err: err})
		return
	}
	pl.add(chunk.Index, res)
}

func (o *Orchestrator) onChunkPlayed(ctx context.Context, ev chunkPlayedEvent) {
	turn := o.turn
	if turn == nil || turn.ID != ev.turnID {
		return
	}
	if at, ok := o.dispatchedAt[ev.index]; ok {
		o.metrics.SynthesisLatency.Record(ctx, time.Since(at).Seconds())
		delete(o.dispatchedAt, ev.index)
	}
	slog.Debug("pipeline: chunk played", "turn_id", turn.ID, "index", ev.index)
}

func (o *Orchestrator) onPlayoutDone(ctx context.Context, ev playoutDoneEvent) {
	turn := o.turn
	if turn == nil || turn.ID != ev.turnID {
		return
	}
	if ev.err != nil {
		cls := resilience.Classify(ev.err)
		o.metrics.RecordError(ctx, "synthesis", string(cls))
		slog.Error("pipeline: playback failed",
			"turn_id", turn.ID, "class", string(cls), "error", ev.err)
		o.abortTurn(ctx)
		return
	}
	o.finishTurn(ctx, ev.audio)
}

// ---- turn teardown ----

// finishTurn completes a turn normally: history, metrics, artifacts, idle.
func (o *Orchestrator) finishTurn(ctx context.Context, pcm []byte) {
	turn := o.turn
	_ = turn.transition(StateIdle)
	turn.Ended = time.Now()
	o.speaking.Store(false)
	if o.stall != nil {
		o.stall.Stop()
		o.stall = nil
	}
	if o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
	}
	o.turnCtx = nil
	o.playout = nil

	o.session.Append(turn.Transcript, turn.Reply)
	o.metrics.RecordTurn(ctx, "completed", turn.Ended.Sub(turn.Started))
	slog.Info("pipeline: turn completed",
		"turn_id", turn.ID, "duration", turn.Ended.Sub(turn.Started))

	if o.opts.Archive != nil || o.opts.Video != nil {
		rec := &archive.Record{
			TurnID:     turn.ID,
			StartedAt:  turn.Started,
			EndedAt:    turn.Ended,
			Transcript: turn.Transcript,
			Reply:      turn.Reply,
			Audio:      pcm,
			Format:     o.opts.Synthesis.Format(),
		}
		go o.persist(ctx, rec)
	}

	o.resumeListening()
	o.turn = nil
}

// cancelTurn cuts a speaking turn for a barge-in. The partial reply still
// enters the history so the model knows what was actually said.
func (o *Orchestrator) cancelTurn(ctx context.Context) {
	turn := o.turn
	turn.Cancelled = true
	turn.Ended = time.Now()
	o.stopWork()
	o.session.Append(turn.Transcript, turn.Reply)
	o.metrics.RecordTurn(ctx, "cancelled", turn.Ended.Sub(turn.Started))
	o.turn = nil
}

// abortTurn drops a turn after a backend failure and returns to idle.
func (o *Orchestrator) abortTurn(ctx context.Context) {
	turn := o.turn
	turn.Cancelled = true
	turn.Ended = time.Now()
	o.stopWork()
	o.metrics.RecordTurn(ctx, "failed", turn.Ended.Sub(turn.Started))
	o.resumeListening()
	o.turn = nil
}

// stopWork tears down generation, synthesis, and playback for the current
// turn. Cancelling the turn context reaches goroutines blocked inside a
// backend call or a retry sleep, not just the ones already finished.
func (o *Orchestrator) stopWork() {
	if o.stall != nil {
		o.stall.Stop()
		o.stall = nil
	}
	if o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
	}
	o.turnCtx = nil
	if o.playout != nil {
		o.playout.cancel()
		o.playout = nil
	}
	o.speaking.Store(false)
}

// shutdownTurn is the Run-exit cleanup.
func (o *Orchestrator) shutdownTurn() {
	o.stopWork()
	o.turn = nil
}

// resumeListening reverses the pause applied while the assistant held the
// floor.
func (o *Orchestrator) resumeListening() {
	if o.opts.BargeIn.Mode != config.BargeInOff {
		return
	}
	if box := o.rec.Load(); box != nil {
		_ = box.handle.Resume()
	}
}

// onStall fires when an accepted generation stream delivers nothing within
// the stall bound. The turn fails like any other generation error; without
// this a silent stream would hold the session in thinking forever.
func (o *Orchestrator) onStall(ctx context.Context, ev stallEvent) {
	turn := o.turn
	if turn == nil || turn.ID != ev.turnID {
		return
	}
	o.metrics.RecordError(ctx, "generation", string(resilience.ClassTimeout))
	slog.Error("pipeline: generation stalled, aborting turn",
		"turn_id", turn.ID, "stall_timeout", o.stallTimeout())
	o.abortTurn(ctx)
}

// onCaptureErr restarts the microphone after a transient device error. A
// restart that itself fails ends the session.
func (o *Orchestrator) onCaptureErr(ctx context.Context, err error) error {
	o.metrics.RecordError(ctx, "capture", string(resilience.Classify(err)))
	slog.Warn("pipeline: capture device error, restarting", "error", err)
	if err := o.restartCapture(); err != nil {
		return fmt.Errorf("pipeline: restart capture: %w", err)
	}
	slog.Info("pipeline: capture restarted")
	return nil
}

func (o *Orchestrator) onEnergy(ctx context.Context) {
	if o.turn == nil || o.turn.State != StateSpeaking {
		return
	}
	slog.Info("pipeline: barge-in (energy)", "turn_id", o.turn.ID)
	o.metrics.BargeIns.Add(ctx, 1)
	o.cancelTurn(ctx)
}

// ---- artifacts ----

// persist renders video (best effort) and saves the archive record. Runs
// off the loop so the next turn is not delayed.
func (o *Orchestrator) persist(ctx context.Context, rec *archive.Record) {
	if o.opts.Video != nil && len(rec.Audio) > 0 {
		var wav bytes.Buffer
		if err := audio.WriteWAV(&wav, rec.Format, rec.Audio); err != nil {
			slog.Warn("pipeline: video render skipped", "turn_id", rec.TurnID, "error", err)
		} else {
			art, err := o.opts.Video.Generate(ctx, video.Request{
				AudioWAV:      wav.Bytes(),
				FaceImagePath: o.opts.FaceImagePath,
			})
			if err != nil {
				slog.Warn("pipeline: video render failed", "turn_id", rec.TurnID, "error", err)
			} else {
				rec.VideoPath = art.Path
				slog.Debug("pipeline: video rendered", "turn_id", rec.TurnID, "path", art.Path)
			}
		}
	}
	if o.opts.Archive != nil {
		if err := o.opts.Archive.Save(ctx, rec); err != nil {
			slog.Error("pipeline: archive failed", "turn_id", rec.TurnID, "error", err)
		}
	}
}

// emit delivers an event to the loop without wedging on shutdown.
func (o *Orchestrator) emit(ctx context.Context, ev event) {
	select {
	case o.events <- ev:
	case <-ctx.Done():
	}
}
