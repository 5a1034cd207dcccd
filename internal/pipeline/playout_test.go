package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	audiomock "github.com/hibiki-ai/hibiki/pkg/audio/mock"
	"github.com/hibiki-ai/hibiki/pkg/provider/tts"
	ttsmock "github.com/hibiki-ai/hibiki/pkg/provider/tts/mock"
)

func nextEvent(t *testing.T, events <-chan event) event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for playout event")
		return nil
	}
}

func synthResult(t *testing.T, frames ...[]byte) tts.Result {
	t.Helper()
	prov := &ttsmock.Provider{Audio: frames}
	res, err := prov.Synthesize(context.Background(), tts.Request{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	return res
}

func TestPlayoutOrdersOutOfOrderChunks(t *testing.T) {
	events := make(chan event, 16)
	pb := &audiomock.Playback{}
	turnID := uuid.New()

	p := newPlayout(turnID, pb, events)
	go p.run(context.Background())

	// Chunk 1 finishes synthesis before chunk 0. Nothing may play until
	// chunk 0 arrives.
	p.add(1, synthResult(t, []byte{2}))
	p.finish(2)
	time.Sleep(20 * time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("event %T before chunk 0 arrived", ev)
	default:
	}

	p.add(0, synthResult(t, []byte{1}))

	for i := 0; i < 2; i++ {
		ev, ok := nextEvent(t, events).(chunkPlayedEvent)
		if !ok || ev.index != i {
			t.Fatalf("event %d = %+v, want chunkPlayedEvent index %d", i, ev, i)
		}
		if ev.turnID != turnID {
			t.Errorf("chunkPlayedEvent turnID = %s, want %s", ev.turnID, turnID)
		}
	}

	done, ok := nextEvent(t, events).(playoutDoneEvent)
	if !ok {
		t.Fatal("expected playoutDoneEvent after last chunk")
	}
	if done.err != nil {
		t.Fatalf("playoutDoneEvent err = %v", done.err)
	}
	if !bytes.Equal(done.audio, []byte{1, 2}) {
		t.Errorf("accumulated audio = %v, want [1 2]", done.audio)
	}

	writes := pb.Writes()
	if len(writes) != 2 || !bytes.Equal(writes[0], []byte{1}) || !bytes.Equal(writes[1], []byte{2}) {
		t.Errorf("device writes = %v, want [[1] [2]]", writes)
	}
}

func TestPlayoutCancelEmitsNothing(t *testing.T) {
	events := make(chan event, 16)
	pb := &audiomock.Playback{}

	p := newPlayout(uuid.New(), pb, events)
	go p.run(context.Background())

	hold := make(chan struct{})
	prov := &ttsmock.Provider{Audio: [][]byte{{1}}, Hold: hold}
	res, err := prov.Synthesize(context.Background(), tts.Request{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	p.add(0, res)

	// Let the first frame reach the device, then cut the turn.
	deadline := time.Now().Add(5 * time.Second)
	for len(pb.Writes()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("frame never reached the device")
		}
		time.Sleep(time.Millisecond)
	}
	p.cancel()
	p.cancel() // idempotent

	deadline = time.Now().Add(5 * time.Second)
	for pb.ClearCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("device was never cleared")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case ev := <-events:
		t.Fatalf("cancelled playout emitted %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
	close(hold)
}

func TestPlayoutSynthesisFailure(t *testing.T) {
	events := make(chan event, 16)
	pb := &audiomock.Playback{}

	p := newPlayout(uuid.New(), pb, events)
	go p.run(context.Background())

	boom := errors.New("speaker offline")
	prov := &ttsmock.Provider{Audio: [][]byte{{1}}, ResultErr: boom}
	res, err := prov.Synthesize(context.Background(), tts.Request{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	p.add(0, res)
	p.finish(1)

	done, ok := nextEvent(t, events).(playoutDoneEvent)
	if !ok {
		t.Fatal("expected playoutDoneEvent")
	}
	if !errors.Is(done.err, boom) {
		t.Errorf("playoutDoneEvent err = %v, want %v", done.err, boom)
	}
	deadline := time.Now().Add(5 * time.Second)
	for pb.ClearCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("device was never cleared after failure")
		}
		time.Sleep(time.Millisecond)
	}
}
