package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

func TestFrameQueue_PushPop(t *testing.T) {
	q := NewFrameQueue(4)
	ctx := context.Background()

	for i := byte(0); i < 3; i++ {
		if err := q.Push([]byte{i}); err != nil {
			t.Fatalf("unexpected push error: %v", err)
		}
	}

	for i := byte(0); i < 3; i++ {
		frame, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("unexpected pop error: %v", err)
		}
		if frame[0] != i {
			t.Errorf("expected frame %d, got %d", i, frame[0])
		}
	}
}

func TestFrameQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewFrameQueue(2)

	for i := byte(0); i < 5; i++ {
		if err := q.Push([]byte{i}); err != nil {
			t.Fatalf("unexpected push error: %v", err)
		}
	}

	if got := q.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped frames, got %d", got)
	}

	// The two newest frames survive.
	frame, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("unexpected pop error: %v", err)
	}
	if frame[0] != 3 {
		t.Errorf("expected oldest surviving frame 3, got %d", frame[0])
	}
}

func TestFrameQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewFrameQueue(4)

	done := make(chan []byte, 1)
	go func() {
		frame, err := q.Pop(context.Background())
		if err != nil {
			return
		}
		done <- frame
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Push([]byte{42}); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}

	select {
	case frame := <-done:
		if frame[0] != 42 {
			t.Errorf("expected frame 42, got %d", frame[0])
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock after push")
	}
}

func TestFrameQueue_PopHonoursContext(t *testing.T) {
	q := NewFrameQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFrameQueue_Close(t *testing.T) {
	q := NewFrameQueue(4)
	if err := q.Push([]byte{1}); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}
	q.Close()
	q.Close() // idempotent

	if err := q.Push([]byte{2}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed on push, got %v", err)
	}

	// Queued frames still drain after close.
	if frame, err := q.Pop(context.Background()); err != nil || frame[0] != 1 {
		t.Errorf("expected queued frame after close, got %v, %v", frame, err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed on drained pop, got %v", err)
	}
}

func TestWriteWAV(t *testing.T) {
	format := types.PCMFormat{SampleRate: 24000, Channels: 1, BytesPerSample: 2}
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	var buf bytes.Buffer
	if err := WriteWAV(&buf, format, pcm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.Bytes()
	if len(out) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 24000 {
		t.Errorf("expected sample rate 24000, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Errorf("expected data length %d, got %d", len(pcm), got)
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Error("pcm payload mismatch")
	}
}

func TestWriteWAV_RejectsInvalidFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, types.PCMFormat{}, []byte{1}); err == nil {
		t.Fatal("expected error for zero-value format")
	}
}

func TestPCMFormatMath(t *testing.T) {
	format := types.PCMFormat{SampleRate: 16000, Channels: 1, BytesPerSample: 2}

	if got := format.BytesPerSecond(); got != 32000 {
		t.Errorf("BytesPerSecond() = %d, want 32000", got)
	}
	if got := format.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	if got := format.Bytes(500 * time.Millisecond); got != 16000 {
		t.Errorf("Bytes(500ms) = %d, want 16000", got)
	}
}
