// Package audio provides the PCM plumbing between devices and the pipeline:
// a bounded frame queue for the capture path, WAV encoding for artifact
// saving, and the device interfaces implemented by pkg/audio/malgo and
// pkg/audio/mock.
package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by FrameQueue operations after Close.
var ErrQueueClosed = errors.New("audio: frame queue closed")

// FrameQueue is a bounded single-producer/single-consumer queue of PCM
// frames sitting between the capture device and the recognition client.
//
// Push never blocks: when the queue is full the oldest frame is dropped so
// the device callback is never stalled by a slow network path. Pop blocks
// until a frame is available, the context is cancelled, or the queue is
// closed.
type FrameQueue struct {
	mu      sync.Mutex
	frames  [][]byte
	cap     int
	dropped uint64
	closed  bool

	signal chan struct{}
}

// NewFrameQueue creates a queue holding at most capacity frames.
// A capacity below 1 is treated as 1.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		cap:    capacity,
		signal: make(chan struct{}, 1),
	}
}

// Push appends a frame, dropping the oldest frame first if the queue is
// full. The frame slice is retained; callers reusing buffers must copy.
func (q *FrameQueue) Push(frame []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.frames) >= q.cap {
		q.frames = q.frames[1:]
		q.dropped++
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the oldest frame, blocking until one is available.
// It returns ErrQueueClosed once the queue is closed and drained.
func (q *FrameQueue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return frame, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Dropped returns the number of frames discarded under backpressure.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len returns the number of frames currently queued.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close marks the queue closed. Queued frames remain poppable; Push fails
// afterwards. Close is idempotent.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
