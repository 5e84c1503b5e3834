package network

import (
	"sync"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// frameQueue is a FIFO of received frames. It is filled by Update and may
// be drained from another goroutine.
type frameQueue struct {
	mu     sync.Mutex
	frames []proto.Frame
}

func (q *frameQueue) push(f proto.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = append(q.frames, f)
}

func (q *frameQueue) pop() (proto.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return proto.Frame{}, false
	}
	f := q.frames[0]
	q.frames[0] = proto.Frame{}
	q.frames = q.frames[1:]
	return f, true
}

func (q *frameQueue) peek() (proto.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return proto.Frame{}, false
	}
	return q.frames[0], true
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *frameQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = nil
}
