package mutation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the queue size used when none is configured
const DefaultCapacity = 10

var (
	// ErrQueueFull is returned by TryEnqueue when the queue has no room
	ErrQueueFull = errors.New("mutation queue is full")

	// ErrQueueClosed is returned once Close has been called
	ErrQueueClosed = errors.New("mutation queue is closed")
)

// Queue is a bounded FIFO of instructions with any number of producers
// and exactly one consumer (the Writer). A producer first takes a slot,
// which is where it waits while the queue is full, then stamps and sends
// under mu so the version order matches the delivery order.
type Queue struct {
	ch    chan Instruction
	slots chan struct{} // one token per queued or in-flight instruction
	done  chan struct{}

	mu          sync.Mutex // held while a producer assigns a version and sends
	closed      bool
	lastVersion atomic.Uint64 // written under mu
	closeOnce   sync.Once
}

// NewQueue creates a queue holding at most capacity pending instructions
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:    make(chan Instruction, capacity),
		slots: make(chan struct{}, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue blocks until ins is accepted, ctx is done or the queue closes.
// It returns the version assigned to ins.
func (q *Queue) Enqueue(ctx context.Context, ins Instruction) (uint64, error) {
	select {
	case <-q.done:
		return 0, ErrQueueClosed
	default:
	}

	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-q.done:
		return 0, ErrQueueClosed
	}
	return q.send(ins)
}

// TryEnqueue accepts ins only if there is room right now
func (q *Queue) TryEnqueue(ins Instruction) (uint64, error) {
	select {
	case <-q.done:
		return 0, ErrQueueClosed
	default:
	}

	select {
	case q.slots <- struct{}{}:
	default:
		return 0, ErrQueueFull
	}
	return q.send(ins)
}

// send delivers ins once the caller holds a slot. Holding a slot means
// ch has room, so the send never blocks.
func (q *Queue) send(ins Instruction) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		<-q.slots
		return 0, ErrQueueClosed
	}

	ins = q.stamp(ins)
	q.ch <- ins
	q.commit(ins.Version)
	return ins.Version, nil
}

// stamp assigns the next version when ins carries none. Must hold q.mu.
func (q *Queue) stamp(ins Instruction) Instruction {
	if ins.Version == 0 {
		ins.Version = q.lastVersion.Load() + 1
	}
	return ins
}

func (q *Queue) commit(version uint64) {
	if version > q.lastVersion.Load() {
		q.lastVersion.Store(version)
	}
}

// Close stops accepting instructions. Pending instructions stay queued
// for the writer, which exits once they are drained. Safe to call twice.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		// wake producers waiting for a slot
		close(q.done)

		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

// Len returns the number of pending instructions
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// LastVersion returns the highest version handed out so far
func (q *Queue) LastVersion() uint64 {
	return q.lastVersion.Load()
}

// next is the consumer side. It reports false once the queue is closed
// and drained.
func (q *Queue) next() (Instruction, bool) {
	ins, ok := <-q.ch
	if ok {
		<-q.slots
	}
	return ins, ok
}
