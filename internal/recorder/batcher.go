package recorder

import (
	"sync"
	"time"
)

type FlushTrigger string

const (
	FlushThreshold FlushTrigger = "threshold"
	FlushTimer     FlushTrigger = "timer"
	FlushDrain     FlushTrigger = "drain"
)

// FlushFunc receives the concatenation of the pending buffers of a stream.
type FlushFunc func(key StreamKey, data []byte, trigger FlushTrigger) error

// Batcher accumulates small buffers per stream and hands them to a FlushFunc
// once Threshold buffers are pending or Interval has passed since the first
// buffer after the last flush. At most one timer is armed per stream.
type Batcher struct {
	threshold int
	interval  time.Duration
	flush     FlushFunc
	onError   func(key StreamKey, err error)

	mu     sync.Mutex
	queues map[StreamKey]*batchQueue
}

type batchQueue struct {
	mu        sync.Mutex
	pending   [][]byte
	size      int
	timer     *time.Timer
	gen       uint64
	discarded bool
}

func NewBatcher(threshold int, interval time.Duration, flush FlushFunc, onError func(StreamKey, error)) *Batcher {
	if threshold < 1 {
		threshold = 1
	}
	if onError == nil {
		onError = func(StreamKey, error) {}
	}
	return &Batcher{
		threshold: threshold,
		interval:  interval,
		flush:     flush,
		onError:   onError,
		queues:    make(map[StreamKey]*batchQueue),
	}
}

func (b *Batcher) queue(key StreamKey, create bool) *batchQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[key]
	if !ok && create {
		q = &batchQueue{}
		b.queues[key] = q
	}
	return q
}

// Enqueue appends buf to the stream's pending list. The returned error is
// the flush error when this call triggered a threshold flush.
func (b *Batcher) Enqueue(key StreamKey, buf []byte) error {
	var q *batchQueue
	for {
		q = b.queue(key, true)
		q.mu.Lock()
		if !q.discarded {
			break
		}
		q.mu.Unlock()
	}
	defer q.mu.Unlock()

	q.pending = append(q.pending, buf)
	q.size += len(buf)

	if len(q.pending) >= b.threshold {
		q.stopTimer()
		return b.flushLocked(key, q, FlushThreshold)
	}

	if q.timer == nil {
		q.gen++
		gen := q.gen
		q.timer = time.AfterFunc(b.interval, func() {
			b.fire(key, q, gen)
		})
	}
	return nil
}

func (b *Batcher) fire(key StreamKey, q *batchQueue, gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// stale: stopped, replaced or discarded since it was armed
	if q.discarded || q.timer == nil || q.gen != gen {
		return
	}
	q.timer = nil
	if err := b.flushLocked(key, q, FlushTimer); err != nil {
		b.onError(key, err)
	}
}

func (b *Batcher) flushLocked(key StreamKey, q *batchQueue, trigger FlushTrigger) error {
	if len(q.pending) == 0 {
		return nil
	}
	data := make([]byte, 0, q.size)
	for _, p := range q.pending {
		data = append(data, p...)
	}
	q.pending = nil
	q.size = 0
	return b.flush(key, data, trigger)
}

func (q *batchQueue) stopTimer() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// Drain flushes whatever is pending for the stream right away.
func (b *Batcher) Drain(key StreamKey) error {
	q := b.queue(key, false)
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopTimer()
	if q.discarded {
		return nil
	}
	return b.flushLocked(key, q, FlushDrain)
}

// Discard forgets the stream, dropping pending buffers and disarming its
// timer. A timer callback already in flight becomes a no-op.
func (b *Batcher) Discard(key StreamKey) {
	b.mu.Lock()
	q, ok := b.queues[key]
	delete(b.queues, key)
	b.mu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopTimer()
	q.discarded = true
	q.pending = nil
	q.size = 0
}

// Pending returns the number of buffers waiting for a flush.
func (b *Batcher) Pending(key StreamKey) int {
	q := b.queue(key, false)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Armed reports whether a flush timer is pending for the stream.
func (b *Batcher) Armed(key StreamKey) bool {
	q := b.queue(key, false)
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timer != nil
}
