package transport

import (
	"github.com/Workiva/go-datastructures/queue"
)

const _queueSizeHint = 64

// concurrentQueue is a thread-safe FIFO bridging the engine's worker
// goroutines (producers) and the frame thread (single consumer). Drain is
// bounded by the length observed on entry, so producers enqueueing during a
// drain are picked up next frame rather than starving the consumer.
type concurrentQueue[T any] struct {
	q *queue.Queue
}

func newConcurrentQueue[T any]() *concurrentQueue[T] {
	return &concurrentQueue[T]{q: queue.New(_queueSizeHint)}
}

// Enqueue appends one item. Safe from any goroutine.
func (c *concurrentQueue[T]) Enqueue(v T) {
	// Put only fails after Dispose, which this wrapper never calls.
	_ = c.q.Put(v)
}

// Len returns the current item count.
func (c *concurrentQueue[T]) Len() int64 {
	return c.q.Len()
}

// Drain removes and returns every item present when the call started.
// Single-consumer only: Get blocks on an empty queue, so the length check
// and the take must not race with another consumer.
func (c *concurrentQueue[T]) Drain() []T {
	n := c.q.Len()
	if n == 0 {
		return nil
	}
	items, err := c.q.Get(n)
	if err != nil {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, it.(T))
	}
	return out
}

// Clear discards all queued items, passing each to release when non-nil.
// Runs on socket start and on the frame thread's not-Started paths so pooled
// payloads go back to the pool instead of leaking with the abandoned queue.
// Same single-consumer rule as Drain.
func (c *concurrentQueue[T]) Clear(release func(T)) {
	for {
		items := c.Drain()
		if len(items) == 0 {
			return
		}
		if release != nil {
			for _, it := range items {
				release(it)
			}
		}
	}
}
