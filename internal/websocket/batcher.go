package websocket

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Batcher accumulates notifications per room and flushes them as a single
// payload, either when a room's queue reaches the batch cap or when the
// debounced flush timer fires. A notification identical in content to one
// accepted for the same room inside the dedup window is dropped at enqueue.
// Severity wins over recency when a flush has to truncate, which protects
// clients during notification storms.
type Batcher struct {
	mu     sync.Mutex
	queues map[string][]*Notification
	timers map[string]*time.Timer

	maxBatch int
	timeout  time.Duration

	dedup       *RecencyCache
	dedupWindow time.Duration

	// emit delivers an encoded batch to a room. Injected by the dispatcher.
	emit func(room string, batch []*Notification)
}

// NewBatcher creates a batcher. emit is called synchronously from Enqueue on
// a size-triggered flush and from the timer goroutine otherwise.
func NewBatcher(maxBatch int, timeout time.Duration, dedup *RecencyCache, dedupWindow time.Duration, emit func(room string, batch []*Notification)) *Batcher {
	return &Batcher{
		queues:      make(map[string][]*Notification),
		timers:      make(map[string]*time.Timer),
		maxBatch:    maxBatch,
		timeout:     timeout,
		dedup:       dedup,
		dedupWindow: dedupWindow,
		emit:        emit,
	}
}

// Enqueue appends a notification to the room's queue. An identical
// notification accepted for the room inside the dedup window suppresses this
// one; ids are fresh per notification, so recency is keyed on what the
// recipient would actually see. Reaching the batch cap flushes synchronously
// before returning, bounding both memory per room and worst-case latency.
// Otherwise a flush timer is armed if one is not already pending; the timer
// is deliberately not re-armed per enqueue, so sustained load cannot push the
// flush out forever.
func (b *Batcher) Enqueue(room string, n *Notification) {
	if b.dedup.ShouldSuppress(contentKey(room, n), b.dedupWindow) {
		slog.Debug("duplicate notification suppressed", "room", room, "type", n.Type, "title", n.Title)
		return
	}

	b.mu.Lock()
	b.queues[room] = append(b.queues[room], n)

	if len(b.queues[room]) >= b.maxBatch {
		batch := b.takeLocked(room)
		b.mu.Unlock()
		b.deliver(room, batch)
		return
	}

	if _, armed := b.timers[room]; !armed {
		b.timers[room] = time.AfterFunc(b.timeout, func() {
			b.Flush(room)
		})
	}
	b.mu.Unlock()
}

// Flush drains the room's queue and delivers one batched payload. A room may
// have disappeared before a pending timer fires, in which case this is a
// no-op.
func (b *Batcher) Flush(room string) {
	b.mu.Lock()
	batch := b.takeLocked(room)
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	b.deliver(room, batch)
}

// Pending returns the queued notification count for a room.
func (b *Batcher) Pending(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[room])
}

// takeLocked removes and returns the room's queue, ordered by priority then
// recency and truncated to the batch cap. Caller holds b.mu.
func (b *Batcher) takeLocked(room string) []*Notification {
	batch := b.queues[room]
	if len(batch) == 0 {
		return nil
	}
	delete(b.queues, room)

	if t, ok := b.timers[room]; ok {
		t.Stop()
		delete(b.timers, room)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Priority != batch[j].Priority {
			return batch[i].Priority > batch[j].Priority
		}
		return batch[i].Timestamp.After(batch[j].Timestamp)
	})
	if len(batch) > b.maxBatch {
		slog.Warn("notification batch truncated", "room", room, "queued", len(batch), "kept", b.maxBatch)
		batch = batch[:b.maxBatch]
	}
	return batch
}

func (b *Batcher) deliver(room string, batch []*Notification) {
	if len(batch) == 0 {
		return
	}
	b.emit(room, batch)
	slog.Debug("notification batch flushed", "room", room, "count", len(batch))
}

// contentKey identifies a notification by room and visible content.
func contentKey(room string, n *Notification) string {
	return fmt.Sprintf("notification:%s:%s:%s:%s", room, n.Type, n.Title, n.Message)
}
