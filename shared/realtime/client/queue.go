package client

import (
	"encoding/json"
	"sync"
	"time"
)

// Entry is one outbound action buffered while offline.
type Entry struct {
	Tag        string
	Payload    json.RawMessage
	EnqueuedAt time.Time

	seq uint64
}

// Queue buffers outbound actions while disconnected and replays them in FIFO order.
//
// Delivery is at-most-once per entry: an entry handed to the transport is never re-queued,
// even if the connection drops before the server saw it.
type Queue struct {
	max int

	mu      sync.Mutex
	entries []Entry
	seq     uint64
	dropped int

	// flushMu serializes flushes so two connections never replay the same entries.
	flushMu sync.Mutex
}

// NewQueue constructs a queue holding at most max entries (unbounded when max <= 0).
// When full, the oldest entry is dropped.
func NewQueue(max int) *Queue {
	return &Queue{max: max}
}

// Enqueue appends an entry. It never attempts delivery.
func (q *Queue) Enqueue(tag string, payload json.RawMessage, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.max > 0 && len(q.entries) >= q.max {
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.seq++
	q.entries = append(q.entries, Entry{Tag: tag, Payload: payload, EnqueuedAt: now, seq: q.seq})
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped returns how many entries were discarded because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Entries returns a copy of the queued entries, oldest first.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Flush hands every queued entry to send in FIFO order.
//
// It stops at the first send error: entries already handed over are removed, the failed entry
// and everything after it stay queued. Entries enqueued while flushing are flushed too.
// It returns the number of entries sent.
func (q *Queue) Flush(send func(Entry) error) (int, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	total := 0
	for {
		batch := q.Entries()
		if len(batch) == 0 {
			return total, nil
		}

		sent := 0
		var err error
		for _, e := range batch {
			if err = send(e); err != nil {
				break
			}
			sent++
		}

		if sent > 0 {
			q.removeThrough(batch[sent-1].seq)
		}

		total += sent
		if err != nil {
			return total, err
		}
	}
}

// removeThrough drops every entry with seq <= last. Entries evicted meanwhile are already gone.
func (q *Queue) removeThrough(last uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := 0
	for i < len(q.entries) && q.entries[i].seq <= last {
		i++
	}
	q.entries = q.entries[i:]
}
