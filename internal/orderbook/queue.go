package orderbook

import (
	"sync"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Queue is a FIFO of pending diffs for one pair. Push never blocks; once the
// hard limit is reached the oldest entry is dropped, which the sequence
// policy later treats as a gap or as stale.
type Queue struct {
	mu      sync.Mutex
	items   []domain.LevelUpdate
	limit   int
	dropped int64
}

// NewQueue creates a queue holding at most limit entries. A limit below one
// means unbounded.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit}
}

// Push appends u.
func (q *Queue) Push(u domain.LevelUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, u)
}

// Pop removes and returns the oldest entry.
func (q *Queue) Pop() (domain.LevelUpdate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.LevelUpdate{}, false
	}
	u := q.items[0]
	q.items[0] = domain.LevelUpdate{}
	q.items = q.items[1:]
	return u, true
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every pending entry and returns how many were discarded.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Dropped returns how many entries were discarded by the hard limit.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
