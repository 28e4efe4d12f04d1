package events

import (
	"context"
	"sync"
)

// Recorder keeps the most recent events in a ring for status queries.
type Recorder struct {
	mu    sync.RWMutex
	ring  []Event
	next  int
	full  bool
	total int64
}

// NewRecorder creates a recorder holding at most size events (default 200).
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 200
	}
	return &Recorder{ring: make([]Event, size)}
}

// Run consumes events from the bus until ctx is done or the bus closes.
func (r *Recorder) Run(ctx context.Context, bus *Bus) {
	ch, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.Add(e)
		}
	}
}

// Add stores an event, evicting the oldest when full.
func (r *Recorder) Add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Recent returns up to limit events, newest first. A limit <= 0 returns all.
// An empty kind matches every event.
func (r *Recorder) Recent(limit int, kind Kind) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.ring)
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.ring)) % len(r.ring)
		e := r.ring[idx]
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Total returns how many events have been recorded overall.
func (r *Recorder) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
