// Package events carries typed notifications between the folder loops and
// anything observing them (status server, journal, console).
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event type.
type Kind string

const (
	KindFileClaimed         Kind = "file_claimed"
	KindFileProcessed       Kind = "file_processed"
	KindValidationComplete  Kind = "validation_complete"
	KindConnectivityChanged Kind = "connectivity_changed"
	KindWatcherStarted      Kind = "watcher_started"
	KindWatcherStopped      Kind = "watcher_stopped"
)

// Event is a single notification.
type Event struct {
	ID      string         `json:"id"`
	Kind    Kind           `json:"kind"`
	Time    time.Time      `json:"time"`
	Folder  string         `json:"folder,omitempty"`
	Path    string         `json:"path,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	BufferSize int // Per-subscriber buffer (default: 64)
	Logger     *slog.Logger
}

// Bus fans events out to subscribers without blocking publishers.
type Bus struct {
	logger     *slog.Logger
	bufferSize int

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool

	dropped atomic.Int64
}

// NewBus creates an event bus.
func NewBus(cfg BusConfig) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bus{
		logger:     cfg.Logger,
		bufferSize: cfg.BufferSize,
		subs:       make(map[int]chan Event),
	}
}

// Subscribe returns a channel of future events and a cancel func that
// unregisters and closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers an event to every subscriber. A subscriber whose buffer
// is full misses the event and the drop counter is incremented.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			n := b.dropped.Add(1)
			b.logger.Debug("event dropped, subscriber full", "kind", e.Kind, "dropped_total", n)
		}
	}
}

// Dropped returns the number of deliveries skipped because a subscriber
// was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
