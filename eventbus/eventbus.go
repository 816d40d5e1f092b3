// Package eventbus is an in-memory pub/sub fabric for run events. Publishers
// never block: a subscriber that cannot keep up has events dropped rather
// than stalling the pipeline.
package eventbus

import (
	"sync"

	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/model"
)

var logger = logging.New("eventbus")

const (
	// subscriberBuffer is the per-subscriber channel capacity.
	subscriberBuffer = 64
	// historyTail is how many recent events are retained per run for replay.
	historyTail = 100
)

type subscriber struct {
	ch    chan model.Event
	runID string // empty means all runs
}

// Bus fans events out to per-run and firehose subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	history map[string][]model.Event
	closed  bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[*subscriber]struct{}),
		history: make(map[string][]model.Event),
	}
}

// Publish delivers ev to matching subscribers and appends it to the run's
// replay tail. Slow subscribers are skipped.
func (b *Bus) Publish(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	tail := append(b.history[ev.RunID], ev)
	if len(tail) > historyTail {
		tail = tail[len(tail)-historyTail:]
	}
	b.history[ev.RunID] = tail

	for sub := range b.subs {
		if sub.runID != "" && sub.runID != ev.RunID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logger.Warn("dropping event for slow subscriber", "run", ev.RunID, "event", ev.Event)
		}
	}
}

// Subscribe returns a channel of events for one run plus an unsubscribe
// function. Unsubscribe closes the channel and is safe to call twice.
func (b *Bus) Subscribe(runID string) (<-chan model.Event, func()) {
	return b.subscribe(runID)
}

// SubscribeAll returns a firehose of events across every run.
func (b *Bus) SubscribeAll() (<-chan model.Event, func()) {
	return b.subscribe("")
}

func (b *Bus) subscribe(runID string) (<-chan model.Event, func()) {
	sub := &subscriber{ch: make(chan model.Event, subscriberBuffer), runID: runID}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// History returns the retained replay tail for a run, oldest first.
func (b *Bus) History(runID string) []model.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tail := b.history[runID]
	out := make([]model.Event, len(tail))
	copy(out, tail)
	return out
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
