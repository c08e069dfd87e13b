package signal

import (
	"sync"

	"github.com/aura-labs/struggle/pkg/models"
)

// eventRingBuffer is a capped, per-file ring buffer of SignalEvents. Events
// older than windowMs or beyond cap are evicted lazily on access, mirroring
// the "capped length (default 200) or window duration, whichever is
// tighter" lifetime rule.
type eventRingBuffer struct {
	mu     sync.Mutex
	events []models.SignalEvent
	cap    int
}

func newEventRingBuffer(cap int) *eventRingBuffer {
	if cap <= 0 {
		cap = 200
	}
	return &eventRingBuffer{events: make([]models.SignalEvent, 0, cap), cap: cap}
}

// push appends an event, evicting the oldest entry if the buffer is full.
func (b *eventRingBuffer) push(e models.SignalEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) >= b.cap {
		copy(b.events, b.events[1:])
		b.events = b.events[:len(b.events)-1]
	}
	b.events = append(b.events, e)
}

// windowed returns a copy of the events within [nowMs-windowMs, nowMs],
// newest last.
func (b *eventRingBuffer) windowed(nowMs, windowMs int64) []models.SignalEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := nowMs - windowMs
	out := make([]models.SignalEvent, 0, len(b.events))
	for _, e := range b.events {
		if e.TsMs >= cutoff && e.TsMs <= nowMs {
			out = append(out, e)
		}
	}
	return out
}

func (b *eventRingBuffer) all() []models.SignalEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.SignalEvent, len(b.events))
	copy(out, b.events)
	return out
}

// perFileBuffers is a map of file_key to its ring buffer, with lazy
// creation. Detectors own one of these exclusively; there is no cross-file
// interference.
type perFileBuffers struct {
	mu      sync.Mutex
	buffers map[string]*eventRingBuffer
	cap     int
}

func newPerFileBuffers(cap int) *perFileBuffers {
	return &perFileBuffers{buffers: make(map[string]*eventRingBuffer), cap: cap}
}

func (p *perFileBuffers) get(fileKey string) *eventRingBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buffers[fileKey]
	if !ok {
		b = newEventRingBuffer(p.cap)
		p.buffers[fileKey] = b
	}
	return b
}
