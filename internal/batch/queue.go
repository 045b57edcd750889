package batch

import (
	"sync"

	"paperevents/internal/host"
)

// pending holds the batches of one direction. All fields are guarded by mu.
type pending struct {
	mu        sync.Mutex
	entries   map[host.FormID][]ItemEvent
	order     []host.FormID // first-enqueue order, used for deterministic output
	scheduled bool
}

func newPending() *pending {
	return &pending{entries: map[host.FormID][]ItemEvent{}}
}

func (p *pending) appendLocked(container host.FormID, ev ItemEvent) {
	evs, ok := p.entries[container]
	if !ok {
		p.order = append(p.order, container)
	}
	p.entries[container] = append(evs, ev)
}

func (p *pending) resetLocked() {
	p.entries = map[host.FormID][]ItemEvent{}
	p.order = nil
	p.scheduled = false
}

func (p *pending) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, Entry{Container: id, Events: append([]ItemEvent(nil), p.entries[id]...)})
	}
	return out
}
