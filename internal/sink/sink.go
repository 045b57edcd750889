// Package sink is the entry point for raw notifications coming from the host.
package sink

import (
	"paperevents/internal/batch"
	"paperevents/internal/host"
	"paperevents/internal/impact"
)

// ContainerChanged is one raw item move. Source or Dest is 0 when the item
// came from or went to the world rather than a container.
type ContainerChanged struct {
	Source host.FormID `json:"source"`
	Dest   host.FormID `json:"dest"`
	Item   host.FormID `json:"item"`
	Count  int32       `json:"count"`
}

// Sink receives host notifications on the host's calling thread.
type Sink interface {
	OnItemMoved(ev ContainerChanged)
	OnHit(ev host.HitEvent) impact.Outcome
}

type Enqueuer interface {
	Enqueue(dir batch.Direction, container host.FormID, ev batch.ItemEvent)
}

type HitHandler interface {
	OnHit(ev host.HitEvent) impact.Outcome
}

// Router fans notifications out to the batch aggregator and the hit deduplicator.
type Router struct {
	batches Enqueuer
	hits    HitHandler
}

var _ Sink = (*Router)(nil)

func NewRouter(batches Enqueuer, hits HitHandler) *Router {
	return &Router{batches: batches, hits: hits}
}

// OnItemMoved queues the move on the source side (Removed) and the destination
// side (Added). Moves without an item are dropped.
func (r *Router) OnItemMoved(ev ContainerChanged) {
	if ev.Item == 0 || r.batches == nil {
		return
	}
	if ev.Source != 0 {
		r.batches.Enqueue(batch.Removed, ev.Source, batch.ItemEvent{Counterpart: ev.Dest, Item: ev.Item, Count: ev.Count})
	}
	if ev.Dest != 0 {
		r.batches.Enqueue(batch.Added, ev.Dest, batch.ItemEvent{Counterpart: ev.Source, Item: ev.Item, Count: ev.Count})
	}
}

func (r *Router) OnHit(ev host.HitEvent) impact.Outcome {
	if r.hits == nil || ev.Target == 0 {
		return impact.Ignored
	}
	return r.hits.OnHit(ev)
}
