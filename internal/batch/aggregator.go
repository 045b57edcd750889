// Package batch coalesces item-move notifications into one deferred event per
// container and direction, and persists the pending batches across sessions.
package batch

import (
	"context"
	"time"

	"paperevents/internal/eventbus"
	"paperevents/internal/filter"
	"paperevents/internal/host"
	"paperevents/internal/task/engine"
	logx "paperevents/pkg/logx"
)

// Scheduler holds one pending deferred task per key without blocking.
// *engine.Service satisfies it.
type Scheduler interface {
	Post(key string, t engine.Task) error
}

type Deps struct {
	World      host.World
	Lists      host.InterestLists
	Filter     *filter.Evaluator
	Dispatcher host.Dispatcher
	Remapper   host.Remapper
	Scheduler  Scheduler
	Bus        eventbus.Bus
	Log        logx.Logger
}

// Aggregator owns the two pending queues (Added keyed by destination, Removed
// keyed by source) and guarantees at most one outstanding flush per direction.
type Aggregator struct {
	world    host.World
	lists    host.InterestLists
	filter   *filter.Evaluator
	dispatch host.Dispatcher
	remap    host.Remapper
	sched    Scheduler
	bus      eventbus.Bus
	log      logx.Logger

	queues [2]*pending
}

func New(d Deps) *Aggregator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Remapper == nil {
		d.Remapper = host.IdentityRemapper{}
	}
	if d.Filter == nil {
		d.Filter = filter.New(nil, d.Log)
	}
	return &Aggregator{
		world:    d.World,
		lists:    d.Lists,
		filter:   d.Filter,
		dispatch: d.Dispatcher,
		remap:    d.Remapper,
		sched:    d.Scheduler,
		bus:      d.Bus,
		log:      d.Log,
		queues:   [2]*pending{newPending(), newPending()},
	}
}

func (a *Aggregator) queue(dir Direction) *pending {
	if dir == Removed {
		return a.queues[1]
	}
	return a.queues[0]
}

// Enqueue appends ev to the batch of container. The first enqueue since the last
// flush submits the flush task; later ones only append. It never blocks on delivery.
func (a *Aggregator) Enqueue(dir Direction, container host.FormID, ev ItemEvent) {
	q := a.queue(dir)
	q.mu.Lock()
	defer q.mu.Unlock()

	q.appendLocked(container, ev)
	if q.scheduled {
		return
	}
	q.scheduled = true
	if err := a.scheduleLocked(dir); err != nil {
		q.scheduled = false
		a.log.Warn("flush not scheduled", logx.String("direction", dir.String()), logx.Err(err))
	}
}

func (a *Aggregator) scheduleLocked(dir Direction) error {
	if a.sched == nil {
		return ErrNoScheduler
	}
	name := "flush." + dir.String()
	err := a.sched.Post(name, engine.Task{
		Name: name,
		Run: func(context.Context) error {
			a.Flush(dir)
			return nil
		},
	})
	if err == nil && a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchScheduled, Time: time.Now(), Data: map[string]string{"direction": dir.String()}})
	}
	return err
}

// Scheduled reports whether a flush for dir is outstanding.
func (a *Aggregator) Scheduled(dir Direction) bool {
	q := a.queue(dir)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.scheduled
}

// Pending returns a copy of the batches queued for dir, in first-enqueue order.
func (a *Aggregator) Pending(dir Direction) []Entry {
	q := a.queue(dir)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// OnRevert drops both queues and both flags. A flush still waiting will find
// an empty batch, or the batches loaded after the revert.
func (a *Aggregator) OnRevert() {
	for _, dir := range directions {
		q := a.queue(dir)
		q.mu.Lock()
		q.resetLocked()
		q.mu.Unlock()
	}
	a.log.Debug("pending batches reverted")
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeCosaveReverted, Time: time.Now()})
	}
}
