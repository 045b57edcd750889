package batch

import (
	"time"

	"paperevents/internal/eventbus"
	"paperevents/internal/host"
	logx "paperevents/pkg/logx"
)

// Flush delivers every batch queued for dir and clears the queue. It is meant to
// be run by the deferred-task service only.
//
// The direction lock is held for the whole flush; enqueues racing it wait and land
// in the next batch. Containers that no longer resolve are dropped silently. A
// live container gets its event even when the filters removed every item.
func (a *Aggregator) Flush(dir Direction) FlushStats {
	q := a.queue(dir)
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := FlushStats{Direction: dir.String(), Containers: len(q.order)}
	for _, id := range q.order {
		events := q.entries[id]
		h, ok := a.resolveSubscriber(id)
		if !ok {
			stats.Unresolved++
			a.log.Trace("batch dropped", logx.Err(ErrUnresolvedID), logx.Hex("container", uint32(id)), logx.Int("events", len(events)))
			continue
		}

		var filters *host.Filters
		if a.lists != nil {
			if f, declared := a.lists.Filters(h); declared {
				filters = f
			}
		}

		args := host.ItemsMoved{
			Items:        make([]host.FormID, 0, len(events)),
			Counts:       make([]int32, 0, len(events)),
			Counterparts: make([]host.FormID, 0, len(events)),
		}
		for _, ev := range events {
			if !a.filter.Passes(ev.Item, filters) {
				stats.Filtered++
				continue
			}
			counterpart := ev.Counterpart
			if counterpart != 0 && !a.world.LookupContainer(counterpart) {
				counterpart = 0
			}
			args.Items = append(args.Items, ev.Item)
			args.Counts = append(args.Counts, ev.Count)
			args.Counterparts = append(args.Counterparts, counterpart)
		}

		a.dispatch.Deliver(h, host.Event{Name: dir.EventName(), Args: args}, a.lateFilter(args.Items))
		stats.Delivered++
	}

	q.resetLocked()

	if stats.Containers > 0 {
		a.log.Debug("batch flushed",
			logx.String("direction", stats.Direction),
			logx.Int("containers", stats.Containers),
			logx.Int("delivered", stats.Delivered),
			logx.Int("unresolved", stats.Unresolved),
			logx.Int("filtered", stats.Filtered),
		)
		if a.bus != nil {
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchFlushed, Time: time.Now(), Data: stats})
		}
	}
	return stats
}

func (a *Aggregator) resolveSubscriber(id host.FormID) (host.Handle, bool) {
	if a.world == nil || !a.world.LookupContainer(id) {
		return host.EmptyHandle, false
	}
	h, ok := a.world.HandleFor(id)
	if !ok || h == host.EmptyHandle {
		return host.EmptyHandle, false
	}
	return h, true
}

// lateFilter re-checks interest when the dispatcher actually hands the event to
// scripts, in case the subscriber changed its lists after the flush. An event
// that carries no items is never cancelled.
func (a *Aggregator) lateFilter(items []host.FormID) host.LateFilter {
	return func(h host.Handle) bool {
		if a.lists == nil || len(items) == 0 {
			return true
		}
		f, declared := a.lists.Filters(h)
		if !declared {
			return true
		}
		return a.filter.Any(items, f)
	}
}
