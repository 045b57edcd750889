// Package sim is an in-memory host: it owns the entities, interest lists and
// script handles that the aggregation layer looks up by id. The daemon replays
// traces against it and the tests use it as a deterministic host.
package sim

import (
	"sort"
	"sync"

	"paperevents/internal/host"
)

// World implements every host lookup interface over plain maps.
type World struct {
	mu         sync.RWMutex
	containers map[host.FormID]host.Handle
	actors     map[host.FormID]host.Handle
	effects    map[host.FormID][]host.Handle
	forms      map[host.FormID]host.Form
	lists      map[host.FormID][]host.FormID
	filters    map[host.Handle]*host.Filters
	remap      map[host.FormID]host.FormID
	missing    map[host.FormID]struct{}
}

var (
	_ host.World         = (*World)(nil)
	_ host.Forms         = (*World)(nil)
	_ host.InterestLists = (*World)(nil)
	_ host.ListLookup    = (*World)(nil)
	_ host.Remapper      = (*World)(nil)
)

func NewWorld() *World {
	return &World{
		containers: map[host.FormID]host.Handle{},
		actors:     map[host.FormID]host.Handle{},
		effects:    map[host.FormID][]host.Handle{},
		forms:      map[host.FormID]host.Form{},
		lists:      map[host.FormID][]host.FormID{},
		filters:    map[host.Handle]*host.Filters{},
		remap:      map[host.FormID]host.FormID{},
		missing:    map[host.FormID]struct{}{},
	}
}

// AddContainer registers a live container. Handle 0 means it has no script bound.
func (w *World) AddContainer(id host.FormID, h host.Handle) {
	w.mu.Lock()
	w.containers[id] = h
	w.forms[id] = host.Form{ID: id, Type: host.FormReference}
	w.mu.Unlock()
}

// AddActor registers a live actor. Actors can hold items too.
func (w *World) AddActor(id host.FormID, h host.Handle) {
	w.mu.Lock()
	w.actors[id] = h
	w.forms[id] = host.Form{ID: id, Type: host.FormActor}
	w.mu.Unlock()
}

// Remove unloads an object; later lookups of id fail.
func (w *World) Remove(id host.FormID) {
	w.mu.Lock()
	delete(w.containers, id)
	delete(w.actors, id)
	delete(w.effects, id)
	delete(w.forms, id)
	w.mu.Unlock()
}

func (w *World) AddEffect(target host.FormID, h host.Handle) {
	w.mu.Lock()
	w.effects[target] = append(w.effects[target], h)
	w.mu.Unlock()
}

func (w *World) AddForm(f host.Form) {
	w.mu.Lock()
	w.forms[f.ID] = f
	w.mu.Unlock()
}

func (w *World) AddList(id host.FormID, items ...host.FormID) {
	w.mu.Lock()
	w.lists[id] = append([]host.FormID(nil), items...)
	w.forms[id] = host.Form{ID: id, Type: host.FormList}
	w.mu.Unlock()
}

// SetFilters replaces the interest lists of h. nil removes them.
func (w *World) SetFilters(h host.Handle, f *host.Filters) {
	w.mu.Lock()
	if f == nil {
		delete(w.filters, h)
	} else {
		cp := &host.Filters{
			Items: append([]host.FormID(nil), f.Items...),
			Lists: append([]host.FormID(nil), f.Lists...),
		}
		w.filters[h] = cp
	}
	w.mu.Unlock()
}

func (w *World) SetRemap(old, id host.FormID) {
	w.mu.Lock()
	w.remap[old] = id
	w.mu.Unlock()
}

// MarkMissing makes ResolveFormID fail for id.
func (w *World) MarkMissing(id host.FormID) {
	w.mu.Lock()
	w.missing[id] = struct{}{}
	w.mu.Unlock()
}

func (w *World) LookupContainer(id host.FormID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.containers[id]; ok {
		return true
	}
	_, ok := w.actors[id]
	return ok
}

func (w *World) HandleFor(id host.FormID) (host.Handle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if h, ok := w.containers[id]; ok {
		return h, true
	}
	h, ok := w.actors[id]
	return h, ok
}

func (w *World) ActiveEffects(target host.FormID) []host.Handle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]host.Handle(nil), w.effects[target]...)
}

func (w *World) LookupForm(id host.FormID) (host.Form, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	f, ok := w.forms[id]
	return f, ok
}

func (w *World) Filters(h host.Handle) (*host.Filters, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	f, ok := w.filters[h]
	if !ok {
		return nil, false
	}
	// Hand out a copy so callers never race SetFilters.
	return &host.Filters{
		Items: append([]host.FormID(nil), f.Items...),
		Lists: append([]host.FormID(nil), f.Lists...),
	}, true
}

func (w *World) ListContains(list, item host.FormID) (bool, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	members, ok := w.lists[list]
	if !ok {
		return false, false
	}
	for _, m := range members {
		if m == item {
			return true, true
		}
	}
	return false, true
}

// ResolveFormID applies the remap table. Ids without an entry keep their value
// unless they were marked missing.
func (w *World) ResolveFormID(old host.FormID) (host.FormID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, gone := w.missing[old]; gone {
		return 0, false
	}
	if id, ok := w.remap[old]; ok {
		return id, true
	}
	return old, true
}

// Containers lists the live container ids in ascending order.
func (w *World) Containers() []host.FormID {
	w.mu.RLock()
	out := make([]host.FormID, 0, len(w.containers))
	for id := range w.containers {
		out = append(out, id)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
