package batch

import (
	"context"
	"sync"

	"paperevents/internal/host"
	"paperevents/internal/task/engine"
)

type fakeWorld struct {
	mu         sync.Mutex
	containers map[host.FormID]host.Handle // handle 0 = live but unbound
}

func newWorld(ids ...host.FormID) *fakeWorld {
	w := &fakeWorld{containers: map[host.FormID]host.Handle{}}
	for _, id := range ids {
		w.containers[id] = host.Handle(id) + 0x1000
	}
	return w
}

func (w *fakeWorld) LookupContainer(id host.FormID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.containers[id]
	return ok
}

func (w *fakeWorld) HandleFor(id host.FormID) (host.Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.containers[id]
	return h, ok
}

func (w *fakeWorld) ActiveEffects(host.FormID) []host.Handle { return nil }

func (w *fakeWorld) remove(id host.FormID) {
	w.mu.Lock()
	delete(w.containers, id)
	w.mu.Unlock()
}

type fakeLists struct {
	mu sync.Mutex
	m  map[host.Handle]*host.Filters
}

func (l *fakeLists) Filters(h host.Handle) (*host.Filters, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.m[h]
	return f, ok
}

func (l *fakeLists) set(h host.Handle, f *host.Filters) {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[host.Handle]*host.Filters{}
	}
	l.m[h] = f
	l.mu.Unlock()
}

type delivery struct {
	Handle host.Handle
	Event  host.Event
}

// recordingDispatcher applies the late filter immediately, like a host would
// right before running the script handler.
type recordingDispatcher struct {
	mu       sync.Mutex
	got      []delivery
	canceled int
}

func (d *recordingDispatcher) Deliver(h host.Handle, ev host.Event, late host.LateFilter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if late != nil && !late(h) {
		d.canceled++
		return
	}
	d.got = append(d.got, delivery{Handle: h, Event: ev})
}

func (d *recordingDispatcher) deliveries() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.got...)
}

// manualScheduler keeps posted tasks, one per key, until the test runs them.
type manualScheduler struct {
	mu     sync.Mutex
	keys   []string
	tasks  []engine.Task
	reject error
}

func (s *manualScheduler) Post(key string, t engine.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		return s.reject
	}
	for _, k := range s.keys {
		if k == key {
			return nil
		}
	}
	s.keys = append(s.keys, key)
	s.tasks = append(s.tasks, t)
	return nil
}

func (s *manualScheduler) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *manualScheduler) runAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.keys = nil
	s.mu.Unlock()
	for _, t := range tasks {
		_ = t.Run(context.Background())
	}
}

type mapRemapper map[host.FormID]host.FormID

func (m mapRemapper) ResolveFormID(old host.FormID) (host.FormID, bool) {
	id, ok := m[old]
	return id, ok
}
