package sim

import (
	"sync"
	"time"

	"paperevents/internal/eventbus"
	"paperevents/internal/host"
	logx "paperevents/pkg/logx"
)

// Delivery is one event that made it past the late filter.
type Delivery struct {
	Seq    uint64      `json:"seq"`
	Handle host.Handle `json:"handle"`
	Event  string      `json:"event"`
	Args   any         `json:"args"`
}

// Recorder is a host.Dispatcher that keeps every delivery and mirrors it on
// the bus. It runs the late filter inline, the way a host does right before
// invoking script handlers.
type Recorder struct {
	bus eventbus.Bus
	log logx.Logger

	mu        sync.Mutex
	seq       uint64
	delivered []Delivery
	canceled  int
	onDeliver func(Delivery)
}

var _ host.Dispatcher = (*Recorder)(nil)

func NewRecorder(bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{bus: bus, log: log}
}

// OnDeliver registers fn to run after each accepted delivery. fn must not call
// back into the sink.
func (r *Recorder) OnDeliver(fn func(Delivery)) {
	r.mu.Lock()
	r.onDeliver = fn
	r.mu.Unlock()
}

func (r *Recorder) Deliver(h host.Handle, ev host.Event, late host.LateFilter) {
	if late != nil && !late(h) {
		r.mu.Lock()
		r.canceled++
		r.mu.Unlock()
		r.log.Debug("delivery canceled by late filter", logx.Uint64("handle", uint64(h)), logx.String("event", ev.Name))
		return
	}

	r.mu.Lock()
	r.seq++
	d := Delivery{Seq: r.seq, Handle: h, Event: ev.Name, Args: ev.Args}
	r.delivered = append(r.delivered, d)
	fn := r.onDeliver
	r.mu.Unlock()

	if fn != nil {
		fn(d)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivery, Time: time.Now(), Data: d})
	}
}

// Deliveries returns a copy of everything delivered so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.delivered...)
}

func (r *Recorder) Canceled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// Reset forgets recorded deliveries. The sequence keeps counting.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.delivered = nil
	r.canceled = 0
	r.mu.Unlock()
}
