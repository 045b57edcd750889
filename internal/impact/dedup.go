// Package impact turns raw hit notifications into at most one "Impact" event
// per (target, cause) and simulation tick.
package impact

import (
	"sync"
	"time"

	"paperevents/internal/eventbus"
	"paperevents/internal/host"
	logx "paperevents/pkg/logx"
)

// DefaultMaxEntries bounds the per-tick window when Deps.MaxEntries is 0.
const DefaultMaxEntries = 256

type Outcome uint8

const (
	// Ignored hits target something that cannot receive Impact. Nothing is recorded.
	Ignored Outcome = iota
	// Duplicate hits repeat a (target, cause) pair already delivered this tick.
	Duplicate
	// NotImpact hits failed classification. Nothing is recorded.
	NotImpact
	Delivered
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case NotImpact:
		return "not_impact"
	case Delivered:
		return "delivered"
	default:
		return "ignored"
	}
}

// RecentHit is one entry of the dedup window.
type RecentHit struct {
	Target host.FormID `json:"target"`
	Cause  host.FormID `json:"cause"`
	Tick   uint64      `json:"tick"`
}

type Deps struct {
	World      host.World
	Forms      host.Forms
	Dispatcher host.Dispatcher
	Bus        eventbus.Bus
	Log        logx.Logger
	MaxEntries int
}

// Deduplicator keeps the hits delivered during the most recent tick. Every
// entry shares one tick; a hit from another tick empties the window first.
type Deduplicator struct {
	world    host.World
	forms    host.Forms
	dispatch host.Dispatcher
	bus      eventbus.Bus
	log      logx.Logger

	mu      sync.Mutex
	tick    uint64
	window  []RecentHit
	max     int
	evicted uint64
}

func New(d Deps) *Deduplicator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.MaxEntries <= 0 {
		d.MaxEntries = DefaultMaxEntries
	}
	return &Deduplicator{
		world:    d.World,
		forms:    d.Forms,
		dispatch: d.Dispatcher,
		bus:      d.Bus,
		log:      d.Log,
		max:      d.MaxEntries,
	}
}

// SetMaxEntries changes the window bound. A smaller bound trims the oldest entries.
func (d *Deduplicator) SetMaxEntries(n int) {
	if n <= 0 {
		n = DefaultMaxEntries
	}
	d.mu.Lock()
	d.max = n
	if over := len(d.window) - n; over > 0 {
		d.window = append(d.window[:0], d.window[over:]...)
		d.evicted += uint64(over)
	}
	d.mu.Unlock()
}

// Window returns a copy of the current entries, oldest first.
func (d *Deduplicator) Window() []RecentHit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RecentHit(nil), d.window...)
}

// Evicted reports how many entries were dropped because the window was full.
func (d *Deduplicator) Evicted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evicted
}

// OnHit runs one hit through the window and, when it is a novel genuine
// impact, delivers Impact to the target and to each of its active effects.
func (d *Deduplicator) OnHit(ev host.HitEvent) Outcome {
	d.mu.Lock()
	if ev.Tick != d.tick {
		d.window = d.window[:0]
		d.tick = ev.Tick
	}
	for _, h := range d.window {
		if h.Target == ev.Target && h.Cause == ev.Cause {
			d.mu.Unlock()
			d.log.Trace("hit suppressed", logx.Hex("target", uint32(ev.Target)), logx.Hex("cause", uint32(ev.Cause)), logx.Uint64("tick", ev.Tick))
			d.publish(eventbus.TypeImpactSkipped, ev, Duplicate.String())
			return Duplicate
		}
	}

	handle, ok := d.targetHandle(ev.Target)
	if !ok {
		d.mu.Unlock()
		return Ignored
	}

	source := d.lookup(ev.Source, 0)
	projectile := d.lookup(ev.Projectile, host.FormProjectile)
	impact, reason := Classify(source, projectile, ev.Flags)
	if !impact {
		d.mu.Unlock()
		d.log.Debug("hit not an impact", logx.Hex("target", uint32(ev.Target)), logx.String("reason", reason))
		d.publish(eventbus.TypeImpactSkipped, ev, reason)
		return NotImpact
	}

	if len(d.window) >= d.max {
		d.window = append(d.window[:0], d.window[1:]...)
		d.evicted++
	}
	d.window = append(d.window, RecentHit{Target: ev.Target, Cause: ev.Cause, Tick: ev.Tick})
	d.mu.Unlock()

	args := host.ImpactArgs{
		Aggressor:   ev.Cause,
		PowerAttack: ev.Flags.Has(host.HitPowerAttack),
		SneakAttack: ev.Flags.Has(host.HitSneakAttack),
		BashAttack:  ev.Flags.Has(host.HitBashAttack),
		HitBlocked:  ev.Flags.Has(host.HitBlocked),
	}
	if source != nil {
		args.Source = source.ID
	}
	if projectile != nil {
		args.Projectile = projectile.ID
	}

	event := host.Event{Name: host.EventImpact, Args: args}
	d.dispatch.Deliver(handle, event, nil)
	relayed := 0
	for _, eh := range d.world.ActiveEffects(ev.Target) {
		if eh == host.EmptyHandle {
			continue
		}
		d.dispatch.Deliver(eh, event, nil)
		relayed++
	}

	d.log.Debug("impact delivered",
		logx.Hex("target", uint32(ev.Target)),
		logx.Hex("cause", uint32(ev.Cause)),
		logx.String("reason", reason),
		logx.Int("effects", relayed),
	)
	d.publish(eventbus.TypeImpactDelivered, ev, reason)
	return Delivered
}

// targetHandle resolves the script handle of an actor target.
func (d *Deduplicator) targetHandle(target host.FormID) (host.Handle, bool) {
	if d.lookup(target, host.FormActor) == nil {
		return host.EmptyHandle, false
	}
	h, ok := d.world.HandleFor(target)
	if !ok || h == host.EmptyHandle {
		return host.EmptyHandle, false
	}
	return h, true
}

// lookup resolves id, optionally requiring a form type. It returns nil for 0,
// for ids the host does not know and for type mismatches.
func (d *Deduplicator) lookup(id host.FormID, want host.FormType) *host.Form {
	if id == 0 || d.forms == nil {
		return nil
	}
	f, ok := d.forms.LookupForm(id)
	if !ok {
		return nil
	}
	if want != host.FormNone && f.Type != want {
		return nil
	}
	return &f
}

func (d *Deduplicator) publish(typ string, ev host.HitEvent, reason string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: map[string]any{
		"target": ev.Target.String(),
		"cause":  ev.Cause.String(),
		"tick":   ev.Tick,
		"reason": reason,
	}})
}
