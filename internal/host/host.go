// Package host declares the services this module consumes from the simulation.
//
// The host owns every entity. This module only ever holds identifiers (weak
// references) and resolves them on demand through these interfaces; a resolved
// Handle is never kept beyond the operation that resolved it.
package host

import "fmt"

// FormID identifies a simulation entity (container, item kind, actor, form list, spell...).
// Zero means "none".
type FormID uint32

func (id FormID) String() string { return fmt.Sprintf("0x%08X", uint32(id)) }

// Handle is the scripting-layer handle bound to a live object.
type Handle uint64

// EmptyHandle is returned by the host for objects without a script binding.
const EmptyHandle Handle = 0

// Event names delivered to subscribers.
const (
	EventItemsArrived = "ItemsArrived"
	EventItemsLeft    = "ItemsLeft"
	EventImpact       = "Impact"
)

// Event is a coalesced notification handed to the Dispatcher.
// Args is ItemsMoved for the batch events and ImpactArgs for Impact.
type Event struct {
	Name string
	Args any
}

// ItemsMoved carries three parallel sequences: item kinds, signed counts and the
// counterpart container (source for ItemsArrived, destination for ItemsLeft; 0 when
// the counterpart is not a live container).
type ItemsMoved struct {
	Items        []FormID
	Counts       []int32
	Counterparts []FormID
}

func (m ItemsMoved) Len() int { return len(m.Items) }

// ImpactArgs are the arguments of an Impact event.
type ImpactArgs struct {
	Aggressor   FormID
	Source      FormID
	Projectile  FormID
	PowerAttack bool
	SneakAttack bool
	BashAttack  bool
	HitBlocked  bool
}

// LateFilter is evaluated by the dispatcher right before the event reaches scripts.
// Returning false cancels delivery.
type LateFilter func(h Handle) bool

// Dispatcher delivers events to script handles.
//
// Deliver must not synchronously call back into the notification sink: batch
// flushes hold the direction lock while delivering.
type Dispatcher interface {
	Deliver(h Handle, ev Event, late LateFilter)
}

// World resolves identifiers to live objects.
type World interface {
	// LookupContainer reports whether id names a live object reference able to hold items.
	LookupContainer(id FormID) bool
	// HandleFor returns the script handle of a live object.
	HandleFor(id FormID) (Handle, bool)
	// ActiveEffects returns the handles of magic effects currently attached to target.
	ActiveEffects(target FormID) []Handle
}

// Remapper translates identifiers persisted in a previous session.
type Remapper interface {
	ResolveFormID(old FormID) (FormID, bool)
}

// IdentityRemapper keeps every identifier as-is.
type IdentityRemapper struct{}

func (IdentityRemapper) ResolveFormID(old FormID) (FormID, bool) { return old, true }

// Filters are the interest lists a subscriber declared. They are owned by the host.
type Filters struct {
	Items []FormID
	Lists []FormID
}

// InterestLists returns the subscriber's declared filters. ok is false when the
// subscriber never declared any, which means every item is of interest.
// The returned value must be a snapshot the caller may read without locking.
type InterestLists interface {
	Filters(h Handle) (f *Filters, ok bool)
}

// ListLookup tests membership in a host-owned form list.
// found is false when list does not resolve to a form list.
type ListLookup interface {
	ListContains(list FormID, item FormID) (contains bool, found bool)
}
