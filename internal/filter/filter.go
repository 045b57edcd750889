// Package filter decides whether an item kind is of interest to a subscriber.
package filter

import (
	"errors"

	"paperevents/internal/host"
	logx "paperevents/pkg/logx"
)

// ErrNotFormList is reported (logged) when a subscriber references a list id that
// does not resolve to a form list.
var ErrNotFormList = errors.New("expected form to be a form list")

// Evaluator checks items against a subscriber's interest lists.
type Evaluator struct {
	lists host.ListLookup
	log   logx.Logger
}

func New(lists host.ListLookup, log logx.Logger) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Evaluator{lists: lists, log: log}
}

// Passes reports whether item is of interest. Absent filters pass everything.
func (e *Evaluator) Passes(item host.FormID, f *host.Filters) bool {
	if f == nil {
		return true
	}
	for _, id := range f.Items {
		if id == item {
			return true
		}
	}
	if e.lists == nil {
		return false
	}
	for _, list := range f.Lists {
		contains, found := e.lists.ListContains(list, item)
		if !found {
			e.log.Error("interest list unresolved", logx.Err(ErrNotFormList), logx.Hex("list", uint32(list)))
			continue
		}
		if contains {
			return true
		}
	}
	return false
}

// Any reports whether at least one of items passes.
func (e *Evaluator) Any(items []host.FormID, f *host.Filters) bool {
	for _, it := range items {
		if e.Passes(it, f) {
			return true
		}
	}
	return false
}
