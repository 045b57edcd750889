package batch

import (
	"paperevents/internal/cosave"
	"paperevents/internal/host"
)

// Direction selects one of the two pending queues.
type Direction uint8

const (
	// Added batches are keyed by the destination container.
	Added Direction = iota
	// Removed batches are keyed by the source container.
	Removed
)

var directions = [...]Direction{Added, Removed}

func (d Direction) String() string {
	if d == Removed {
		return "removed"
	}
	return "added"
}

// EventName is the coalesced event delivered for this direction.
func (d Direction) EventName() string {
	if d == Removed {
		return host.EventItemsLeft
	}
	return host.EventItemsArrived
}

// Persisted record tags, one per direction.
var (
	ItemsAddedRecord   = cosave.MakeTag("BIAD")
	ItemsRemovedRecord = cosave.MakeTag("BIRM")
)

const recordVersion uint32 = 1

func (d Direction) Tag() cosave.Tag {
	if d == Removed {
		return ItemsRemovedRecord
	}
	return ItemsAddedRecord
}

func directionForTag(t cosave.Tag) (Direction, bool) {
	switch t {
	case ItemsAddedRecord:
		return Added, true
	case ItemsRemovedRecord:
		return Removed, true
	}
	return 0, false
}

// ItemEvent is one queued item move. Counterpart is the other container of the
// move (the source for Added, the destination for Removed), 0 when there is none.
type ItemEvent struct {
	Counterpart host.FormID `json:"counterpart"`
	Item        host.FormID `json:"item"`
	Count       int32       `json:"count"`
}

// Entry is the batch accumulated for one container.
type Entry struct {
	Container host.FormID `json:"container"`
	Events    []ItemEvent `json:"events"`
}

// FlushStats summarizes one flush.
type FlushStats struct {
	Direction  string `json:"direction"`
	Containers int    `json:"containers"`
	Delivered  int    `json:"delivered"`
	Unresolved int    `json:"unresolved"`
	Filtered   int    `json:"filtered"`
}

// LoadStats summarizes one OnLoad pass.
type LoadStats struct {
	Records    int `json:"records"`
	Skipped    int `json:"skipped"`
	Events     int `json:"events"`
	Remapped   int `json:"remapped"`
	RemapFails int `json:"remap_fails"`
	Scheduled  int `json:"scheduled"`
}
