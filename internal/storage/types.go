package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrBadSlot  = errors.New("invalid slot name")
	ErrClosed   = errors.New("storage closed")
	errNoPath   = errors.New("storage.path is required")
)

// Config configures storage.
//
// Driver values:
//   - "file": one file per slot next to a JSON index
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Slot is a stored cosave.
type Slot struct {
	Name    string
	Session string
	SavedAt time.Time
	Data    []byte
}

// SlotInfo is a Slot without its payload.
type SlotInfo struct {
	Name    string    `json:"name"`
	Session string    `json:"session"`
	SavedAt time.Time `json:"saved_at"`
	Size    int       `json:"size"`
}

// HistoryEntry records one save, load or revert.
type HistoryEntry struct {
	At      time.Time `json:"at"`
	Op      string    `json:"op"`
	Slot    string    `json:"slot,omitempty"`
	Session string    `json:"session,omitempty"`
	Records int       `json:"records"`
	Bytes   int       `json:"bytes"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
