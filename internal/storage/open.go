package storage

import (
	"context"
	"errors"
	"strings"

	logx "paperevents/pkg/logx"
)

// Store is the persistence API used by the app.
type Store interface {
	PutSlot(ctx context.Context, s Slot) error
	GetSlot(ctx context.Context, name string) (Slot, bool, error)
	DeleteSlot(ctx context.Context, name string) error
	ListSlots(ctx context.Context) ([]SlotInfo, error)
	AppendHistory(ctx context.Context, e HistoryEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// validSlot accepts names that are safe as file names.
func validSlot(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return name != "." && name != ".."
}
