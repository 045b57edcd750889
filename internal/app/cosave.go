package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"paperevents/internal/batch"
	"paperevents/internal/cosave"
	"paperevents/internal/eventbus"
	"paperevents/internal/storage"
	logx "paperevents/pkg/logx"
)

// ErrSlotNotFound is returned by Load for a slot that was never saved.
var ErrSlotNotFound = errors.New("cosave slot not found")

type SaveResult struct {
	Slot    string        `json:"slot"`
	Records int           `json:"records"`
	Bytes   int           `json:"bytes"`
	Took    time.Duration `json:"took"`
}

// Save writes the pending batches of both directions to slot. An empty slot
// name uses cosave.slot. A direction that fails to serialize is logged and
// left out; the slot is still written.
func (a *App) Save(ctx context.Context, slot string) (SaveResult, error) {
	cfg := a.cfgm.Get()
	if slot == "" {
		slot = cfg.SlotName()
	}
	start := time.Now()

	a.cosaveMu.Lock()
	defer a.cosaveMu.Unlock()

	var cw *cosave.Writer
	blob, err := cosave.Encode(cfg.Cosave.Compress, func(w *cosave.Writer) error {
		cw = w
		if err := a.batches.OnSave(w); err != nil {
			a.log.Warn("cosave partially written", logx.String("slot", slot), logx.Err(err))
		}
		return nil
	})
	res := SaveResult{Slot: slot, Bytes: len(blob), Took: time.Since(start)}
	if cw != nil {
		res.Records = cw.Records()
	}
	if err == nil {
		err = a.putSlot(ctx, storage.Slot{Name: slot, Session: a.session, SavedAt: time.Now(), Data: blob})
	}
	a.history(ctx, "save", slot, res.Records, res.Bytes, start, err)
	if err != nil {
		return res, fmt.Errorf("save %s: %w", slot, err)
	}

	a.log.Info("cosave saved",
		logx.String("slot", slot),
		logx.Int("records", res.Records),
		logx.Int("bytes", res.Bytes),
		logx.Bool("compressed", cfg.Cosave.Compress),
	)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeCosaveSaved, Time: time.Now(), Data: res})
	return res, nil
}

// Load reverts the pending batches and replaces them with the content of slot,
// the same order the host uses when a game is loaded.
func (a *App) Load(ctx context.Context, slot string) (batch.LoadStats, error) {
	if slot == "" {
		slot = a.cfgm.Get().SlotName()
	}
	start := time.Now()

	a.cosaveMu.Lock()
	defer a.cosaveMu.Unlock()

	s, ok, err := a.getSlot(ctx, slot)
	if err == nil && !ok {
		err = ErrSlotNotFound
	}
	var r *cosave.Reader
	if err == nil {
		r, err = cosave.Decode(s.Data)
	}
	if err != nil {
		a.history(ctx, "load", slot, 0, len(s.Data), start, err)
		return batch.LoadStats{}, fmt.Errorf("load %s: %w", slot, err)
	}

	a.batches.OnRevert()
	stats := a.batches.OnLoad(r)
	a.history(ctx, "load", slot, stats.Records, len(s.Data), start, nil)
	if s.Session != "" && s.Session != a.session {
		a.log.Debug("cosave from previous session", logx.String("slot", slot), logx.String("saved_by", s.Session))
	}
	return stats, nil
}

// Revert drops every pending batch, as the host does before loading a game.
func (a *App) Revert(ctx context.Context) {
	start := time.Now()
	a.cosaveMu.Lock()
	defer a.cosaveMu.Unlock()
	a.batches.OnRevert()
	a.history(ctx, "revert", "", 0, 0, start, nil)
}

// Slots lists saved slots by name.
func (a *App) Slots(ctx context.Context) ([]storage.SlotInfo, error) {
	if a.store != nil {
		return a.store.ListSlots(ctx)
	}
	a.cosaveMu.Lock()
	defer a.cosaveMu.Unlock()
	out := make([]storage.SlotInfo, 0, len(a.memSlots))
	for _, s := range a.memSlots {
		out = append(out, storage.SlotInfo{Name: s.Name, Session: s.Session, SavedAt: s.SavedAt, Size: len(s.Data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (a *App) putSlot(ctx context.Context, s storage.Slot) error {
	if a.store != nil {
		return a.store.PutSlot(ctx, s)
	}
	a.memSlots[s.Name] = s
	return nil
}

func (a *App) getSlot(ctx context.Context, name string) (storage.Slot, bool, error) {
	if a.store != nil {
		return a.store.GetSlot(ctx, name)
	}
	s, ok := a.memSlots[name]
	return s, ok, nil
}

func (a *App) history(ctx context.Context, op, slot string, records, bytes int, start time.Time, err error) {
	if a.store == nil {
		return
	}
	e := storage.HistoryEntry{
		At:      time.Now(),
		Op:      op,
		Slot:    slot,
		Session: a.session,
		Records: records,
		Bytes:   bytes,
		TookMS:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if herr := a.store.AppendHistory(ctx, e); herr != nil {
		a.log.Debug("history not recorded", logx.String("op", op), logx.Err(herr))
	}
}
