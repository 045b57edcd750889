package batch

import (
	"errors"
	"fmt"
	"io"
	"time"

	"paperevents/internal/cosave"
	"paperevents/internal/eventbus"
	"paperevents/internal/host"
	logx "paperevents/pkg/logx"
)

// RecordWriter is the save side of the cosave stream. *cosave.Writer satisfies it.
type RecordWriter interface {
	OpenRecord(tag cosave.Tag, version uint32) error
	Discard()
	WriteU32(v uint32) error
	WriteU64(v uint64) error
	WriteI32(v int32) error
}

// RecordReader is the load side of the cosave stream. *cosave.Reader satisfies it.
type RecordReader interface {
	Next() (cosave.RecordInfo, error)
	ReadU32() (uint32, error)
	ReadU64() (uint64, error)
	ReadI32() (int32, error)
}

// OnSave writes one record per direction. A direction that fails is logged and
// skipped; the other is still written. The returned error joins the failures.
func (a *Aggregator) OnSave(w RecordWriter) error {
	var errs []error
	for _, dir := range directions {
		if err := a.saveDirection(w, dir); err != nil {
			a.log.Error("batch record not saved", logx.String("direction", dir.String()), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Aggregator) saveDirection(w RecordWriter, dir Direction) error {
	q := a.queue(dir)
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := w.OpenRecord(dir.Tag(), recordVersion); err != nil {
		return err
	}
	if err := writeEntries(w, q); err != nil {
		w.Discard()
		return err
	}
	return nil
}

func writeEntries(w RecordWriter, q *pending) error {
	if err := w.WriteU64(uint64(len(q.order))); err != nil {
		return err
	}
	for _, id := range q.order {
		events := q.entries[id]
		if err := w.WriteU32(uint32(id)); err != nil {
			return err
		}
		if err := w.WriteU64(uint64(len(events))); err != nil {
			return err
		}
		for _, ev := range events {
			if err := w.WriteU32(uint32(ev.Counterpart)); err != nil {
				return err
			}
			if err := w.WriteU32(uint32(ev.Item)); err != nil {
				return err
			}
			if err := w.WriteI32(ev.Count); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnLoad reads records until the stream ends, appending every entry to the
// matching queue after remapping its ids. Unknown tags are skipped and a
// truncated record keeps whatever was read before the cut. Each direction left
// non-empty gets a flush scheduled unless one is already outstanding.
func (a *Aggregator) OnLoad(r RecordReader) LoadStats {
	var stats LoadStats
	for {
		info, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.log.Error("cosave stream ended early", logx.Err(err))
			break
		}
		stats.Records++

		dir, ok := directionForTag(info.Tag)
		if !ok || info.Version > recordVersion {
			stats.Skipped++
			a.log.Warn("cosave record skipped",
				logx.Err(cosave.ErrUnknownRecord),
				logx.String("tag", info.Tag.String()),
				logx.Uint32("version", info.Version),
			)
			if a.bus != nil {
				a.bus.Publish(eventbus.Event{Type: eventbus.TypeRecordSkipped, Time: time.Now(), Data: map[string]any{
					"tag": info.Tag.String(), "version": info.Version, "length": info.Length,
				}})
			}
			continue
		}
		if err := a.loadDirection(r, dir, &stats); err != nil {
			a.log.Error("batch record truncated", logx.String("direction", dir.String()), logx.Err(err))
		}
	}

	for _, dir := range directions {
		q := a.queue(dir)
		q.mu.Lock()
		if len(q.order) > 0 && !q.scheduled {
			q.scheduled = true
			if err := a.scheduleLocked(dir); err != nil {
				q.scheduled = false
				a.log.Warn("flush not scheduled after load", logx.String("direction", dir.String()), logx.Err(err))
			} else {
				stats.Scheduled++
			}
		}
		q.mu.Unlock()
	}

	a.log.Info("pending batches loaded",
		logx.Int("records", stats.Records),
		logx.Int("skipped", stats.Skipped),
		logx.Int("events", stats.Events),
		logx.Int("remap_fails", stats.RemapFails),
	)
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeCosaveLoaded, Time: time.Now(), Data: stats})
	}
	return stats
}

func (a *Aggregator) loadDirection(r RecordReader, dir Direction, stats *LoadStats) error {
	count, err := r.ReadU64()
	if err != nil {
		return err
	}

	q := a.queue(dir)
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := uint64(0); i < count; i++ {
		rawID, err := r.ReadU32()
		if err != nil {
			return err
		}
		n, err := r.ReadU64()
		if err != nil {
			return err
		}
		container := a.resolve(host.FormID(rawID), stats)
		for j := uint64(0); j < n; j++ {
			counterpart, err := r.ReadU32()
			if err != nil {
				return err
			}
			item, err := r.ReadU32()
			if err != nil {
				return err
			}
			qty, err := r.ReadI32()
			if err != nil {
				return err
			}
			q.appendLocked(container, ItemEvent{
				Counterpart: a.resolve(host.FormID(counterpart), stats),
				Item:        a.resolve(host.FormID(item), stats),
				Count:       qty,
			})
			stats.Events++
		}
	}
	return nil
}

// resolve maps an id saved in a previous session to the current one. A failure
// keeps the saved id; flush-time resolution decides whether it is still usable.
func (a *Aggregator) resolve(old host.FormID, stats *LoadStats) host.FormID {
	if old == 0 {
		return 0
	}
	id, ok := a.remap.ResolveFormID(old)
	if !ok {
		stats.RemapFails++
		a.log.Warn("form id not remapped", logx.Err(ErrUnresolvedID), logx.Hex("id", uint32(old)))
		return old
	}
	if id != old {
		stats.Remapped++
	}
	return id
}
