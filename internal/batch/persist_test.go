package batch

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"paperevents/internal/cosave"
	logx "paperevents/pkg/logx"
)

func save(t *testing.T, agg *Aggregator) []byte {
	t.Helper()
	blob, err := cosave.Encode(false, func(w *cosave.Writer) error {
		return agg.OnSave(w)
	})
	require.NoError(t, err)
	return blob
}

func load(t *testing.T, agg *Aggregator, blob []byte) LoadStats {
	t.Helper()
	r, err := cosave.Decode(blob)
	require.NoError(t, err)
	return agg.OnLoad(r)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	src := newFixture(t, chest, barrel)
	src.agg.Enqueue(Added, chest, ItemEvent{Counterpart: player, Item: apple, Count: 1})
	src.agg.Enqueue(Added, barrel, ItemEvent{Item: sword, Count: 4})
	src.agg.Enqueue(Added, chest, ItemEvent{Counterpart: player, Item: apple, Count: 2})
	src.agg.Enqueue(Removed, chest, ItemEvent{Counterpart: barrel, Item: sword, Count: -3})

	blob := save(t, src.agg)

	dst := newFixture(t, chest, barrel)
	stats := load(t, dst.agg, blob)
	require.Equal(t, 2, stats.Records)
	require.Equal(t, 4, stats.Events)
	require.Zero(t, stats.Skipped)
	require.Equal(t, 2, stats.Scheduled)

	for _, dir := range directions {
		require.Equal(t, src.agg.Pending(dir), dst.agg.Pending(dir), dir.String())
		require.True(t, dst.agg.Scheduled(dir), dir.String())
	}
	require.Equal(t, 2, dst.sched.len())
}

func TestSaveWritesEmptyRecords(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	blob := save(t, f.agg)

	r, err := cosave.Decode(blob)
	require.NoError(t, err)
	var tags []cosave.Tag
	for {
		info, err := r.Next()
		if err != nil {
			break
		}
		tags = append(tags, info.Tag)
		n, err := r.ReadU64()
		require.NoError(t, err)
		require.Zero(t, n)
	}
	require.Equal(t, []cosave.Tag{ItemsAddedRecord, ItemsRemovedRecord}, tags)

	dst := newFixture(t)
	stats := load(t, dst.agg, blob)
	require.Zero(t, stats.Scheduled)
	require.Zero(t, dst.sched.len())
}

func TestLoadSkipsUnknownRecords(t *testing.T) {
	t.Parallel()
	blob, err := cosave.Encode(false, func(w *cosave.Writer) error {
		if err := w.OpenRecord(cosave.MakeTag("XTRA"), 1); err != nil {
			return err
		}
		for i := 0; i < 5; i++ {
			if err := w.WriteU32(0xFFFFFFFF); err != nil {
				return err
			}
		}
		// Known tag but a version this build does not understand.
		if err := w.OpenRecord(ItemsRemovedRecord, recordVersion+1); err != nil {
			return err
		}
		if err := w.WriteU64(99); err != nil {
			return err
		}
		if err := w.OpenRecord(ItemsAddedRecord, recordVersion); err != nil {
			return err
		}
		_ = w.WriteU64(1)
		_ = w.WriteU32(uint32(chest))
		_ = w.WriteU64(1)
		_ = w.WriteU32(0)
		_ = w.WriteU32(uint32(apple))
		return w.WriteI32(7)
	})
	require.NoError(t, err)

	f := newFixture(t, chest)
	stats := load(t, f.agg, blob)
	require.Equal(t, 3, stats.Records)
	require.Equal(t, 2, stats.Skipped)
	require.Equal(t, []Entry{{Container: chest, Events: []ItemEvent{{Item: apple, Count: 7}}}}, f.agg.Pending(Added))
	require.Empty(t, f.agg.Pending(Removed))
}

func TestLoadRemapsIdentifiers(t *testing.T) {
	t.Parallel()
	src := newFixture(t, chest)
	src.agg.Enqueue(Added, chest, ItemEvent{Counterpart: player, Item: apple, Count: 1})
	src.agg.Enqueue(Added, barrel, ItemEvent{Counterpart: player, Item: sword, Count: 1})
	blob := save(t, src.agg)

	var buf bytes.Buffer
	dst := newFixture(t)
	dst.agg.log = logx.NewWriter(&buf, "debug")
	// barrel and sword have no mapping: they keep their saved ids.
	dst.agg.remap = mapRemapper{chest: 0x01000014, player: 0x14, apple: 0x020000A1}

	stats := load(t, dst.agg, blob)
	require.Equal(t, 2, stats.RemapFails)
	require.Equal(t, 4, stats.Remapped)

	require.Equal(t, []Entry{
		{Container: 0x01000014, Events: []ItemEvent{{Counterpart: 0x14, Item: 0x020000A1, Count: 1}}},
		{Container: barrel, Events: []ItemEvent{{Counterpart: 0x14, Item: sword, Count: 1}}},
	}, dst.agg.Pending(Added))
	require.Contains(t, buf.String(), "form id not remapped")
}

func TestLoadKeepsPrefixOfTruncatedRecord(t *testing.T) {
	t.Parallel()
	blob, err := cosave.Encode(false, func(w *cosave.Writer) error {
		if err := w.OpenRecord(ItemsAddedRecord, recordVersion); err != nil {
			return err
		}
		_ = w.WriteU64(2) // claims two containers, carries one
		_ = w.WriteU32(uint32(chest))
		_ = w.WriteU64(1)
		_ = w.WriteU32(0)
		_ = w.WriteU32(uint32(apple))
		return w.WriteI32(1)
	})
	require.NoError(t, err)

	f := newFixture(t, chest)
	stats := load(t, f.agg, blob)
	require.Equal(t, 1, stats.Events)
	require.Len(t, f.agg.Pending(Added), 1)
	require.True(t, f.agg.Scheduled(Added))
}

// openFailWriter fails OpenRecord for one tag and forwards everything else.
type openFailWriter struct {
	*cosave.Writer
	fail cosave.Tag
}

func (w openFailWriter) OpenRecord(tag cosave.Tag, version uint32) error {
	if tag == w.fail {
		return cosave.ErrRecordOpen
	}
	return w.Writer.OpenRecord(tag, version)
}

func TestSaveContinuesAfterOpenFailure(t *testing.T) {
	t.Parallel()
	src := newFixture(t, chest)
	src.agg.Enqueue(Added, chest, ItemEvent{Item: apple, Count: 1})
	src.agg.Enqueue(Removed, chest, ItemEvent{Item: sword, Count: 1})

	var saveErr error
	blob, err := cosave.Encode(false, func(w *cosave.Writer) error {
		saveErr = src.agg.OnSave(openFailWriter{Writer: w, fail: ItemsAddedRecord})
		return nil
	})
	require.NoError(t, err)
	require.True(t, errors.Is(saveErr, cosave.ErrRecordOpen))

	dst := newFixture(t, chest)
	stats := load(t, dst.agg, blob)
	require.Equal(t, 1, stats.Records)
	require.Empty(t, dst.agg.Pending(Added))
	require.Len(t, dst.agg.Pending(Removed), 1)
}

func TestLoadDoesNotDoubleSchedule(t *testing.T) {
	t.Parallel()
	src := newFixture(t)
	src.agg.Enqueue(Added, chest, ItemEvent{Item: apple, Count: 1})
	blob := save(t, src.agg)

	dst := newFixture(t, chest)
	dst.agg.Enqueue(Added, barrel, ItemEvent{Item: sword, Count: 1})
	require.Equal(t, 1, dst.sched.len())

	stats := load(t, dst.agg, blob)
	require.Zero(t, stats.Scheduled)
	require.Equal(t, 1, dst.sched.len())
	require.Len(t, dst.agg.Pending(Added), 2)

	dst.sched.runAll()
	require.Len(t, dst.disp.deliveries(), 1, "only chest is live")
}
