package app

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperevents/internal/batch"
	"paperevents/internal/config"
	"paperevents/internal/host"
	"paperevents/internal/impact"
	"paperevents/internal/sim"
	"paperevents/internal/sink"
	"paperevents/internal/storage"
	"paperevents/internal/task/engine"
)

const (
	chestA  host.FormID = 0x10
	chestB  host.FormID = 0x20
	handleA host.Handle = 0xA0
	handleB host.Handle = 0xB0
)

func testWorld() *sim.World {
	w := sim.NewWorld()
	w.AddContainer(chestA, handleA)
	w.AddContainer(chestB, handleB)
	return w
}

func startApp(t *testing.T, cfg *config.Config, w *sim.World) *App {
	t.Helper()
	a, err := New(Options{Config: cfg, World: w, LogOut: io.Discard})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = a.Stop(context.Background(), StopUnknown)
	})
	return a
}

// holdEngine parks the single worker until the returned func is called, so
// every flush scheduled meanwhile waits behind it.
func holdEngine(t *testing.T, a *App) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, a.engine.Enqueue(engine.Task{Name: "hold", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}))
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func drain(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Drain(ctx))
}

func threeMoves(s sink.Sink) {
	s.OnItemMoved(sink.ContainerChanged{Dest: chestA, Item: 0x100, Count: 1})
	s.OnItemMoved(sink.ContainerChanged{Dest: chestB, Item: 0x101, Count: 2})
	s.OnItemMoved(sink.ContainerChanged{Dest: chestA, Item: 0x102, Count: 3})
}

func requireGrouped(t *testing.T, got []sim.Delivery) {
	t.Helper()
	require.Len(t, got, 2)
	require.Equal(t, host.EventItemsArrived, got[0].Event)
	require.Equal(t, handleA, got[0].Handle)
	require.Equal(t, []host.FormID{0x100, 0x102}, got[0].Args.(host.ItemsMoved).Items)
	require.Equal(t, []int32{1, 3}, got[0].Args.(host.ItemsMoved).Counts)
	require.Equal(t, handleB, got[1].Handle)
	require.Equal(t, []host.FormID{0x101}, got[1].Args.(host.ItemsMoved).Items)
}

func TestMovesAreDeliveredOncePerContainer(t *testing.T) {
	a := startApp(t, &config.Config{}, testWorld())

	release := holdEngine(t, a)
	threeMoves(a.Sink())
	require.True(t, a.Batches().Scheduled(batch.Added))
	require.False(t, a.Batches().Scheduled(batch.Removed))
	release()
	drain(t, a)

	requireGrouped(t, a.Recorder().Deliveries())
	require.False(t, a.Batches().Scheduled(batch.Added))
}

func TestFlushesSurviveFullTaskQueue(t *testing.T) {
	cfg := &config.Config{TaskEngine: &config.TaskEngineConfig{QueueSize: 1}}
	a := startApp(t, cfg, testWorld())

	release := holdEngine(t, a)
	require.NoError(t, a.engine.Enqueue(engine.Task{Name: "filler", Run: func(context.Context) error { return nil }}))
	require.ErrorIs(t, a.engine.Enqueue(engine.Task{Name: "overflow", Run: func(context.Context) error { return nil }}), engine.ErrQueueFull)

	a.Sink().OnItemMoved(sink.ContainerChanged{Source: chestB, Dest: chestA, Item: 0x100, Count: 1})
	require.True(t, a.Batches().Scheduled(batch.Removed))
	require.True(t, a.Batches().Scheduled(batch.Added))
	release()
	drain(t, a)
	drain(t, a)

	got := a.Recorder().Deliveries()
	require.Len(t, got, 2)
	require.Equal(t, host.EventItemsLeft, got[0].Event)
	require.Equal(t, handleB, got[0].Handle)
	require.Equal(t, host.EventItemsArrived, got[1].Event)
	require.Equal(t, handleA, got[1].Handle)
	for _, dir := range []batch.Direction{batch.Added, batch.Removed} {
		require.Empty(t, a.Batches().Pending(dir))
		require.False(t, a.Batches().Scheduled(dir))
	}
	snap := a.TaskSnapshot()
	require.Equal(t, uint64(1), snap.Dropped)
	require.Zero(t, snap.Posted)
}

func TestSaveRevertLoadRestoresPendingBatches(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: &config.StorageConfig{Driver: "file", Path: filepath.Join(dir, "paper.db")},
		Cosave:  config.CosaveConfig{Compress: true},
	}
	a := startApp(t, cfg, testWorld())
	ctx := context.Background()

	release := holdEngine(t, a)
	threeMoves(a.Sink())
	before := a.Batches().Pending(batch.Added)
	require.Len(t, before, 2)

	res, err := a.Save(ctx, "")
	require.NoError(t, err)
	require.Equal(t, config.DefaultSlot, res.Slot)
	require.Equal(t, 2, res.Records)
	require.Positive(t, res.Bytes)

	a.Revert(ctx)
	require.Empty(t, a.Batches().Pending(batch.Added))
	require.False(t, a.Batches().Scheduled(batch.Added))

	stats, err := a.Load(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Records)
	require.Equal(t, 3, stats.Events)
	require.Equal(t, 1, stats.Scheduled)
	require.Equal(t, before, a.Batches().Pending(batch.Added))
	require.True(t, a.Batches().Scheduled(batch.Added))

	release()
	drain(t, a)
	requireGrouped(t, a.Recorder().Deliveries())

	slots, err := a.Slots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.Equal(t, a.Session(), slots[0].Session)

	hist, err := os.ReadFile(filepath.Join(dir, "paper.history.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(hist), `"op":"save"`)
	require.Contains(t, string(hist), `"op":"revert"`)
	require.Contains(t, string(hist), `"op":"load"`)
}

func TestMemorySlotsWithoutStorage(t *testing.T) {
	a := startApp(t, &config.Config{}, testWorld())
	ctx := context.Background()

	_, err := a.Load(ctx, "nope")
	require.ErrorIs(t, err, ErrSlotNotFound)

	_, err = a.Save(ctx, "empty")
	require.NoError(t, err)
	stats, err := a.Load(ctx, "empty")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Records)
	require.Zero(t, stats.Events)
	require.Zero(t, stats.Scheduled)

	slots, err := a.Slots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.Equal(t, "empty", slots[0].Name)
}

func TestHitsAreDeduplicatedPerTick(t *testing.T) {
	w := testWorld()
	w.AddActor(0x30, 0xC0)
	w.AddForm(host.Form{ID: 0x200, Type: host.FormWeapon})
	a := startApp(t, &config.Config{Dedup: config.DedupConfig{MaxEntries: 4}}, w)

	hit := host.HitEvent{Target: 0x30, Cause: 0x40, Source: 0x200, Tick: 7}
	require.Equal(t, impact.Delivered, a.Sink().OnHit(hit))
	require.Equal(t, impact.Duplicate, a.Sink().OnHit(hit))
	hit.Tick = 8
	require.Equal(t, impact.Delivered, a.Sink().OnHit(hit))

	got := a.Recorder().Deliveries()
	require.Len(t, got, 2)
	require.Equal(t, host.EventImpact, got[0].Event)
	require.Equal(t, host.FormID(0x40), got[0].Args.(host.ImpactArgs).Aggressor)
}

func TestApplyConfigUpdatesDedupAndAutosave(t *testing.T) {
	a := startApp(t, &config.Config{}, testWorld())
	oldCfg := a.Config()
	newCfg := &config.Config{
		Dedup:  config.DedupConfig{MaxEntries: 1},
		Cosave: config.CosaveConfig{Autosave: "@every 1h"},
	}
	a.applyConfig(oldCfg, newCfg)

	a.autosaveMu.Lock()
	require.NotZero(t, a.autosaveID)
	require.Equal(t, "@every 1h", a.autosaveSpec)
	a.autosaveMu.Unlock()

	a.applyConfig(newCfg, &config.Config{Dedup: newCfg.Dedup})
	a.autosaveMu.Lock()
	require.Zero(t, a.autosaveID)
	a.autosaveMu.Unlock()
}

func TestApplyConfigNotifiesSystemd(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	a := startApp(t, &config.Config{}, testWorld())
	a.applyConfig(a.Config(), &config.Config{Dedup: config.DedupConfig{MaxEntries: 4}})

	var got []string
	buf := make([]byte, 128)
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		got = append(got, string(buf[:n]))
	}
	require.Equal(t, []string{"RELOADING=1", "READY=1", "STATUS=config reloaded: dedup"}, got)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Options{Config: &config.Config{Cosave: config.CosaveConfig{Autosave: "not cron"}}, LogOut: io.Discard})
	require.Error(t, err)

	_, err = New(Options{LogOut: io.Discard})
	require.Error(t, err)
}

func TestMapTaskEngineConfigKeepsSingleWorker(t *testing.T) {
	ec, err := mapTaskEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{QueueSize: 8, DefaultTimeout: "2s"}})
	require.NoError(t, err)
	require.True(t, ec.Enabled)
	require.Equal(t, 1, ec.Workers)
	require.Equal(t, 8, ec.QueueSize)
	require.Equal(t, 2*time.Second, ec.DefaultTimeout)

	_, err = mapTaskEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{DefaultTimeout: "soon"}})
	require.Error(t, err)
}

func TestMapStorageConfig(t *testing.T) {
	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	require.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite3", Path: " x.db "}})
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}, sc)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file"}})
	require.Error(t, err)
	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis", Path: "x"}})
	require.Error(t, err)
}
