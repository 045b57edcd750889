package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"paperevents/internal/batch"
	"paperevents/internal/config"
	"paperevents/internal/eventbus"
	"paperevents/internal/filter"
	"paperevents/internal/impact"
	rtsup "paperevents/internal/runtime/supervisor"
	"paperevents/internal/sim"
	"paperevents/internal/sink"
	"paperevents/internal/storage"
	"paperevents/internal/tap"
	"paperevents/internal/task/engine"
	logx "paperevents/pkg/logx"
)

// Options selects where the app gets its config and world from. Exactly one of
// ConfigPath and Config should be set; ConfigPath enables hot reload.
type Options struct {
	ConfigPath string
	Config     *config.Config

	// World is the simulated host. A fresh empty world is used when nil.
	World *sim.World

	// LogOut redirects log lines (JSON) away from the console and file sinks.
	LogOut io.Writer
}

// App wires the notification sink, the batch aggregator, the hit deduplicator
// and their persistence into one process.
type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	logOut  io.Writer
	bus     eventbus.Bus
	store   storage.Store
	session string

	world   *sim.World
	rec     *sim.Recorder
	engine  *engine.Service
	batches *batch.Aggregator
	hits    *impact.Deduplicator
	sink    *sink.Router
	tap     *tap.Server

	cron         *cron.Cron
	autosaveMu   sync.Mutex
	autosaveID   cron.EntryID
	autosaveSpec string

	// cosaveMu serializes save, load and revert. memSlots holds slots when
	// storage is disabled.
	cosaveMu sync.Mutex
	memSlots map[string]storage.Slot
}

func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	var cfg *config.Config
	switch {
	case strings.TrimSpace(opts.ConfigPath) != "":
		c, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	case opts.Config != nil:
		if err := config.Validate(opts.Config); err != nil {
			return nil, err
		}
		cfg = opts.Config
		cfgm.Commit(cfg)
	default:
		return nil, errors.New("app: no config")
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg, opts.LogOut))
	session := uuid.NewString()
	log = log.With(logx.String("session", session))

	bus := eventbus.New()

	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	world := opts.World
	if world == nil {
		world = sim.NewWorld()
	}
	rec := sim.NewRecorder(bus, log.With(logx.String("comp", "dispatch")))
	eval := filter.New(world, log.With(logx.String("comp", "filter")))

	batches := batch.New(batch.Deps{
		World:      world,
		Lists:      world,
		Filter:     eval,
		Dispatcher: rec,
		Remapper:   world,
		Scheduler:  engineSvc,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "batch")),
	})
	hits := impact.New(impact.Deps{
		World:      world,
		Forms:      world,
		Dispatcher: rec,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "impact")),
		MaxEntries: cfg.Dedup.MaxEntries,
	})

	a := &App{
		cfgPath:  opts.ConfigPath,
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		logOut:   opts.LogOut,
		bus:      bus,
		store:    store,
		session:  session,
		world:    world,
		rec:      rec,
		engine:   engineSvc,
		batches:  batches,
		hits:     hits,
		sink:     sink.NewRouter(batches, hits),
		tap:      tap.NewServer(bus, session, log.With(logx.String("comp", "tap"))),
		memSlots: map[string]storage.Slot{},
	}
	return a, nil
}

func (a *App) Sink() sink.Sink               { return a.sink }
func (a *App) Recorder() *sim.Recorder       { return a.rec }
func (a *App) World() *sim.World             { return a.world }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Batches() *batch.Aggregator    { return a.batches }
func (a *App) Hits() *impact.Deduplicator    { return a.hits }
func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Session() string               { return a.session }
func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) TaskSnapshot() engine.Snapshot { return a.engine.Snapshot() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Drain waits until every flush scheduled so far has run.
func (a *App) Drain(ctx context.Context) error {
	return a.engine.Drain(ctx)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.engine.Start(a.sup.Context())

	a.cron = cron.New(
		cron.WithLogger(cronLogger{log: a.log.With(logx.String("comp", "autosave"))}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: a.log})),
	)
	if err := a.applyAutosave(cfg); err != nil {
		return err
	}
	a.cron.Start()

	if cfg.Tap.Enabled {
		if cfg.Tap.Pprof {
			a.tap.EnablePprof()
		}
		addr := cfg.TapAddr()
		a.sup.Go("tap", func(c context.Context) error {
			return a.tap.Run(c, addr)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	if strings.TrimSpace(a.cfgPath) != "" {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started",
		logx.Bool("storage", a.store != nil),
		logx.Bool("tap", cfg.Tap.Enabled),
		logx.String("slot", cfg.SlotName()),
	)
	return nil
}

// logEvent keeps bus traffic at debug level; task failures are the exception.
func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeTaskFailed, eventbus.TypeTaskDropped:
		a.log.Warn("task event", logx.String("type", e.Type), logx.Any("data", e.Data))
	case eventbus.TypeDelivery:
		a.log.Trace("event", logx.String("type", e.Type))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("autosave", time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
