package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"paperevents/internal/app"
	"paperevents/internal/sim"
	"paperevents/internal/sink"
	logx "paperevents/pkg/logx"
	"paperevents/pkg/systemd"
)

func main() {
	var (
		cfgPath     string
		fixturePath string
		tracePath   string
		serve       bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&fixturePath, "fixture", "", "world fixture (yaml); empty world when unset")
	flag.StringVar(&tracePath, "trace", "", `JSONL trace to replay ("-" for stdin)`)
	flag.BoolVar(&serve, "serve", false, "keep running after the trace until interrupted")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	world := sim.NewWorld()
	if fixturePath != "" {
		w, err := sim.LoadFixture(fixturePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		world = w
	}

	a, err := app.New(app.Options{ConfigPath: cfgPath, World: world})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	var outMu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	a.Recorder().OnDeliver(func(d sim.Delivery) {
		outMu.Lock()
		_ = enc.Encode(d)
		outMu.Unlock()
	})

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	log := a.Logger()
	if _, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	}
	go func() {
		if err := systemd.Watchdog(ctx); err != nil {
			log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	}()

	reason := app.StopSIGTERM
	if tracePath != "" {
		if err := replayFile(ctx, a, tracePath); err != nil {
			log.Error("trace replay failed", logx.Err(err))
			reason = app.StopFatalError
		} else if !serve {
			reason = app.StopTraceDone
		}
	}
	if tracePath == "" || serve {
		select {
		case <-ctx.Done():
		case <-a.Done():
			if a.Err() != nil {
				reason = app.StopFatalError
			}
		}
	}

	snap := a.TaskSnapshot()
	log.Info("task engine totals",
		logx.Uint64("executed", snap.Executed),
		logx.Uint64("failed", snap.Failed),
		logx.Uint64("dropped", snap.Dropped),
		logx.Int("posted", snap.Posted),
	)
	_, _ = systemd.Status(fmt.Sprintf("stopping (%s)", reason))
	_, _ = systemd.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}

func replayFile(ctx context.Context, a *app.App, path string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	steps, err := sim.ReadTrace(r)
	if err != nil {
		return err
	}
	if err := replay(ctx, a, steps); err != nil {
		return err
	}
	// Flushes still queued at the end of the trace are delivered before exit.
	return a.Drain(ctx)
}

func replay(ctx context.Context, a *app.App, steps []sim.Step) error {
	s := a.Sink()
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch st.Op {
		case sim.OpMove:
			s.OnItemMoved(sink.ContainerChanged{
				Source: st.Source.Form(),
				Dest:   st.Dest.Form(),
				Item:   st.Item.Form(),
				Count:  st.Count,
			})
		case sim.OpHit:
			ev, err := st.HitEvent()
			if err != nil {
				return fmt.Errorf("line %d: %w", st.Line, err)
			}
			s.OnHit(ev)
		case sim.OpSave:
			if _, err := a.Save(ctx, st.Slot); err != nil {
				return fmt.Errorf("line %d: %w", st.Line, err)
			}
		case sim.OpLoad:
			if _, err := a.Load(ctx, st.Slot); err != nil {
				return fmt.Errorf("line %d: %w", st.Line, err)
			}
		case sim.OpRevert:
			a.Revert(ctx)
		case sim.OpWait:
			if err := a.Drain(ctx); err != nil {
				return fmt.Errorf("line %d: %w", st.Line, err)
			}
		}
	}
	return nil
}
