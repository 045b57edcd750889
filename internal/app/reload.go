package app

import (
	"context"
	"strings"

	"paperevents/internal/config"
	logx "paperevents/pkg/logx"
	"paperevents/pkg/systemd"
)

// reloadLoop applies hot-reloaded configs. Storage and tap changes need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if _, err := systemd.Reloading(); err != nil {
		a.log.Debug("sd_notify reloading failed", logx.Err(err))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg, a.logOut))
		case "dedup":
			a.hits.SetMaxEntries(newCfg.Dedup.MaxEntries)
		case "task_engine":
			if ec, err := mapTaskEngineConfig(newCfg); err != nil {
				a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
			} else {
				a.engine.Apply(ec)
			}
		case "cosave":
			if err := a.applyAutosave(newCfg); err != nil {
				a.log.Warn("autosave not rescheduled", logx.Err(err))
			}
		case "storage", "tap":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	changed := strings.Join(sections, ",")
	fields := append([]logx.Field{logx.String("changed", changed)}, attrs...)
	a.log.Info("config reloaded", fields...)

	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status("config reloaded: " + changed)
}
