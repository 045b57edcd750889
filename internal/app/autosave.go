package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paperevents/internal/config"
	logx "paperevents/pkg/logx"
)

// applyAutosave (re)registers the cron entry for cosave.autosave.
func (a *App) applyAutosave(cfg *config.Config) error {
	if a.cron == nil {
		return nil
	}
	spec := strings.TrimSpace(cfg.Cosave.Autosave)

	a.autosaveMu.Lock()
	defer a.autosaveMu.Unlock()
	if spec == a.autosaveSpec {
		return nil
	}
	if a.autosaveID != 0 {
		a.cron.Remove(a.autosaveID)
		a.autosaveID = 0
	}
	a.autosaveSpec = spec
	if spec == "" {
		a.log.Info("autosave disabled")
		return nil
	}
	id, err := a.cron.AddFunc(spec, a.autosave)
	if err != nil {
		a.autosaveSpec = ""
		return fmt.Errorf("cosave.autosave: %w", err)
	}
	a.autosaveID = id
	a.log.Info("autosave scheduled", logx.String("spec", spec))
	return nil
}

func (a *App) autosave() {
	ctx := context.Background()
	if a.sup != nil {
		ctx = a.sup.Context()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := a.Save(ctx, ""); err != nil {
		a.log.Warn("autosave failed", logx.Err(err))
	}
}

// cronLogger routes cron's own messages through logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
