package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"paperevents/internal/config"
	"paperevents/internal/storage"
	"paperevents/internal/task/engine"
	logx "paperevents/pkg/logx"
)

const defaultBusyTimeout = time.Second

func mapLoggingConfig(cfg *config.Config, out io.Writer) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		SamplePerSec: cfg.Logging.SamplePerSec,
		Out:          out,
	}
}

// mapTaskEngineConfig always yields an enabled single-worker engine: flushes
// must run one at a time in the order they were scheduled.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true, Workers: 1, QueueSize: 64, HistorySize: 100}
	if cfg == nil || cfg.TaskEngine == nil {
		return out, nil
	}
	te := cfg.TaskEngine
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	d, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	return out, nil
}

// mapStorageConfig reports enabled=false for a missing section or driver "none".
func mapStorageConfig(cfg *config.Config) (sc storage.Config, enabled bool, err error) {
	if cfg == nil || cfg.Storage == nil {
		return sc, false, nil
	}
	sc.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	sc.Path = strings.TrimSpace(cfg.Storage.Path)
	switch sc.Driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
	case "sqlite", "sqlite3":
		sc.Driver = "sqlite"
		if sc.BusyTimeout, err = config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultBusyTimeout); err != nil {
			return storage.Config{}, false, err
		}
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	if sc.Path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", sc.Driver)
	}
	return sc, true, nil
}
