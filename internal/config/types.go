package config

// Config is the daemon configuration, read from YAML or JSON.
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Dedup      DedupConfig       `json:"dedup"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	Cosave     CosaveConfig      `json:"cosave"`
	Tap        TapConfig         `json:"tap"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// SamplePerSec bounds warn/error lines per second. 0 disables sampling.
	SamplePerSec int `json:"sample_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TaskEngineConfig controls the deferred-task engine that runs batch flushes.
//
// Defaults (when fields are omitted/zero):
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - history_size: 100
//
// The engine always runs a single worker so flushes execute in submission order.
type TaskEngineConfig struct {
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// DedupConfig bounds the per-tick hit window.
type DedupConfig struct {
	MaxEntries int `json:"max_entries,omitempty"` // default 256
}

// StorageConfig controls where cosave slots are kept.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/paper" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// CosaveConfig controls how pending batches are saved.
type CosaveConfig struct {
	// Slot is the slot name used by save/load when none is given. Default "quicksave".
	Slot     string `json:"slot,omitempty"`
	Compress bool   `json:"compress"`
	// Autosave is a cron spec ("@every 5m", "*/10 * * * *"). Empty disables it.
	Autosave string `json:"autosave,omitempty"`
}

// TapConfig controls the websocket event stream.
//
// Prefer binding to localhost; the stream carries every delivery.
type TapConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:7070"

	// Pprof mounts /debug/pprof/ on the tap listener.
	Pprof bool `json:"pprof,omitempty"`
}
