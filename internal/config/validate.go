package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSlot    = "quicksave"
	DefaultTapAddr = "127.0.0.1:7070"
)

// Validate checks the fields that would otherwise fail late (durations, cron
// specs, drivers, listen addresses).
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if c.Logging.SamplePerSec < 0 {
		errs = append(errs, errors.New("logging.sample_per_sec must be >= 0"))
	}
	if te := c.TaskEngine; te != nil {
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			errs = append(errs, err)
		}
		if te.QueueSize < 0 || te.HistorySize < 0 {
			errs = append(errs, errors.New("task_engine sizes must be >= 0"))
		}
	}
	if c.Dedup.MaxEntries < 0 {
		errs = append(errs, errors.New("dedup.max_entries must be >= 0"))
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=%s", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if spec := strings.TrimSpace(c.Cosave.Autosave); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("cosave.autosave: %w", err))
		}
	}
	if c.Tap.Enabled {
		if _, _, err := net.SplitHostPort(c.TapAddr()); err != nil {
			errs = append(errs, fmt.Errorf("tap.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SlotName returns cosave.slot or its default.
func (c *Config) SlotName() string {
	if s := strings.TrimSpace(c.Cosave.Slot); s != "" {
		return s
	}
	return DefaultSlot
}

// TapAddr returns tap.addr or its default.
func (c *Config) TapAddr() string {
	if a := strings.TrimSpace(c.Tap.Addr); a != "" {
		return a
	}
	return DefaultTapAddr
}

// ParseDurationField parses a Go duration at path. Empty means 0; negative
// values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return ParseDurationOrDefault(path, raw, 0)
}

// ParseDurationOrDefault is ParseDurationField with def substituted for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
