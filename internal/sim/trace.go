package sim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"paperevents/internal/host"
)

// Step ops understood by a trace.
const (
	OpMove   = "move"
	OpHit    = "hit"
	OpSave   = "save"
	OpLoad   = "load"
	OpRevert = "revert"
	OpWait   = "wait"
)

// Step is one line of a JSONL trace. Fields not used by Op are ignored.
type Step struct {
	Op string `json:"op"`

	// move
	Source ID    `json:"source,omitempty"`
	Dest   ID    `json:"dest,omitempty"`
	Item   ID    `json:"item,omitempty"`
	Count  int32 `json:"count,omitempty"`

	// hit (Source is the weapon or spell)
	Target     ID       `json:"target,omitempty"`
	Cause      ID       `json:"cause,omitempty"`
	Projectile ID       `json:"projectile,omitempty"`
	Flags      []string `json:"flags,omitempty"`
	Tick       uint64   `json:"tick,omitempty"`

	// save, load
	Slot string `json:"slot,omitempty"`

	Line int `json:"-"`
}

var hitFlagNames = map[string]host.HitFlags{
	"power":   host.HitPowerAttack,
	"sneak":   host.HitSneakAttack,
	"bash":    host.HitBashAttack,
	"blocked": host.HitBlocked,
}

// HitEvent converts a hit step.
func (s Step) HitEvent() (host.HitEvent, error) {
	ev := host.HitEvent{
		Target:     s.Target.Form(),
		Cause:      s.Cause.Form(),
		Source:     s.Source.Form(),
		Projectile: s.Projectile.Form(),
		Tick:       s.Tick,
	}
	for _, f := range s.Flags {
		flag, ok := hitFlagNames[strings.ToLower(strings.TrimSpace(f))]
		if !ok {
			return host.HitEvent{}, fmt.Errorf("unknown hit flag %q", f)
		}
		ev.Flags |= flag
	}
	return ev, nil
}

// ReadTrace parses a JSONL trace. Blank lines and lines starting with # are skipped.
func ReadTrace(r io.Reader) ([]Step, error) {
	var steps []Step
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var st Step
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		st.Op = strings.ToLower(strings.TrimSpace(st.Op))
		switch st.Op {
		case OpMove, OpSave, OpLoad, OpRevert, OpWait:
		case OpHit:
			if _, err := st.HitEvent(); err != nil {
				return nil, fmt.Errorf("trace line %d: %w", line, err)
			}
		default:
			return nil, fmt.Errorf("trace line %d: unknown op %q", line, st.Op)
		}
		st.Line = line
		steps = append(steps, st)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}
