package sim

import (
	"fmt"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"paperevents/internal/host"
)

// ID is a form id as written in fixtures and traces: a number or a string in
// any base strconv understands ("0x14", "20").
type ID host.FormID

func (id ID) Form() host.FormID { return host.FormID(id) }

func parseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("form id %q: %w", s, err)
	}
	return ID(v), nil
}

func (id *ID) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: form id must be a scalar", n.Line)
	}
	v, err := parseID(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*id = v
	return nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	v, err := parseID(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(host.FormID(id).String())), nil
}

func toForms(ids []ID) []host.FormID {
	if ids == nil {
		return nil
	}
	out := make([]host.FormID, len(ids))
	for i, id := range ids {
		out[i] = host.FormID(id)
	}
	return out
}
