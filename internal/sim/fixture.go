package sim

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"paperevents/internal/host"
)

// Fixture describes a world in YAML:
//
//	containers:
//	  - { id: 0x14, handle: 100, filters: { items: [0xA1], lists: [0x900] } }
//	actors:
//	  - { id: 0x7, handle: 7, effects: [71, 72] }
//	forms:
//	  - { id: 0xA2, type: weapon }
//	  - { id: 0xB1, type: spell, spell: { casting: fire_and_forget, delivery: aimed, hostile: 1 } }
//	lists:
//	  - { id: 0x900, items: [0xA2] }
//	remap:
//	  map: { 0x14: 0x01000014 }
//	  missing: [0x99]
type Fixture struct {
	Containers []ObjectSpec `yaml:"containers"`
	Actors     []ObjectSpec `yaml:"actors"`
	Forms      []FormSpec   `yaml:"forms"`
	Lists      []ListSpec   `yaml:"lists"`
	Remap      RemapSpec    `yaml:"remap"`
}

type ObjectSpec struct {
	ID      ID          `yaml:"id"`
	Handle  uint64      `yaml:"handle"`
	Effects []uint64    `yaml:"effects"`
	Filters *FilterSpec `yaml:"filters"`
}

type FilterSpec struct {
	Items []ID `yaml:"items"`
	Lists []ID `yaml:"lists"`
}

type FormSpec struct {
	ID    ID         `yaml:"id"`
	Type  string     `yaml:"type"`
	Spell *SpellSpec `yaml:"spell"`
}

type SpellSpec struct {
	Casting  string `yaml:"casting"`
	Delivery string `yaml:"delivery"`
	Hostile  int    `yaml:"hostile"`
}

type ListSpec struct {
	ID    ID   `yaml:"id"`
	Items []ID `yaml:"items"`
}

type RemapSpec struct {
	Map     map[string]ID `yaml:"map"`
	Missing []ID          `yaml:"missing"`
}

// LoadFixture reads a YAML world description from path.
func LoadFixture(path string) (*World, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	w, err := ParseFixture(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

func ParseFixture(data []byte) (*World, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return fx.Build()
}

// Build returns a World populated from the fixture.
func (fx Fixture) Build() (*World, error) {
	w := NewWorld()
	for _, c := range fx.Containers {
		if c.ID == 0 {
			return nil, fmt.Errorf("container without id")
		}
		w.AddContainer(c.ID.Form(), host.Handle(c.Handle))
		w.setObject(c)
	}
	for _, a := range fx.Actors {
		if a.ID == 0 {
			return nil, fmt.Errorf("actor without id")
		}
		w.AddActor(a.ID.Form(), host.Handle(a.Handle))
		w.setObject(a)
	}
	for _, f := range fx.Forms {
		form := host.Form{ID: f.ID.Form(), Type: host.ParseFormType(f.Type)}
		if form.Type == host.FormNone {
			return nil, fmt.Errorf("form %s: unknown type %q", form.ID, f.Type)
		}
		if f.Spell != nil {
			sd, err := f.Spell.data()
			if err != nil {
				return nil, fmt.Errorf("form %s: %w", form.ID, err)
			}
			form.Spell = sd
		}
		w.AddForm(form)
	}
	for _, l := range fx.Lists {
		w.AddList(l.ID.Form(), toForms(l.Items)...)
	}
	for k, v := range fx.Remap.Map {
		old, err := parseID(k)
		if err != nil {
			return nil, fmt.Errorf("remap: %w", err)
		}
		w.SetRemap(old.Form(), v.Form())
	}
	for _, id := range fx.Remap.Missing {
		w.MarkMissing(id.Form())
	}
	return w, nil
}

func (w *World) setObject(o ObjectSpec) {
	for _, e := range o.Effects {
		w.AddEffect(o.ID.Form(), host.Handle(e))
	}
	if o.Filters != nil && o.Handle != 0 {
		w.SetFilters(host.Handle(o.Handle), &host.Filters{Items: toForms(o.Filters.Items), Lists: toForms(o.Filters.Lists)})
	}
}

var castingNames = map[string]host.CastingType{
	"constant_effect": host.CastConstantEffect,
	"fire_and_forget": host.CastFireAndForget,
	"concentration":   host.CastConcentration,
	"scroll":          host.CastScroll,
}

var deliveryNames = map[string]host.Delivery{
	"self":            host.DeliverySelf,
	"touch":           host.DeliveryTouch,
	"aimed":           host.DeliveryAimed,
	"target_actor":    host.DeliveryTargetActor,
	"target_location": host.DeliveryTargetLocation,
}

func (s SpellSpec) data() (*host.SpellData, error) {
	c, ok := castingNames[s.Casting]
	if !ok {
		return nil, fmt.Errorf("unknown casting type %q", s.Casting)
	}
	d, ok := deliveryNames[s.Delivery]
	if !ok {
		return nil, fmt.Errorf("unknown delivery %q", s.Delivery)
	}
	return &host.SpellData{Casting: c, Delivery: d, HostileCount: s.Hostile}, nil
}
