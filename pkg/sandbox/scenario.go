package sandbox

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mmspellbook/spellbook/pkg/catalogue"
	"github.com/mmspellbook/spellbook/pkg/compiler"
	"github.com/mmspellbook/spellbook/pkg/config"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
)

// Scenario describes a sandbox run.
type Scenario struct {
	Seed      int64          `yaml:"seed"`
	Ticks     int            `yaml:"ticks"`
	DT        float64        `yaml:"dt"`
	HitRadius float64        `yaml:"hit_radius"`
	Config    string         `yaml:"config"` // spellbook.toml, optional
	Casters   []CasterConfig `yaml:"casters"`

	dir string
}

// CasterConfig sets up one caster.
type CasterConfig struct {
	Name       string             `yaml:"name"`
	Position   Vec                `yaml:"position"`
	Health     float64            `yaml:"health"`
	Shield     float64            `yaml:"shield"`
	FocusLevel float64            `yaml:"focus_level"`
	MaxControl float64            `yaml:"max_control"`
	MaxPower   float64            `yaml:"max_power"`
	Catalogue  string             `yaml:"catalogue"` // JSON document, optional
	Efficiency map[string]float64 `yaml:"efficiency"`
	Casts      []CastConfig       `yaml:"casts"`
}

// CastConfig schedules one release of a spell file.
type CastConfig struct {
	Spell string `yaml:"spell"`
	Start int    `yaml:"start"`
	Hold  int    `yaml:"hold"`
}

// LoadScenario reads a scenario file. Relative paths inside it resolve
// against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := ParseScenario(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.dir = filepath.Dir(path)
	return sc, nil
}

// ParseScenario decodes a scenario and fills in defaults.
func ParseScenario(raw []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if sc.DT == 0 {
		sc.DT = 0.1
	}
	if sc.HitRadius == 0 {
		sc.HitRadius = 1
	}
	if sc.Ticks < 0 || sc.DT < 0 {
		return nil, fmt.Errorf("scenario: ticks and dt must not be negative")
	}
	seen := map[string]bool{}
	for i, c := range sc.Casters {
		if c.Name == "" {
			return nil, fmt.Errorf("scenario: caster %d has no name", i+1)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("scenario: duplicate caster %q", c.Name)
		}
		seen[c.Name] = true
		for _, cast := range c.Casts {
			if cast.Spell == "" || cast.Start < 0 || cast.Hold < 0 {
				return nil, fmt.Errorf("scenario: caster %q has an invalid cast", c.Name)
			}
		}
	}
	return &sc, nil
}

// Build creates the world the scenario describes, compiling every spell
// it names.
func (sc *Scenario) Build() (*World, error) {
	cfg := config.Default()
	if sc.Config != "" {
		var err error
		if cfg, err = config.Load(sc.path(sc.Config)); err != nil {
			return nil, err
		}
	}
	table, err := cfg.Table()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	w := NewWorld(rand.New(rand.NewSource(sc.Seed)))
	w.DT = sc.DT
	w.HitRadius = sc.HitRadius
	w.Table = table
	w.Policy = policy
	w.Forms = cfg

	comp := compiler.New(table)
	compiled := map[string][]byte{}
	for _, cc := range sc.Casters {
		c := NewCaster(cc.Name)
		c.Pos = cc.Position
		c.Shield = cc.Shield
		c.FocusLevel = cc.FocusLevel
		setIf(&c.Health, cc.Health)
		setIf(&c.MaxControl, cc.MaxControl)
		setIf(&c.MaxPower, cc.MaxPower)
		c.Efficiency = efficiency.Table(cc.Efficiency).Clone()

		if cc.Catalogue != "" {
			raw, err := os.ReadFile(sc.path(cc.Catalogue))
			if err != nil {
				return nil, err
			}
			if c.Catalogue, err = catalogue.DecodeJSON(raw, table); err != nil {
				return nil, fmt.Errorf("%s: %w", cc.Catalogue, err)
			}
		}

		for _, cast := range cc.Casts {
			code, ok := compiled[cast.Spell]
			if !ok {
				src, err := os.ReadFile(sc.path(cast.Spell))
				if err != nil {
					return nil, err
				}
				_, code, err = comp.Build(string(src))
				if err != nil {
					return nil, fmt.Errorf("%s: %w", cast.Spell, err)
				}
				compiled[cast.Spell] = code
			}
			c.Plan = append(c.Plan, Cast{Label: cast.Spell, Code: code, Start: cast.Start, Hold: cast.Hold})
		}
		if err := w.AddCaster(c); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (sc *Scenario) path(p string) string {
	if filepath.IsAbs(p) || sc.dir == "" {
		return p
	}
	return filepath.Join(sc.dir, p)
}

func setIf(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}
