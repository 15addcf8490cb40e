// Package config handles spellbook.toml configuration: the operation table
// shared by compiler and VM, the efficiency progression policy, and the
// forms a take_form call may summon.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// FileName is the conventional configuration file name.
const FileName = "spellbook.toml"

// Config represents a spellbook.toml file.
type Config struct {
	Operations []Operation     `toml:"operations"`
	Efficiency Efficiency      `toml:"efficiency"`
	Forms      map[string]Form `toml:"forms"`

	// Path is the file the config was loaded from (set at load time).
	Path string `toml:"-"`
}

// Operation is one entry of the operation table.
type Operation struct {
	Name    string   `toml:"name"`
	Code    int      `toml:"code"`
	Kind    string   `toml:"kind"`
	Params  []string `toml:"params"`
	Returns string   `toml:"returns"`
	Cost    float64  `toml:"cost"`
}

// Efficiency configures progression.
type Efficiency struct {
	Policy string   `toml:"policy"`
	Step   *float64 `toml:"step"`
}

// Form is a summonable shape, keyed by its numeric id.
type Form struct {
	Path           string  `toml:"path"`
	EnergyRequired float64 `toml:"energy_required"`
}

// Load parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes TOML configuration and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if _, err := cfg.Table(); err != nil {
		return nil, err
	}
	if _, err := cfg.Policy(); err != nil {
		return nil, err
	}
	for key, f := range cfg.Forms {
		if _, err := strconv.ParseUint(key, 10, 64); err != nil {
			return nil, fmt.Errorf("form key %q is not a number", key)
		}
		if f.EnergyRequired < 0 {
			return nil, fmt.Errorf("form %s: energy_required must not be negative", key)
		}
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{}
}

// Table builds the operation table. An empty operation list selects the
// built-in table.
func (c *Config) Table() (*opcode.Table, error) {
	if len(c.Operations) == 0 {
		return opcode.Default(), nil
	}
	specs := make([]opcode.Spec, 0, len(c.Operations))
	for _, op := range c.Operations {
		if op.Code < 0 || op.Code > 0xFF {
			return nil, fmt.Errorf("operation %s: code %d out of range", op.Name, op.Code)
		}
		kind, err := opcode.ParseOpKind(op.Kind)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.Name, err)
		}
		spec := opcode.Spec{Name: op.Name, Code: byte(op.Code), Kind: kind, Cost: op.Cost}
		for _, p := range op.Params {
			k, err := types.ParseKind(p)
			if err != nil {
				return nil, fmt.Errorf("operation %s: %w", op.Name, err)
			}
			spec.Params = append(spec.Params, k)
		}
		if op.Returns != "" {
			if spec.Returns, err = types.ParseKind(op.Returns); err != nil {
				return nil, fmt.Errorf("operation %s: returns: %w", op.Name, err)
			}
		}
		specs = append(specs, spec)
	}
	return opcode.NewTable(specs)
}

// Policy builds the efficiency progression policy.
func (c *Config) Policy() (efficiency.Policy, error) {
	if c.Efficiency.Policy == "" && c.Efficiency.Step == nil {
		return efficiency.DefaultPolicy, nil
	}
	step := 0.01
	if c.Efficiency.Step != nil {
		step = *c.Efficiency.Step
	}
	return efficiency.NewPolicy(c.Efficiency.Policy, step)
}

// Form returns the form registered under id.
func (c *Config) Form(id float64) (Form, bool) {
	if id < 0 || id != float64(uint64(id)) {
		return Form{}, false
	}
	f, ok := c.Forms[strconv.FormatUint(uint64(id), 10)]
	return f, ok
}

// FormIDs returns the configured form ids in ascending order.
func (c *Config) FormIDs() []uint64 {
	ids := make([]uint64, 0, len(c.Forms))
	for key := range c.Forms {
		if id, err := strconv.ParseUint(key, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
