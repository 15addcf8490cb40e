package opcode

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/mmspellbook/spellbook/pkg/types"
)

// OpKind distinguishes effectful actions from side-effect-free queries.
type OpKind byte

const (
	Action OpKind = iota + 1
	Query
)

func (k OpKind) String() string {
	switch k {
	case Action:
		return "action"
	case Query:
		return "query"
	default:
		return fmt.Sprintf("opkind(%d)", byte(k))
	}
}

// ParseOpKind maps the configuration spelling of an operation kind.
func ParseOpKind(s string) (OpKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "action":
		return Action, nil
	case "query", "logic":
		return Query, nil
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// Spec describes one operation: its code, signature and base energy cost.
type Spec struct {
	Name    string
	Code    byte
	Kind    OpKind
	Params  []types.Kind
	Returns types.Kind // queries only
	Cost    float64
}

// Signature renders the spec as name(kind, ...) for error messages.
func (s *Spec) Signature() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	sig := s.Name + "(" + strings.Join(parts, ", ") + ")"
	if s.Kind == Query {
		sig += " -> " + s.Returns.String()
	}
	return sig
}

// Arity returns the number of operands the operation takes.
func (s *Spec) Arity() int { return len(s.Params) }

// Table resolves operation names and codes. It is immutable once built.
type Table struct {
	specs  []*Spec
	byName map[string]*Spec
	byCode [256]*Spec
	digest uint64
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var reserved = map[string]bool{
	"if": true, "and": true, "or": true, "xor": true, "not": true,
	"true": true, "false": true, "repeat": true, "on_creation": true, "when_created": true,
}

// NewTable validates specs and builds a table.
func NewTable(specs []Spec) (*Table, error) {
	t := &Table{byName: make(map[string]*Spec, len(specs))}
	for i := range specs {
		s := specs[i]
		s.Params = append([]types.Kind(nil), s.Params...)
		if s.Kind == 0 {
			s.Kind = Action
		}
		if !identRe.MatchString(s.Name) || reserved[s.Name] {
			return nil, fmt.Errorf("operation %d: invalid name %q", i, s.Name)
		}
		if _, dup := t.byName[s.Name]; dup {
			return nil, fmt.Errorf("operation %s: duplicate name", s.Name)
		}
		if prev := t.byCode[s.Code]; prev != nil {
			return nil, fmt.Errorf("operation %s: code 0x%02X already used by %s", s.Name, s.Code, prev.Name)
		}
		if math.IsNaN(s.Cost) || math.IsInf(s.Cost, 0) || s.Cost < 0 {
			return nil, fmt.Errorf("operation %s: cost must be a non-negative number", s.Name)
		}
		for j, p := range s.Params {
			if p != types.KindNumber && p != types.KindBool {
				return nil, fmt.Errorf("operation %s: parameter %d has invalid kind", s.Name, j+1)
			}
		}
		switch s.Kind {
		case Action:
			if !IsAction(s.Code) {
				return nil, fmt.Errorf("operation %s: action code 0x%02X outside 0x%02X-0x%02X", s.Name, s.Code, ActionMin, ActionMax)
			}
			s.Returns = 0
		case Query:
			if !IsQuery(s.Code) {
				return nil, fmt.Errorf("operation %s: query code 0x%02X outside 0x%02X-0x%02X", s.Name, s.Code, QueryMin, QueryMax)
			}
			if len(s.Params) != 0 {
				return nil, fmt.Errorf("operation %s: queries take no parameters", s.Name)
			}
			if s.Returns != types.KindNumber && s.Returns != types.KindBool {
				return nil, fmt.Errorf("operation %s: query needs a return kind", s.Name)
			}
		default:
			return nil, fmt.Errorf("operation %s: invalid kind", s.Name)
		}
		sp := &s
		t.specs = append(t.specs, sp)
		t.byName[sp.Name] = sp
		t.byCode[sp.Code] = sp
	}
	sort.Slice(t.specs, func(i, j int) bool { return t.specs[i].Code < t.specs[j].Code })
	t.digest = xxh3.HashString(t.canonical())
	return t, nil
}

// MustTable is NewTable that panics on invalid specs.
func MustTable(specs []Spec) *Table {
	t, err := NewTable(specs)
	if err != nil {
		panic(fmt.Sprintf("opcode: %v", err))
	}
	return t
}

func (t *Table) canonical() string {
	var sb strings.Builder
	for _, s := range t.specs {
		params := make([]string, len(s.Params))
		for i, p := range s.Params {
			params[i] = p.String()
		}
		ret := ""
		if s.Kind == Query {
			ret = s.Returns.String()
		}
		fmt.Fprintf(&sb, "%02x|%s|%s|%s|%s|%s\n",
			s.Code, s.Name, s.Kind, strings.Join(params, ","), ret,
			strconv.FormatFloat(s.Cost, 'g', -1, 64))
	}
	return sb.String()
}

// Lookup resolves an operation by name.
func (t *Table) Lookup(name string) (*Spec, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// ByCode resolves an operation by opcode.
func (t *Table) ByCode(code byte) (*Spec, bool) {
	s := t.byCode[code]
	return s, s != nil
}

// Specs returns the operations ordered by code.
func (t *Table) Specs() []*Spec {
	return t.specs
}

// Digest identifies the table contents, cost included. Bytecode compiled
// against one table is only valid for a table with the same digest.
func (t *Table) Digest() uint64 {
	return t.digest
}

// DefaultSpecs is the built-in component set.
func DefaultSpecs() []Spec {
	n := types.KindNumber
	return []Spec{
		// utility components
		{Name: "give_velocity", Code: 0x00, Params: []types.Kind{n, n, n}, Cost: 5},
		{Name: "take_form", Code: 0x01, Params: []types.Kind{n}, Cost: 20},
		{Name: "undo_form", Code: 0x02, Cost: 2},
		{Name: "recharge_to", Code: 0x03, Params: []types.Kind{n}, Cost: 10},
		{Name: "anchor", Code: 0x04, Cost: 8},
		{Name: "undo_anchor", Code: 0x05, Cost: 2},
		{Name: "perish", Code: 0x06, Cost: 1},
		{Name: "take_shape", Code: 0x07, Params: []types.Kind{n}, Cost: 15},
		{Name: "undo_shape", Code: 0x08, Cost: 2},

		// power components
		{Name: "set_damage", Code: 0x20, Params: []types.Kind{n}, Cost: 12},

		// logic components
		{Name: "moving", Code: 0x40, Kind: Query, Returns: types.KindBool},
		{Name: "get_time", Code: 0x41, Kind: Query, Returns: types.KindNumber},
	}
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the table built from DefaultSpecs.
func Default() *Table {
	defaultOnce.Do(func() {
		defaultTable = MustTable(DefaultSpecs())
	})
	return defaultTable
}
