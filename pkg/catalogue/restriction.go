package catalogue

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mmspellbook/spellbook/pkg/types"
)

// RestrictionKind selects how a Restriction matches an operand.
type RestrictionKind byte

const (
	Any   RestrictionKind = iota + 1 // matches every operand
	Exact                            // number equal to Lo
	Range                            // number in [Lo, Hi]
	Is                               // boolean equal to Bool
)

func (k RestrictionKind) String() string {
	switch k {
	case Any:
		return "any"
	case Exact:
		return "exact"
	case Range:
		return "range"
	case Is:
		return "bool"
	default:
		return fmt.Sprintf("restriction(%d)", byte(k))
	}
}

// Restriction constrains one operand.
type Restriction struct {
	Kind   RestrictionKind
	Lo, Hi float64
	Bool   bool
}

// AnyValue matches every operand.
func AnyValue() Restriction { return Restriction{Kind: Any} }

// ExactValue matches the number v.
func ExactValue(v float64) Restriction { return Restriction{Kind: Exact, Lo: v, Hi: v} }

// Between matches numbers in [lo, hi].
func Between(lo, hi float64) Restriction { return Restriction{Kind: Range, Lo: lo, Hi: hi} }

// IsBool matches the boolean b.
func IsBool(b bool) Restriction { return Restriction{Kind: Is, Bool: b} }

// Accepts reports whether v satisfies the restriction.
func (r Restriction) Accepts(v types.Value) bool {
	switch r.Kind {
	case Any:
		return true
	case Exact:
		n, ok := v.(types.Number)
		return ok && float64(n) == r.Lo
	case Range:
		n, ok := v.(types.Number)
		return ok && float64(n) >= r.Lo && float64(n) <= r.Hi
	case Is:
		b, ok := v.(types.Boolean)
		return ok && bool(b) == r.Bool
	}
	return false
}

// fits reports whether the restriction can ever match operands of kind k.
func (r Restriction) fits(k types.Kind) bool {
	switch r.Kind {
	case Any:
		return true
	case Exact, Range:
		return k == types.KindNumber
	case Is:
		return k == types.KindBool
	}
	return false
}

func (r Restriction) validate() error {
	switch r.Kind {
	case Any, Is:
		return nil
	case Exact:
		if !finite(r.Lo) {
			return fmt.Errorf("exact value must be finite")
		}
		return nil
	case Range:
		if !finite(r.Lo) || !finite(r.Hi) {
			return fmt.Errorf("range bounds must be finite")
		}
		if r.Lo > r.Hi {
			return fmt.Errorf("range %s has lo > hi", r)
		}
		return nil
	}
	return fmt.Errorf("invalid restriction kind %d", r.Kind)
}

func (r Restriction) String() string {
	switch r.Kind {
	case Any:
		return "*"
	case Exact:
		return formatNum(r.Lo)
	case Range:
		return formatNum(r.Lo) + ".." + formatNum(r.Hi)
	case Is:
		return strconv.FormatBool(r.Bool)
	}
	return "?"
}

// ParseRestriction parses the text form of a restriction: "*", "true",
// "false", a number such as "3.5", or an inclusive range "0-1" / "0..1".
func ParseRestriction(s string) (Restriction, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return Restriction{}, fmt.Errorf("empty restriction")
	case "*", "any":
		return AnyValue(), nil
	case "true", "false":
		return IsBool(s == "true"), nil
	}

	lo, hi, isRange := splitRange(s)
	if !isRange {
		v, err := parseNum(s)
		if err != nil {
			return Restriction{}, err
		}
		return ExactValue(v), nil
	}
	l, err := parseNum(lo)
	if err != nil {
		return Restriction{}, err
	}
	h, err := parseNum(hi)
	if err != nil {
		return Restriction{}, err
	}
	r := Between(l, h)
	if err := r.validate(); err != nil {
		return Restriction{}, err
	}
	return r, nil
}

// ParseSet parses alternatives separated by "|", e.g. "0..1|5".
func ParseSet(s string) ([]Restriction, error) {
	parts := strings.Split(s, "|")
	set := make([]Restriction, 0, len(parts))
	for _, p := range parts {
		r, err := ParseRestriction(p)
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}
	return set, nil
}

// FormatSet is the inverse of ParseSet.
func FormatSet(set []Restriction) string {
	parts := make([]string, len(set))
	for i, r := range set {
		parts[i] = r.String()
	}
	return strings.Join(parts, "|")
}

// splitRange splits "lo..hi" or "lo-hi". A leading minus and the minus of
// an exponent are part of the number.
func splitRange(s string) (string, string, bool) {
	if lo, hi, ok := strings.Cut(s, ".."); ok {
		return lo, hi, true
	}
	for i := 1; i < len(s); i++ {
		if s[i] != '-' {
			continue
		}
		prev := s[i-1]
		if prev == 'e' || prev == 'E' {
			continue
		}
		if (prev >= '0' && prev <= '9') || prev == '.' || prev == ' ' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func parseNum(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", strings.TrimSpace(s))
	}
	if !finite(v) {
		return 0, fmt.Errorf("number %q must be finite", s)
	}
	return v, nil
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
