package catalogue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmspellbook/spellbook/pkg/compiler"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/parser"
	"github.com/mmspellbook/spellbook/pkg/types"
)

func compile(t *testing.T, src string) []byte {
	t.Helper()
	res := compiler.Compile(src)
	require.True(t, res.Successful, res.ErrorMessage)
	return res.Bytecode
}

func TestRangeRestrictionDenies(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Grant("give_velocity",
		[]Restriction{Between(0, 1)},
		[]Restriction{AnyValue()},
		[]Restriction{AnyValue()},
	))

	v := c.CheckAllowed(compile(t, "repeat:\ngive_velocity(2, 0, 0)\n"))
	assert.False(t, v.Allowed)
	assert.True(t, strings.HasPrefix(v.Reason, "give_velocity"), v.Reason)
	assert.Contains(t, v.Reason, "argument 1")

	v = c.CheckAllowed(compile(t, "repeat:\ngive_velocity(0.5, -100, 7)\n"))
	assert.True(t, v.Allowed, v.Reason)
	assert.Empty(t, v.Reason)

	// bounds are inclusive
	v = c.CheckAllowed(compile(t, "repeat:\ngive_velocity(1, 0, 0)\ngive_velocity(0, 0, 0)\n"))
	assert.True(t, v.Allowed, v.Reason)
}

func TestCheckCoversEveryCallSite(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Grant("anchor"))
	require.NoError(t, c.Grant("moving"))

	tests := []struct {
		name string
		src  string
		op   string
	}{
		{"ungranted call", "repeat:\nanchor()\nperish()\n", "perish"},
		{"inside false block", "repeat:\nif false {\nperish()\n}\n", "perish"},
		{"nested block", "repeat:\nif moving() {\nif true {\nundo_anchor()\n}\n}\n", "undo_anchor"},
		{"query in condition", "repeat:\nif get_time() > 3 {\nanchor()\n}\n", "get_time"},
		{"creation section", "on_creation:\ntake_form(1)\nrepeat:\nanchor()\n", "take_form"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.CheckAllowed(compile(t, tt.src))
			assert.False(t, v.Allowed)
			assert.True(t, strings.HasPrefix(v.Reason, tt.op+":"), "reason %q should name %s", v.Reason, tt.op)
		})
	}

	v := c.CheckAllowed(compile(t, "repeat:\nif moving() {\nanchor()\n}\n"))
	assert.True(t, v.Allowed, v.Reason)
}

func TestFirstFailureWins(t *testing.T) {
	c := New(nil)
	v := c.CheckAllowed(compile(t, "repeat:\nanchor()\nperish()\n"))
	assert.False(t, v.Allowed)
	assert.True(t, strings.HasPrefix(v.Reason, "anchor:"), v.Reason)
}

func TestVerifyError(t *testing.T) {
	prog, err := parser.Parse("repeat:\n\nperish()\n")
	require.NoError(t, err)

	err = New(nil).Verify(prog)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrPermissionDenied))
	assert.Contains(t, err.Error(), "line 3")
}

func TestAlternatives(t *testing.T) {
	c := New(nil)
	set, err := ParseSet("1|3..4")
	require.NoError(t, err)
	require.NoError(t, c.Grant("take_form", set))

	for _, tc := range []struct {
		arg     string
		allowed bool
	}{{"1", true}, {"3.5", true}, {"2", false}, {"4.01", false}} {
		v := c.CheckAllowed(compile(t, "repeat:\ntake_form("+tc.arg+")\n"))
		assert.Equal(t, tc.allowed, v.Allowed, "take_form(%s): %s", tc.arg, v.Reason)
	}
}

func TestGrantValidation(t *testing.T) {
	c := New(nil)

	err := c.Grant("fireball")
	assert.True(t, types.IsKind(err, types.ErrUnknownOperation), "%v", err)

	err = c.Grant("give_velocity", []Restriction{AnyValue()})
	assert.True(t, types.IsKind(err, types.ErrArity), "%v", err)

	err = c.Grant("take_form", []Restriction{})
	assert.Error(t, err, "empty set")

	err = c.Grant("take_form", []Restriction{IsBool(true)})
	assert.Error(t, err, "bool restriction on number parameter")

	err = c.Grant("take_form", []Restriction{Between(2, 1)})
	assert.Error(t, err, "inverted range")

	assert.Zero(t, c.Len(), "failed grants leave nothing behind")

	table := opcode.MustTable([]opcode.Spec{
		{Name: "blink", Code: 0x10, Params: []types.Kind{types.KindBool}, Cost: 1},
	})
	c = New(table)
	assert.NoError(t, c.Grant("blink", []Restriction{IsBool(false)}))
	assert.Error(t, c.Grant("blink", []Restriction{ExactValue(1)}))
}

func TestRegrantAndRevoke(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Grant("take_form", []Restriction{ExactValue(1)}))
	require.NoError(t, c.Grant("take_form"))

	e, ok := c.Lookup("take_form")
	require.True(t, ok)
	assert.True(t, e.Unrestricted(), "re-granting replaces the entry")

	assert.True(t, c.Revoke("take_form"))
	assert.False(t, c.Revoke("take_form"))
	assert.False(t, c.CheckAllowed(compile(t, "repeat:\ntake_form(1)\n")).Allowed)
}

func TestCheckAllowedUndecodable(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Grant("perish"))

	v := c.CheckAllowed([]byte("not a spell"))
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "DecodeError")

	code := compile(t, "repeat:\nperish()\n")
	v = c.CheckAllowed(code[:len(code)-1])
	assert.False(t, v.Allowed)
}

func TestParseRestriction(t *testing.T) {
	tests := []struct {
		in   string
		want Restriction
	}{
		{"*", AnyValue()},
		{"any", AnyValue()},
		{"true", IsBool(true)},
		{"false", IsBool(false)},
		{"3.5", ExactValue(3.5)},
		{"-2", ExactValue(-2)},
		{"1e-3", ExactValue(0.001)},
		{"0-1", Between(0, 1)},
		{"0..1", Between(0, 1)},
		{"-2--1", Between(-2, -1)},
		{"-1.5..2e1", Between(-1.5, 20)},
		{" 0 - 1 ", Between(0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRestriction(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "abc", "1..", "2..1", "inf", "1-x"} {
		_, err := ParseRestriction(bad)
		assert.Error(t, err, "ParseRestriction(%q)", bad)
	}
}

func TestRestrictionStringRoundTrip(t *testing.T) {
	for _, r := range []Restriction{AnyValue(), IsBool(true), ExactValue(0.1), Between(-3, 1e-9)} {
		back, err := ParseRestriction(r.String())
		require.NoError(t, err, r.String())
		assert.Equal(t, r, back)
	}
}

func sampleCatalogue(t *testing.T) *Catalogue {
	c := New(nil)
	require.NoError(t, c.Grant("give_velocity",
		[]Restriction{Between(0, 1), ExactValue(0.1)},
		[]Restriction{AnyValue()},
		[]Restriction{ExactValue(1.0 / 3.0)},
	))
	require.NoError(t, c.Grant("anchor"))
	require.NoError(t, c.Grant("take_form", []Restriction{ExactValue(0)}))
	return c
}

func TestJSONRoundTrip(t *testing.T) {
	c := sampleCatalogue(t)
	data, err := c.EncodeJSON()
	require.NoError(t, err)

	back, err := DecodeJSON(data, nil)
	require.NoError(t, err)
	assert.Equal(t, c.entries, back.entries)

	again, err := back.EncodeJSON()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestCBORRoundTrip(t *testing.T) {
	c := sampleCatalogue(t)
	data, err := c.EncodeCBOR()
	require.NoError(t, err)

	back, err := DecodeCBOR(data, nil)
	require.NoError(t, err)
	assert.Equal(t, c.entries, back.entries)

	again, err := back.EncodeCBOR()
	require.NoError(t, err)
	assert.Equal(t, data, again, "canonical encoding is deterministic")
}

func TestDecodeJSONRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing operations", `{}`},
		{"unknown kind", `{"operations":{"anchor":{"params":[[{"kind":"maybe"}]]}}}`},
		{"range without hi", `{"operations":{"take_form":{"params":[[{"kind":"range","lo":1}]]}}}`},
		{"empty set", `{"operations":{"take_form":{"params":[[]]}}}`},
		{"string value", `{"operations":{"take_form":{"params":[[{"kind":"exact","value":"1"}]]}}}`},
		{"extra field", `{"operations":{"anchor":{"cost":3}}}`},
		{"unknown operation", `{"operations":{"fireball":{}}}`},
		{"wrong arity", `{"operations":{"take_form":{"params":[[{"kind":"any"}],[{"kind":"any"}]]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.doc), nil)
			assert.Error(t, err)
		})
	}
}

func TestDescribe(t *testing.T) {
	c := sampleCatalogue(t)
	e, _ := c.Lookup("give_velocity")
	assert.Equal(t, "give_velocity(0..1|0.1, *, 0.3333333333333333)", e.Describe("give_velocity"))
	e, _ = c.Lookup("anchor")
	assert.Equal(t, "anchor (unrestricted)", e.Describe("anchor"))
	assert.Equal(t, []string{"anchor", "give_velocity", "take_form"}, c.Operations())
}
