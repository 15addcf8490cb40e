package interpreter_test

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mmspellbook/spellbook/pkg/bytecode"
	"github.com/mmspellbook/spellbook/pkg/compiler"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/interpreter"
	"github.com/mmspellbook/spellbook/pkg/parser"
	"github.com/mmspellbook/spellbook/pkg/types"
	"github.com/mmspellbook/spellbook/pkg/vm"
)

// clock answers queries from a fixed world state.
func clock(now float64, moving bool) expr.Querier {
	return expr.QuerierFunc(func(name string) (types.Value, error) {
		switch name {
		case "get_time":
			return types.Number(now), nil
		case "moving":
			return types.Boolean(moving), nil
		}
		return nil, fmt.Errorf("unexpected query %s", name)
	})
}

// TestBytecodeMatchesSource runs every fixture through the compiled VM and
// through the AST interpreter, on both the parsed source and the program
// decoded back from bytecode, and requires identical outcomes.
func TestBytecodeMatchesSource(t *testing.T) {
	files, err := filepath.Glob("../../testdata/spells/*.spell")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no fixtures found")
	}

	views := []efficiency.Table{nil, {"give_velocity": 2, "set_damage": 0.5}, {"anchor": 0}}
	sections := []types.Section{types.SectionCreation, types.SectionRepeat}

	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			t.Fatal(err)
		}
		t.Run(filepath.Base(file), func(t *testing.T) {
			c := compiler.New(nil)
			prog, code, err := c.Build(string(src))
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			decoded, err := bytecode.Decode(code, c.Table)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			img, err := bytecode.Open(code)
			if err != nil {
				t.Fatal(err)
			}

			for _, kind := range sections {
				seg, ok := img.Section(kind)
				for _, energy := range []float64{0, 9, 30, 1000} {
					for vi, view := range views {
						for _, now := range []float64{0, 3, 5} {
							q := clock(now, now > 1)
							name := fmt.Sprintf("%s/e=%g/v=%d/t=%g", kind, energy, vi, now)

							m := vm.New(nil)
							m.Querier = q
							var want *vm.Result
							if ok {
								want = m.RunSegment(seg, energy, view)
							} else {
								want = &vm.Result{Energy: energy, State: vm.HaltedComplete, Deltas: efficiency.Deltas{}}
							}

							in := interpreter.New(nil)
							in.Querier = q
							for _, p := range []struct {
								label string
								prog  *parser.Program
							}{{"source", prog}, {"decoded", decoded}} {
								got := in.RunSection(p.prog, kind, energy, view)
								if !sameResult(got, want) {
									t.Errorf("%s %s:\n vm   %+v\n tree %+v", name, p.label, want, got)
								}
							}
						}
					}
				}
			}
		})
	}
}

func sameResult(a, b *vm.Result) bool {
	if a.State != b.State || a.Energy != b.Energy || a.Spent != b.Spent {
		return false
	}
	if len(a.Invocations) != len(b.Invocations) {
		return false
	}
	for i := range a.Invocations {
		if !a.Invocations[i].Equal(b.Invocations[i]) {
			return false
		}
	}
	if len(a.Deltas) == 0 && len(b.Deltas) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Deltas, b.Deltas)
}
