// spellbook runs spells outside a game host.
//
// Given a .spell or compiled .mmsb file it checks the spell against an
// optional catalogue, runs on_creation once and repeat for a number of
// ticks, and prints every dispatched operation. Without arguments it starts
// a REPL for evaluating conditions.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/mmspellbook/spellbook/pkg/bytecode"
	"github.com/mmspellbook/spellbook/pkg/catalogue"
	"github.com/mmspellbook/spellbook/pkg/compiler"
	"github.com/mmspellbook/spellbook/pkg/config"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/interpreter"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/parser"
	"github.com/mmspellbook/spellbook/pkg/store"
	"github.com/mmspellbook/spellbook/pkg/types"
	"github.com/mmspellbook/spellbook/pkg/vm"
)

var (
	flagTicks     = flag.Int("ticks", 10, "Number of repeat ticks to run")
	flagEnergy    = flag.Float64("energy", 100, "Starting energy")
	flagDT        = flag.Float64("dt", 0.1, "Seconds per tick, answered by get_time()")
	flagMoving    = flag.Bool("moving", false, "Answer for moving()")
	flagConfig    = flag.String("config", "", "spellbook.toml")
	flagCatalogue = flag.String("catalogue", "", "Catalogue JSON to check the spell against")
	flagDB        = flag.String("db", "", "Actor store (SQLite) for catalogue and efficiency")
	flagActor     = flag.String("actor", "", "Actor name in the store")
	flagInterp    = flag.Bool("interp", false, "Run the parsed program instead of the bytecode")
	flagDisasm    = flag.Bool("disasm", false, "Print disassembly before running")
	flagQuiet     = flag.Bool("quiet", false, "Quiet mode (no banner)")
	flagVerbose   = flag.Int("v", 0, "Log verbosity")
)

// host answers queries from the flags and the current tick.
type host struct {
	tick   int
	moving bool
}

func (h *host) Query(name string) (types.Value, error) {
	switch name {
	case "get_time":
		return types.Number(float64(h.tick) * *flagDT), nil
	case "moving":
		return types.Boolean(h.moving), nil
	}
	return nil, fmt.Errorf("no answer for %s()", name)
}

func main() {
	flag.Parse()
	commonlog.Configure(*flagVerbose, nil)

	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			fatal(err)
		}
	}
	table, err := cfg.Table()
	if err != nil {
		fatal(err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		fatal(err)
	}

	if flag.NArg() == 0 {
		runREPL(table)
		return
	}
	for _, path := range flag.Args() {
		if err := runFile(table, policy, path); err != nil {
			fatal(err)
		}
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func isBytecode(data []byte) bool {
	return bytes.HasPrefix(data, []byte(bytecode.Magic))
}

func runFile(table *opcode.Table, policy efficiency.Policy, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	code := data
	if !isBytecode(data) {
		_, code, err = compiler.New(table).Build(string(data))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if *flagDisasm {
		fmt.Print(bytecode.Disassemble(code, table))
	}

	ctx := context.Background()
	view := efficiency.Table{}
	var (
		db  *store.Store
		cat *catalogue.Catalogue
	)
	if *flagDB != "" {
		if *flagActor == "" {
			return fmt.Errorf("-db needs -actor")
		}
		if db, err = store.Open(*flagDB); err != nil {
			return err
		}
		defer db.Close()
		if view, err = db.Efficiency(ctx, *flagActor); err != nil {
			return err
		}
		if cat, err = db.LoadCatalogue(ctx, *flagActor, table); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	if *flagCatalogue != "" {
		raw, err := os.ReadFile(*flagCatalogue)
		if err != nil {
			return err
		}
		if cat, err = catalogue.DecodeJSON(raw, table); err != nil {
			return fmt.Errorf("%s: %w", *flagCatalogue, err)
		}
	}
	if cat != nil {
		v := cat.CheckAllowed(code)
		if !v.Allowed {
			return fmt.Errorf("not allowed to cast: %s", v.Reason)
		}
		fmt.Println("catalogue: allowed")
	}

	h := &host{moving: *flagMoving}
	var run func(kind types.Section, energy float64) *vm.Result
	if *flagInterp {
		prog, err := bytecode.Decode(code, table)
		if err != nil {
			return err
		}
		in := interpreter.New(table)
		in.Policy = policy
		in.Querier = h
		run = func(kind types.Section, energy float64) *vm.Result {
			return in.RunSection(prog, kind, energy, view)
		}
	} else {
		m := vm.New(table)
		m.Policy = policy
		m.Querier = h
		spell, err := vm.NewSpell(m, code, *flagEnergy)
		if err != nil {
			return err
		}
		run = func(kind types.Section, _ float64) *vm.Result {
			if kind == types.SectionCreation {
				return spell.Create(view)
			}
			return spell.Tick(view)
		}
	}

	energy := *flagEnergy
	step := func(label string, kind types.Section) (bool, error) {
		res := run(kind, energy)
		energy = res.Energy
		for _, inv := range res.Invocations {
			fmt.Printf("%-10s %s\n", label, inv)
		}
		fmt.Printf("%-10s spent %g, energy %g, %s\n", label, res.Spent, res.Energy, res.Reason())
		view.Apply(res.Deltas)
		if db != nil {
			if err := db.ApplyDeltas(ctx, *flagActor, res.Deltas); err != nil {
				return false, err
			}
		}
		return res.State == vm.HaltedComplete, nil
	}

	if ok, err := step("create", types.SectionCreation); err != nil || !ok {
		return err
	}
	for tick := 1; tick <= *flagTicks; tick++ {
		h.tick = tick
		if ok, err := step(fmt.Sprintf("tick %d", tick), types.SectionRepeat); err != nil || !ok {
			return err
		}
	}
	fmt.Printf("efficiency %s\n", view)
	return nil
}

func runREPL(table *opcode.Table) {
	if !*flagQuiet {
		printBanner()
	}
	h := &host{moving: *flagMoving}
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("cond> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if !handleCommand(table, h, line) {
				return
			}
			continue
		}
		evalCondition(table, h, line)
	}
}

// handleCommand returns false when the REPL should exit.
func handleCommand(table *opcode.Table, h *host, line string) bool {
	parts := strings.Fields(line)
	switch parts[0] {
	case ":quit", ":q", ":exit":
		return false
	case ":help", ":h", ":?":
		printHelp()
	case ":tick":
		if len(parts) > 1 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				h.tick = n
			}
		}
		fmt.Printf("tick %d, get_time() = %g\n", h.tick, float64(h.tick) * *flagDT)
	case ":moving":
		if len(parts) > 1 {
			h.moving = parts[1] == "true"
		}
		fmt.Printf("moving() = %v\n", h.moving)
	case ":ops":
		for _, s := range table.Specs() {
			fmt.Printf("  %-16s %-6s cost %g\n", s.Signature(), s.Kind, s.Cost)
		}
	default:
		fmt.Printf("unknown command %s\n", parts[0])
	}
	return true
}

func evalCondition(table *opcode.Table, h *host, text string) {
	node, err := parser.ParseCondition(text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	kind, err := expr.Check(node, func(name string) (types.Kind, error) {
		spec, ok := table.Lookup(name)
		if !ok || spec.Kind != opcode.Query {
			return 0, types.Errorf(types.ErrUnknownOperation, "not a query").ForOp(name)
		}
		return spec.Returns, nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	v, err := expr.Eval(node, h)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	fmt.Printf("  %s => %s (%s)\n", node, v, kind)
}

func printBanner() {
	fmt.Print(`spellbook condition REPL. Type :help for commands, :quit to exit.
`)
}

func printHelp() {
	fmt.Print(`
Commands:
  :help, :h, :?    Show this help
  :quit, :q        Exit
  :tick <n>        Set the tick answered by get_time()
  :moving <bool>   Set the answer of moving()
  :ops             List operations and costs

Conditions:
  2 = 4 - 2              comparison of numbers
  5 > 3 and true         and, or, xor, not
  get_time() ^ 2 > 1     queries answered by the host
`)
}
