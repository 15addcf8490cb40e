// sandbox runs a scenario of casters releasing spells into a shared world.
//
// Usage: sandbox [flags] scenario.yaml
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strconv"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/sandbox"
	"github.com/mmspellbook/spellbook/pkg/store"
)

func main() {
	ticks := flag.Int("ticks", 0, "Override the scenario's tick count")
	workers := flag.Int("workers", runtime.NumCPU(), "Concurrent spell runs per tick")
	csvOut := flag.Bool("csv", false, "Output per-tick stats as CSV to stdout")
	logPath := flag.String("log", "", "Write a zstd-compressed JSONL tick log")
	dbPath := flag.String("db", "", "Actor store to persist efficiency gains into")
	verbose := flag.Int("v", 0, "Log verbosity")
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: sandbox [-ticks n] [-workers n] [-csv] [-log file] [-db file] scenario.yaml")
		os.Exit(1)
	}
	if err := run(flag.Arg(0), *ticks, *workers, *csvOut, *logPath, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, ticks, workers int, csvOut bool, logPath, dbPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sc, err := sandbox.LoadScenario(path)
	if err != nil {
		return err
	}
	if ticks > 0 {
		sc.Ticks = ticks
	}
	w, err := sc.Build()
	if err != nil {
		return err
	}

	// gains are buffered per caster and written once at the end
	gains := map[string]efficiency.Deltas{}
	if dbPath != "" {
		w.OnDeltas = func(caster string, d efficiency.Deltas) {
			acc := gains[caster]
			if acc == nil {
				acc = efficiency.Deltas{}
				gains[caster] = acc
			}
			for op, inc := range d {
				acc.Add(op, inc)
			}
		}
	}

	sched := sandbox.NewScheduler(w, workers)
	if logPath != "" {
		tl, err := sandbox.CreateTickLog(logPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := tl.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "closing tick log: %v\n", err)
			}
		}()
		sched.Log = tl
	}

	var all []sandbox.Stats
	if err := sched.Run(ctx, sc.Ticks, func(st sandbox.Stats) { all = append(all, st) }); err != nil {
		return err
	}

	if csvOut {
		if err := writeCSV(os.Stdout, all); err != nil {
			return err
		}
	} else {
		printSummary(w, all)
	}

	if dbPath != "" {
		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		names := make([]string, 0, len(gains))
		for name := range gains {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := db.ApplyDeltas(ctx, name, gains[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeCSV(out io.Writer, all []sandbox.Stats) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"tick", "bodies", "released", "denied", "dissolved", "invocations", "spent", "held", "casters_alive"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	for _, st := range all {
		if err := cw.Write([]string{
			strconv.Itoa(st.Tick), strconv.Itoa(st.Bodies), strconv.Itoa(st.Released),
			strconv.Itoa(st.Denied), strconv.Itoa(st.Dissolved), strconv.Itoa(st.Invocations),
			f(st.Spent), f(st.Held), strconv.Itoa(st.CastersAlive),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func printSummary(w *sandbox.World, all []sandbox.Stats) {
	var total sandbox.Stats
	for _, st := range all {
		total.Released += st.Released
		total.Denied += st.Denied
		total.Dissolved += st.Dissolved
		total.Invocations += st.Invocations
		total.Spent += st.Spent
	}
	fmt.Printf("%d ticks: %d released, %d denied, %d dissolved, %d invocations, %.2f energy spent\n",
		len(all), total.Released, total.Denied, total.Dissolved, total.Invocations, total.Spent)
	fmt.Printf("%-12s %8s %8s  %s\n", "caster", "health", "shield", "efficiency")
	for _, c := range w.Casters {
		fmt.Printf("%-12s %8.1f %8.1f  %s\n", c.Name, c.Health, c.Shield, c.Efficiency)
	}
}
