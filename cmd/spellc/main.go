// spellc compiles spell source files to bytecode.
//
// Each input foo.spell is written to <outdir>/foo.mmsb. Files are compiled
// concurrently; results are reported in argument order.
//
// Usage: spellc [-o outdir] [-disasm] [-config spellbook.toml] <file.spell>...
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"github.com/mmspellbook/spellbook/pkg/bytecode"
	"github.com/mmspellbook/spellbook/pkg/compiler"
	"github.com/mmspellbook/spellbook/pkg/config"
)

type output struct {
	path   string
	code   []byte
	disasm string
	err    error
}

func main() {
	outDir := flag.String("o", ".", "Output directory")
	disasm := flag.Bool("disasm", false, "Print disassembly")
	check := flag.Bool("check", false, "Check only, write nothing")
	cfgPath := flag.String("config", "", "spellbook.toml with the operation table")
	jobs := flag.Int("j", runtime.NumCPU(), "Concurrent compilations")
	verbose := flag.Int("v", 0, "Log verbosity")
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: spellc [-o outdir] [-disasm] [-check] [-config file] <file.spell>...")
		os.Exit(1)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	table, err := cfg.Table()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	comp := compiler.New(table)

	outputs := make([]output, flag.NArg())
	var g errgroup.Group
	g.SetLimit(max(*jobs, 1))
	for i, path := range flag.Args() {
		i, path := i, path
		g.Go(func() error {
			outputs[i] = compileFile(comp, path, *disasm)
			return nil
		})
	}
	_ = g.Wait()

	failed := false
	for _, o := range outputs {
		if o.err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", o.path, o.err)
			failed = true
			continue
		}
		if *disasm {
			fmt.Printf("=== %s (%d bytes) ===\n", o.path, len(o.code))
			fmt.Print(o.disasm)
		}
		if *check {
			fmt.Printf("%s: ok\n", o.path)
			continue
		}
		dest := filepath.Join(*outDir, strings.TrimSuffix(filepath.Base(o.path), filepath.Ext(o.path))+".mmsb")
		if err := os.WriteFile(dest, o.code, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", o.path, err)
			failed = true
			continue
		}
		fmt.Printf("%s: %d bytes -> %s\n", o.path, len(o.code), dest)
	}
	if failed {
		os.Exit(1)
	}
}

func compileFile(comp *compiler.Compiler, path string, disasm bool) output {
	data, err := os.ReadFile(path)
	if err != nil {
		return output{path: path, err: err}
	}
	res := comp.Compile(string(data))
	if !res.Successful {
		return output{path: path, err: res.Err}
	}
	o := output{path: path, code: res.Bytecode}
	if disasm {
		o.disasm = bytecode.Disassemble(res.Bytecode, comp.Table)
	}
	return o
}
