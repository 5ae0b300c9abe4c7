// Rill CLI - the main entry point for running Rill programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/rill-lang/rill/manifest"
	"github.com/rill-lang/rill/pkg/bytecode"
	"github.com/rill-lang/rill/pkg/cache"
	"github.com/rill-lang/rill/pkg/compiler"
	"github.com/rill-lang/rill/pkg/image"
	"github.com/rill-lang/rill/pkg/parser"
	"github.com/rill-lang/rill/pkg/vm"
	"github.com/rill-lang/rill/server"

	_ "github.com/tliron/commonlog/simple"
)

const version = "0.1.0"

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	trace := flag.Bool("trace", false, "Print each instruction as it executes")
	disasm := flag.Bool("disasm", false, "Print the compiled bytecode and exit")
	seed := flag.Int64("seed", 0, "Seed the select RNG for reproducible runs")
	output := flag.String("o", "", "Write a compiled image (.rlc) to this file instead of running")
	noCache := flag.Bool("no-cache", false, "Bypass the compile cache")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rill [options] [source-file]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Rill program. With no source file, reads the program from stdin.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rill prog.rl              # Run a program\n")
		fmt.Fprintf(os.Stderr, "  rill -disasm prog.rl      # Show its bytecode\n")
		fmt.Fprintf(os.Stderr, "  rill -o prog.rlc prog.rl  # Compile to an image file\n")
		fmt.Fprintf(os.Stderr, "  rill prog.rlc             # Run a compiled image\n")
		fmt.Fprintf(os.Stderr, "  rill -seed 7 prog.rl      # Deterministic select scheduling\n")
		fmt.Fprintf(os.Stderr, "  rill -lsp                 # Start the language server\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) > 1 {
		flag.Usage()
		os.Exit(1)
	}

	var scriptPath string
	if len(args) == 1 {
		scriptPath = args[0]
	}

	seedSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedSet = true
		}
	})

	scriptDir := ""
	if scriptPath != "" {
		scriptDir = filepath.Dir(scriptPath)
	}
	m, err := manifest.Locate(scriptDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	verbosity := m.Log.Verbosity
	if *verbose && verbosity < 1 {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)

	// Language server mode ignores the script arguments.
	if *lspMode {
		if err := server.NewLSP(version).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		fn  *bytecode.Function
		img *image.Image
	)
	if strings.HasSuffix(scriptPath, ".rlc") {
		img, err = image.ReadFile(scriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fn, err = img.Function()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Loaded image %s\n", scriptPath)
		}
	} else {
		source, name, err := readSource(scriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		img, fn, err = compileSource(source, name, m, *noCache, *verbose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *disasm {
		fmt.Print(fn.Chunk.DisassembleWithName(fn.Name))
		os.Exit(0)
	}

	if *output != "" {
		if err := image.WriteFile(*output, img); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Wrote %s\n", *output)
		}
		os.Exit(0)
	}

	vmInst := vm.NewVM()
	if *trace || m.VM.Trace {
		vmInst.SetTrace(os.Stderr)
	}
	if s, ok := chooseSeed(*seed, seedSet, m); ok {
		vmInst.Seed(s)
	}

	result, err := vmInst.Interpret(fn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(vm.ExitCode(result))
}

// readSource loads the program text from a file, or stdin when path is "".
func readSource(path string) ([]byte, string, error) {
	if path == "" {
		source, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("reading stdin: %w", err)
		}
		return source, "stdin", nil
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return source, filepath.Base(path), nil
}

// compileSource turns source text into a runnable function, consulting
// the compile cache when enabled. The image is returned alongside so -o
// works on both hits and misses.
func compileSource(source []byte, name string, m *manifest.Manifest, noCache, verbose bool) (*image.Image, *bytecode.Function, error) {
	var c *cache.Cache
	if m.Cache.Enabled && !noCache {
		var err error
		if path := m.CachePath(); path != "" {
			c, err = cache.Open(path)
		} else {
			c, err = cache.OpenDefault()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: compile cache unavailable: %v\n", err)
			c = nil
		} else {
			defer c.Close()
		}
	}

	if c != nil {
		img, err := c.Load(source)
		if err == nil {
			fn, fnErr := img.Function()
			if fnErr == nil {
				if verbose {
					fmt.Printf("Cache hit for %s\n", name)
				}
				return img, fn, nil
			}
			// Undecodable hit: fall through and recompile.
		} else if !errors.Is(err, cache.ErrMiss) {
			fmt.Fprintf(os.Stderr, "Warning: cache read failed: %v\n", err)
		}
	}

	program, err := parser.Parse(string(source))
	if err != nil {
		return nil, nil, err
	}
	fn, err := compiler.Compile(program)
	if err != nil {
		return nil, nil, err
	}

	img, err := image.Build(name, source, fn)
	if err != nil {
		return nil, nil, err
	}
	if c != nil {
		if err := c.Put(img); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache write failed: %v\n", err)
		}
	}
	if verbose {
		fmt.Printf("Compiled %s\n", name)
	}
	return img, fn, nil
}

// chooseSeed resolves the select RNG seed: the -seed flag wins, then the
// RILL_SEED environment variable, then the manifest.
func chooseSeed(flagSeed int64, flagSet bool, m *manifest.Manifest) (int64, bool) {
	if flagSet {
		return flagSeed, true
	}
	if env := os.Getenv("RILL_SEED"); env != "" {
		if n, err := strconv.ParseInt(env, 10, 64); err == nil {
			return n, true
		}
		fmt.Fprintf(os.Stderr, "Warning: ignoring malformed RILL_SEED %q\n", env)
	}
	if m.VM.Seed != nil {
		return *m.VM.Seed, true
	}
	return 0, false
}
