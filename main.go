package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/Mr-Bossman/flip-jump/pkg/asm"
	"github.com/Mr-Bossman/flip-jump/pkg/fjm"
	"github.com/Mr-Bossman/flip-jump/pkg/vm"
)

// Exit codes: 0 success, 1 user error (bad source or flags), 2 runtime
// failure (step limit, bad image), 3 internal error.
const (
	exitOK       = 0
	exitUserErr  = 1
	exitRunErr   = 2
	exitInternal = 3
)

// stringList collects a repeatable string flag (-b a -b b).
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	asmOnly := flag.Bool("asm", false, "assemble only, don't run")
	runOnly := flag.Bool("run", false, "run a pre-assembled .fjm image")
	outPath := flag.String("o", "", "output image path (default: first input with .fjm extension)")
	width := flag.Int("w", 64, "memory width in bits (a multiple of 8, up to 64)")
	noStl := flag.Bool("no-stl", false, "don't include the built-in runtime prelude")
	compress := flag.Bool("z", false, "zlib-compress the image segments")
	debugPath := flag.String("d", "", "write (or, with -run, read) debug info at this path")
	traceLen := flag.Int("debug-ops-list", vm.DefaultTraceLength, "executed-ops trace buffer length")
	maxSteps := flag.Uint64("max-steps", 0, "stop with an error after this many ops (0 = unbounded)")
	var breakLabels, breakContains stringList
	flag.Var(&breakLabels, "b", "breakpoint at this exact label (repeatable)")
	flag.Var(&breakContains, "B", "breakpoint at every label containing this substring (repeatable)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "nothing to do: provide .fj sources, or -run <image.fjm>")
		flag.Usage()
		os.Exit(exitUserErr)
	}
	if *asmOnly && *runOnly {
		fmt.Fprintln(os.Stderr, "use either -asm or -run, not both")
		os.Exit(exitUserErr)
	}

	os.Exit(run(settings{
		asmOnly:       *asmOnly,
		runOnly:       *runOnly,
		outPath:       *outPath,
		width:         *width,
		noStl:         *noStl,
		compress:      *compress,
		debugPath:     *debugPath,
		traceLen:      *traceLen,
		maxSteps:      *maxSteps,
		breakLabels:   breakLabels,
		breakContains: breakContains,
		inputs:        flag.Args(),
	}))
}

type settings struct {
	asmOnly, runOnly  bool
	outPath           string
	width             int
	noStl             bool
	compress          bool
	debugPath         string
	traceLen          int
	maxSteps          uint64
	breakLabels       []string
	breakContains     []string
	inputs            []string
}

func run(cfg settings) int {
	imagePath := cfg.outPath

	var debug *asm.DebugInfo

	if cfg.runOnly {
		if len(cfg.inputs) != 1 {
			fmt.Fprintln(os.Stderr, "-run expects exactly one .fjm image")
			return exitUserErr
		}
		imagePath = cfg.inputs[0]
		if cfg.debugPath != "" {
			d, err := asm.LoadDebugInfo(cfg.debugPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to read debug info %q: %v\n", cfg.debugPath, err)
				return exitUserErr
			}
			debug = d
		}
	} else {
		files := []asm.SourceFile{}
		if !cfg.noStl {
			files = append(files, asm.PreludeFiles()...)
		}
		for _, path := range cfg.inputs {
			if !strings.HasSuffix(path, ".fj") {
				fmt.Fprintf(os.Stderr, "file %s is not a .fj file\n", path)
				return exitUserErr
			}
			files = append(files, asm.SourceFile{Path: path})
		}

		res, err := asm.AssembleFiles(files, asm.Options{W: cfg.width, Compress: cfg.compress})
		if err != nil {
			fmt.Fprintf(os.Stderr, "assembly failed: %v\n", err)
			return exitUserErr
		}
		for _, warning := range res.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
		}

		if imagePath == "" {
			imagePath = defaultImagePath(cfg.inputs[0])
		}
		if err := res.Image.Save(imagePath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write image %q: %v\n", imagePath, err)
			return exitInternal
		}
		fmt.Fprintf(os.Stderr, "assembled %d segment(s) -> %s\n", len(res.Image.Segments), imagePath)

		debug = asm.NewDebugInfo(cfg.width, res)
		if cfg.debugPath != "" {
			if err := asm.SaveDebugInfo(debug, cfg.debugPath); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write debug info %q: %v\n", cfg.debugPath, err)
				return exitInternal
			}
		}

		if cfg.asmOnly {
			return exitOK
		}
	}

	img, err := fjm.Load(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load image %q: %v\n", imagePath, err)
		return exitRunErr
	}

	machine, err := vm.NewFromImage(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load image %q: %v\n", imagePath, err)
		return exitRunErr
	}
	machine.Input = os.Stdin
	machine.Output = os.Stdout
	machine.MaxSteps = cfg.maxSteps
	machine.SetTraceLength(cfg.traceLen)

	if len(cfg.breakLabels) > 0 || len(cfg.breakContains) > 0 {
		if debug == nil {
			fmt.Fprintln(os.Stderr, "warning: breakpoints need debug info; pass -d")
		} else {
			bps, warnings := debug.ResolveBreakpoints(cfg.breakLabels, cfg.breakContains)
			for _, warning := range warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
			}
			machine.Breakpoints = bps
		}
	}

	return runMachine(machine, debug)
}

func runMachine(machine *vm.VM, debug *asm.DebugInfo) int {
	for {
		cause, err := machine.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nrun failed: %v\n", err)
			dumpTrace(machine, debug)
			return exitRunErr
		}
		if cause != vm.Breakpoint {
			fmt.Fprintf(os.Stderr, "\nfinished by %s (%d ops executed)\n", cause, machine.Stats.Ops)
			return exitOK
		}
		if !breakpointShell(machine, debug) {
			return exitOK
		}
	}
}

// breakpointShell shows where the run stopped and asks what to do next.
// Returns false to stop the program.
func breakpointShell(machine *vm.VM, debug *asm.DebugInfo) bool {
	name := machine.Breakpoints[machine.IP]
	fmt.Fprintf(os.Stderr, "\nbreakpoint %s after %d ops\n", name, machine.Stats.Ops)
	if debug != nil {
		fmt.Fprintf(os.Stderr, "  ip    %s\n", debug.AddressLabel(machine.IP))
		fmt.Fprintf(os.Stderr, "  flip  %s\n", debug.AddressLabel(machine.Mem.ReadWord(machine.IP)))
		fmt.Fprintf(os.Stderr, "  jump  %s\n", debug.AddressLabel(machine.Mem.ReadWord(machine.IP+uint64(machine.Mem.W()))))
	}

	for {
		switch readDebugKey() {
		case 's': // execute one op, stay in the shell
			machine.Step()
			if machine.Halted {
				return true
			}
			fmt.Fprintf(os.Stderr, "  stepped to ip %#x (%d ops)\n", machine.IP, machine.Stats.Ops)
		case 'c':
			return true
		case 'a': // continue, dropping every breakpoint
			machine.Breakpoints = nil
			return true
		case 'q':
			return false
		}
	}
}

// readDebugKey reads one choice key. On a real terminal it takes a single
// raw keypress; otherwise it falls back to "continue all".
func readDebugKey() byte {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return 'a'
	}
	fmt.Fprint(os.Stderr, "  [s]tep [c]ontinue [a]ll [q]uit > ")
	state, err := term.MakeRaw(fd)
	if err != nil {
		return 'a'
	}
	defer term.Restore(fd, state)
	var buf [1]byte
	if _, err := os.Stdin.Read(buf[:]); err != nil {
		return 'q'
	}
	fmt.Fprintf(os.Stderr, "%c\n", buf[0])
	return buf[0]
}

func dumpTrace(machine *vm.VM, debug *asm.DebugInfo) {
	trace := machine.Trace()
	if len(trace) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "last executed ops:")
	for _, addr := range trace {
		if debug != nil {
			fmt.Fprintf(os.Stderr, "  %s\n", debug.AddressLabel(addr))
		} else {
			fmt.Fprintf(os.Stderr, "  %#x\n", addr)
		}
	}
}

func defaultImagePath(inPath string) string {
	ext := filepath.Ext(inPath)
	if ext == "" {
		return inPath + ".fjm"
	}
	return strings.TrimSuffix(inPath, ext) + ".fjm"
}
