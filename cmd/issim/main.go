// Package main provides the entry point for issim.
// issim is a decode-once instruction-set simulator for RV32 programs with a
// resource timing model.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/issim/emu"
	"github.com/sarchlab/issim/isa"
	"github.com/sarchlab/issim/isa/rv32"
	"github.com/sarchlab/issim/loader"
	"github.com/sarchlab/issim/timing/core"
	"github.com/sarchlab/issim/timing/latency"
)

// returnAddr is loaded into ra before the entry point runs; returning to it
// ends the simulation.
const returnAddr = 0xffff_fffc

var (
	configPath = flag.String("config", "", "Path to timing configuration JSON file")
	saveConfig = flag.String("save-config", "", "Write the timing configuration to this path and exit")
	verbose    = flag.Bool("v", false, "Verbose output")
	trace      = flag.Bool("trace", false, "Log every executed instruction")
	maxCycles  = flag.Uint64("cycles", 1_000_000_000, "Maximum number of cycles to simulate")
	raw        = flag.Bool("raw", false, "Load the program as a flat binary at -base")
	base       = flag.Uint64("base", 0x1000, "Load and entry address of flat binaries")
	dump       = flag.Bool("dump", false, "Dump the decode tree of the selected ISA and exit")
	fast       = flag.Bool("fast", false, "Use fast dispatch without resource or cache timing")
	isaName    = flag.String("isa", rv32.NameIMC, "ISA to execute (rv32imc, rv32i)")
	exitAddr   = flag.Uint64("exit", returnAddr, "Stop when this address is reached")
)

func main() {
	flag.Parse()

	config, err := timingConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading timing config: %v\n", err)
		os.Exit(1)
	}

	if *saveConfig != "" {
		if err := config.SaveConfig(*saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving timing config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *dump {
		if err := dumpTree(*isaName); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: issim [options] <program>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	programPath := flag.Arg(0)
	prog, err := loadProgram(programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.InfoLevel)
	}
	if *trace {
		logger.SetLevel(logrus.TraceLevel)
	}

	if *verbose {
		fmt.Printf("Loaded: %s\n", programPath)
		fmt.Printf("Entry point: 0x%X\n", prog.EntryPoint)
		fmt.Printf("Segments: %d\n", len(prog.Segments))
	}

	mode := core.ModeNormal
	if *fast {
		mode = core.ModeFast
	}

	c, err := simulate(prog, config, *maxCycles, os.Stdout,
		core.WithLogger(logger),
		core.WithMode(mode),
		core.WithISA(*isaName),
		core.WithExitAddr(*exitAddr),
	)
	if c != nil {
		report(programPath, c)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(int(c.ExitCode()))
}

func timingConfig() (*latency.TimingConfig, error) {
	if *configPath == "" {
		return latency.DefaultTimingConfig(), nil
	}
	return latency.LoadConfig(*configPath)
}

func loadProgram(path string) (*loader.Program, error) {
	if !*raw {
		return loader.Load(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read binary: %w", err)
	}
	return &loader.Program{
		EntryPoint: *base,
		InitialSP:  loader.DefaultStackTop,
		Segments: []loader.Segment{{
			VirtAddr: *base,
			Data:     data,
			MemSize:  uint64(len(data)),
			Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
		}},
	}, nil
}

// simulate loads prog into a fresh memory and runs it for at most
// maxCycles cycles. Program output goes to stdout.
func simulate(
	prog *loader.Program,
	config *latency.TimingConfig,
	maxCycles uint64,
	stdout io.Writer,
	opts ...core.Option,
) (*core.Core, error) {
	memory := emu.NewMemory()
	regFile := &emu.RegFile{}
	prog.LoadInto(memory)

	regFile.WriteReg(1, returnAddr)
	regFile.WriteReg(2, prog.InitialSP)

	sys := emu.NewDefaultSyscallHandler(regFile, memory, stdout, os.Stderr)
	sys.SetStdin(os.Stdin)

	var c *core.Core
	set := rv32.NewSet(memory, rv32.WithSyscalls(sys, func(code int64) {
		c.Exit(code)
	}))

	opts = append([]core.Option{core.WithTimingConfig(config)}, opts...)
	c, err := core.NewCore(set, regFile, memory, opts...)
	if err != nil {
		return nil, err
	}
	memory.SetWriteHook(c.InvalidateRange)

	c.SetPC(prog.EntryPoint)
	return c, c.Run(maxCycles)
}

func dumpTree(name string) error {
	for _, i := range rv32.NewSet(emu.NewMemory()).ISAs {
		if i.Name == name {
			isa.Dump(os.Stdout, i.Root)
			return nil
		}
	}
	return fmt.Errorf("unknown ISA %q", name)
}

func report(programPath string, c *core.Core) {
	stats := c.Stats()

	totalCycles := stats.Cycles
	if totalCycles == 0 {
		totalCycles = 1
	}

	fmt.Printf("\n")
	fmt.Printf("Program: %s\n", programPath)
	fmt.Printf("ISA: %s (%s dispatch)\n", c.ISA(), c.Mode())
	fmt.Printf("Halted: %v\n", c.Halted())
	fmt.Printf("Exit code: %d\n", c.ExitCode())
	fmt.Printf("Total Instructions: %d\n", stats.Instructions)
	fmt.Printf("Total Cycles: %d\n", stats.Cycles)
	fmt.Printf("CPI: %.2f\n", stats.CPI())
	fmt.Printf("\n")
	fmt.Printf("Breakdown:\n")
	fmt.Printf("  Busy:           %4d cycles (%5.1f%%)\n",
		stats.BusyCycles, 100.0*float64(stats.BusyCycles)/float64(totalCycles))
	fmt.Printf("  Resource stall: %4d cycles (%5.1f%%)\n",
		stats.StallCycles, 100.0*float64(stats.StallCycles)/float64(totalCycles))
	fmt.Printf("  Operand wait:   %4d cycles (%5.1f%%)\n",
		stats.DependencyStallCycles, 100.0*float64(stats.DependencyStallCycles)/float64(totalCycles))
	fmt.Printf("\n")
	fmt.Printf("Decode cache:\n")
	fmt.Printf("  Lookups: %d  Hits: %d  Decodes: %d  Blocks: %d\n",
		stats.ICache.Lookups, stats.ICache.Hits, stats.ICache.Decodes, stats.ICache.Blocks)
	fmt.Printf("  Link hits: %d  Invalidations: %d\n",
		stats.LinkHits, stats.ICache.Invalidations)

	if stats.L1I.Accesses > 0 {
		fmt.Printf("L1I: %d accesses, %d misses\n", stats.L1I.Accesses, stats.L1I.Misses)
	}

	if len(stats.Resources) > 0 {
		fmt.Printf("Resources:\n")
		for _, name := range []string{rv32.ResourceMul, rv32.ResourceDiv} {
			r := stats.Resources[name]
			fmt.Printf("  %-4s accesses: %d  stalled: %d  stall cycles: %d\n",
				name, r.Accesses, r.Stalled, r.StallCycles)
		}
	}
}
