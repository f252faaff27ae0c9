// Command stellavm is a thin host application for the core VM: it loads an
// optional stellavm.toml, reads a bytecode file, verifies and runs it with a
// handful of demo native bindings, and optionally prints a trace and a
// colorized disassembly. It contains no VM logic of its own.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/stellavm/stellavm/bytecode"
	"github.com/stellavm/stellavm/disasm"
	"github.com/stellavm/stellavm/hostconfig"
	"github.com/stellavm/stellavm/vm"
)

func main() {
	var (
		configPath = flag.String("config", "stellavm.toml", "path to a host config file")
		trace      = flag.Bool("trace", false, "print a colorized disassembly and a step trace")
	)
	flag.Parse()

	if err := run(flag.Arg(0), *configPath, *trace, os.Stdout, os.Stderr); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func run(path, configPath string, trace bool, stdout, stderr *os.File) error {
	cfg, err := hostconfig.Load(configPath)
	if err != nil {
		return err
	}

	program, err := loadProgram(path)
	if err != nil {
		return err
	}

	if trace {
		disasm.Print(disasm.Disassemble(program), stdout)
	}

	options := []vm.Option{defaultLoggerOption()}
	if cfg.StackReserve > 0 {
		options = append(options, vm.WithStackReserve(cfg.StackReserve))
	}
	if cfg.ArenaBytes > 0 {
		options = append(options, vm.WithArenaBytes(cfg.ArenaBytes))
	}
	if cfg.StepBudget > 0 {
		options = append(options, vm.WithStepBudget(cfg.StepBudget))
	}
	if cfg.ProfilingEnabled {
		options = append(options, vm.WithProfiling(true))
	}

	machine := vm.New(options...)
	bindDemoNatives(machine)

	if trace {
		machine.SetTraceSink(func(e vm.TraceEvent) {
			fmt.Fprintf(stderr, "pc=%d op=%s stack=%d depth=%d\n", e.PC, e.Opcode.Name(), e.StackSize, e.CallDepth)
		})
	}

	result, err := machine.Run(program)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%#v\n", result)
	return nil
}

// defaultLoggerOption always applies, so diagnostics (arena destructor
// failures, reentrancy rejections) reach stderr through zerolog rather than
// being silently dropped.
func defaultLoggerOption() vm.Option {
	return vm.WithLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
}

// loadProgram reads a .svmc bytecode file from disk, or falls back to a
// small built-in demo program (computes sum3(6, 7, 29) = 42) when no path
// is given, so the CLI is runnable with zero setup.
func loadProgram(path string) (*bytecode.Program, error) {
	if path == "" {
		return demoBuilder(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return bytecode.Deserialize(data)
}
