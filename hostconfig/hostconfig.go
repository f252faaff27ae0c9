// Package hostconfig loads stellavm.toml, the optional host CLI's config
// file. It is a leaf: nothing in the core packages imports it, and it
// knows nothing about bytecode or the interpreter beyond the plain option
// values it hands back to the caller.
package hostconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config mirrors the handful of vm.Option values a host may want to pin
// without recompiling: stack and arena sizing, a step budget, and whether
// profiling starts enabled.
type Config struct {
	StackReserve     int  `toml:"stack_reserve"`
	ArenaBytes       int  `toml:"arena_bytes"`
	StepBudget       int  `toml:"step_budget"`
	ProfilingEnabled bool `toml:"profiling_enabled"`
}

// Default returns the zero-value Config interpreted by the caller the same
// way vm.New interprets an absent Option: 0 means "use the VM's built-in
// default" for StackReserve/ArenaBytes/StepBudget.
func Default() Config {
	return Config{}
}

// Load reads and parses the TOML file at path. A missing file is not an
// error; it returns Default() so the CLI can run with no config present.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return cfg, nil
}
