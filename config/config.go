// Package config loads machine and engine settings from YAML or TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/machine"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"github.com/colorfulnotion/rvm/rvm/trace"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"gopkg.in/yaml.v2"
)

const (
	EngineInterpreter = "interpreter"
	EngineTrace       = "trace"
)

type Config struct {
	Machine Machine `yaml:"machine" toml:"machine"`
	Trace   Trace   `yaml:"trace" toml:"trace"`
	Log     Log     `yaml:"log" toml:"log"`

	// Costs overrides per-class cycle prices, keyed by class name.
	Costs map[string]uint64 `yaml:"costs" toml:"costs"`

	// Path is the file the config was loaded from, if any.
	Path string `yaml:"-" toml:"-"`
}

type Machine struct {
	ISA        string `yaml:"isa" toml:"isa"`
	Version    uint32 `yaml:"version" toml:"version"`
	MaxCycles  uint64 `yaml:"max_cycles" toml:"max_cycles"`
	MemorySize uint64 `yaml:"memory_size" toml:"memory_size"`
}

type Trace struct {
	Engine   string `yaml:"engine" toml:"engine"`
	Fusion   bool   `yaml:"fusion" toml:"fusion"`
	Capacity int    `yaml:"capacity" toml:"capacity"`
	Slots    int    `yaml:"slots" toml:"slots"`
}

type Log struct {
	Level   string `yaml:"level" toml:"level"`
	Modules string `yaml:"modules" toml:"modules"`
}

func Default() Config {
	return Config{
		Machine: Machine{
			ISA:        "imc",
			Version:    isa.VERSION1,
			MaxCycles:  1 << 32,
			MemorySize: memory.DefaultMemorySize,
		},
		Trace: Trace{
			Engine:   EngineTrace,
			Fusion:   true,
			Capacity: trace.DefaultCapacity,
			Slots:    trace.DefaultSlots,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path, choosing the format by extension, on top of Default.
// Fields absent from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, &cfg)
	case ".toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), &cfg)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys %v", undecoded)
			}
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported config format %q", rvmerrors.ErrCInvalidConfig, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parse error in %s: %v", rvmerrors.ErrCInvalidConfig, path, err)
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	log.Debug(log.CLIMonitoring, "config loaded", "path", path, "engine", cfg.Trace.Engine, "fusion", cfg.Trace.Fusion)
	return cfg, nil
}

// Validate checks every field against what the machine and engine accept.
func (c Config) Validate() error {
	if _, err := c.ParseISA(); err != nil {
		return err
	}
	if err := isa.ValidateVersion(c.Machine.Version); err != nil {
		return err
	}
	if c.Machine.MemorySize == 0 || c.Machine.MemorySize%memory.PageSize != 0 {
		return fmt.Errorf("%w: memory_size %d is not a positive multiple of %d", rvmerrors.ErrCInvalidConfig, c.Machine.MemorySize, memory.PageSize)
	}
	switch c.Trace.Engine {
	case EngineInterpreter, EngineTrace:
	default:
		return fmt.Errorf("%w: unknown engine %q", rvmerrors.ErrCInvalidConfig, c.Trace.Engine)
	}
	if c.Trace.Capacity < 2 {
		return fmt.Errorf("%w: trace capacity %d", rvmerrors.ErrCInvalidConfig, c.Trace.Capacity)
	}
	if c.Trace.Slots <= 0 || c.Trace.Slots&(c.Trace.Slots-1) != 0 {
		return fmt.Errorf("%w: trace slots %d is not a power of two", rvmerrors.ErrCInvalidConfig, c.Trace.Slots)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", rvmerrors.ErrCInvalidConfig, err)
	}
	if _, err := machine.ParseClassCosts(c.Costs); err != nil {
		return err
	}
	return nil
}

func (c Config) ParseISA() (isa.ISA, error) {
	return isa.ParseISA(c.Machine.ISA)
}

// CostTable applies the configured overrides to the default prices.
func (c Config) CostTable() (machine.CostTable, error) {
	classes, err := machine.ParseClassCosts(c.Costs)
	if err != nil {
		return machine.CostTable{}, err
	}
	return machine.NewCostTable(classes), nil
}
