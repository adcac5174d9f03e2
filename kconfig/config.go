package kconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/go-kcore/kernel"
	"github.com/joeycumines/logiface"
)

// ErrInvalidConfig is returned (wrapped) for any configuration that fails
// validation.
var ErrInvalidConfig = errors.New("kconfig: invalid config")

// Duration is a time.Duration written as a string, e.g. "10ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top level configuration document.
type Config struct {
	Kernel   KernelConfig   `toml:"kernel"`
	Log      LogConfig      `toml:"log"`
	Workload WorkloadConfig `toml:"workload"`
}

// KernelConfig maps onto [kernel.Option] values.
type KernelConfig struct {
	// Cores defaults to the number of CPUs, when zero.
	Cores   int      `toml:"cores"`
	Quantum Duration `toml:"quantum"`
	// MemoryPages bounds the page allocator, zero sizing it from physical
	// memory.
	MemoryPages   int `toml:"memory_pages"`
	TLBBatchSize  int `toml:"tlb_batch_size"`
	ICIStallSpins int `toml:"ici_stall_spins"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `toml:"level"`
	// Timestamps adds a time field to every entry.
	Timestamps bool `toml:"timestamps"`
}

// WorkloadConfig describes the simulated workload.
type WorkloadConfig struct {
	Duration Duration `toml:"duration"`
	// Producers and Consumers share a bounded buffer, guarded by a pair of
	// semaphores of Buffer units.
	Producers int `toml:"producers"`
	Consumers int `toml:"consumers"`
	Buffer    int `toml:"buffer"`
	// Compute threads spin at the lowest priority, yielding at checkpoints.
	Compute     int      `toml:"compute"`
	AlarmPeriod Duration `toml:"alarm_period"`
	// TLBInterval spaces TLB shootdowns, zero disabling them.
	TLBInterval Duration `toml:"tlb_interval"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			Quantum:       Duration{kernel.DefaultQuantum},
			TLBBatchSize:  kernel.DefaultTLBBatchSize,
			ICIStallSpins: kernel.DefaultICIStallSpins,
		},
		Log: LogConfig{
			Level: `info`,
		},
		Workload: WorkloadConfig{
			Duration:    Duration{2 * time.Second},
			Producers:   2,
			Consumers:   2,
			Buffer:      16,
			Compute:     2,
			AlarmPeriod: Duration{50 * time.Millisecond},
			TLBInterval: Duration{100 * time.Millisecond},
		},
	}
}

// Load reads and validates the file at path, over [Default].
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("kconfig: load %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a TOML document, over [Default].
func Parse(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("kconfig: parse: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(names, `, `))
}

// Validate checks every field, reporting all problems at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	k := &c.Kernel
	check(k.Cores >= 0 && k.Cores <= kernel.MaxCores, "kernel.cores %d outside [0, %d]", k.Cores, kernel.MaxCores)
	check(k.Quantum.Duration > 0, "kernel.quantum must be positive")
	check(k.MemoryPages >= 0, "kernel.memory_pages must not be negative")
	check(k.TLBBatchSize > 0, "kernel.tlb_batch_size must be positive")
	check(k.ICIStallSpins > 0, "kernel.ici_stall_spins must be positive")

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	w := &c.Workload
	check(w.Duration.Duration > 0, "workload.duration must be positive")
	check(w.Producers >= 0 && w.Consumers >= 0 && w.Compute >= 0, "workload thread counts must not be negative")
	check((w.Producers == 0) == (w.Consumers == 0), "workload needs both producers and consumers, or neither")
	check(w.Buffer > 0, "workload.buffer must be positive")
	check(w.AlarmPeriod.Duration > 0, "workload.alarm_period must be positive")
	check(w.TLBInterval.Duration >= 0, "workload.tlb_interval must not be negative")

	return errors.Join(errs...)
}

// Options converts the kernel section into kernel options, with logger
// attached.
func (c *Config) Options(logger *logiface.Logger[logiface.Event]) []kernel.Option {
	k := &c.Kernel
	opts := []kernel.Option{
		kernel.WithLogger(logger),
		kernel.WithQuantum(k.Quantum.Duration),
		kernel.WithTLBBatchSize(k.TLBBatchSize),
		kernel.WithICIStallSpins(k.ICIStallSpins),
	}
	if k.Cores != 0 {
		opts = append(opts, kernel.WithCores(k.Cores))
	}
	if k.MemoryPages != 0 {
		opts = append(opts, kernel.WithAllocator(kernel.NewPageBudget(k.MemoryPages)))
	}
	return opts
}
