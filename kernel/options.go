package kernel

import (
	"fmt"
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// MaxCores is the largest supported core count, bounded by the width
	// of [AffinityMask].
	MaxCores = 64

	// DefaultQuantum is the time slice granted to a running thread.
	DefaultQuantum = 10 * time.Millisecond

	// DefaultTLBBatchSize bounds the number of page ranges purged per pass.
	DefaultTLBBatchSize = 32

	// DefaultICIStallSpins is the number of yields a sender makes waiting on a
	// busy mailbox slot before it logs a stall warning.
	DefaultICIStallSpins = 1 << 16
)

// kernelOptions holds configuration for [New].
type kernelOptions struct {
	logger        *logiface.Logger[logiface.Event]
	allocator     Allocator
	tlbHook       func(core CoreID, r PageRange)
	disposeHook   func(obj Object)
	cores         int
	quantum       time.Duration
	tlbBatchSize  int
	iciStallSpins int
}

// Option configures a [Kernel].
type Option interface {
	applyKernel(*kernelOptions) error
}

type optionImpl struct {
	applyKernelFunc func(*kernelOptions) error
}

func (o *optionImpl) applyKernel(opts *kernelOptions) error {
	return o.applyKernelFunc(opts)
}

// WithCores sets the number of logical cores, which must be in [1, MaxCores].
// Defaults to runtime.NumCPU(), capped at MaxCores.
func WithCores(n int) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		if n < 1 || n > MaxCores {
			return fmt.Errorf("%w: core count %d outside [1, %d]", ErrInvalidArgument, n, MaxCores)
		}
		opts.cores = n
		return nil
	}}
}

// WithQuantum sets the default time slice for new threads.
func WithQuantum(d time.Duration) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		if d <= 0 {
			return fmt.Errorf("%w: quantum must be positive", ErrInvalidArgument)
		}
		opts.quantum = d
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithAllocator sets the page allocator backing kernel objects.
// Defaults to [DefaultPageBudget].
func WithAllocator(a Allocator) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.allocator = a
		return nil
	}}
}

// WithTLBHook registers a function called on each core that receives a TLB
// invalidation, from that core's loop.
func WithTLBHook(fn func(core CoreID, r PageRange)) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.tlbHook = fn
		return nil
	}}
}

// WithDisposeHook registers a function called exactly once per disposed
// object, after its waiters have been abandoned and before its storage is
// released.
func WithDisposeHook(fn func(obj Object)) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.disposeHook = fn
		return nil
	}}
}

// WithTLBBatchSize bounds how many page ranges are merged into one purge.
func WithTLBBatchSize(n int) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		if n < 1 {
			return fmt.Errorf("%w: TLB batch size must be positive", ErrInvalidArgument)
		}
		opts.tlbBatchSize = n
		return nil
	}}
}

// WithICIStallSpins sets how many times a sender yields on a busy mailbox
// slot between stall warnings.
func WithICIStallSpins(n int) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		if n < 1 {
			return fmt.Errorf("%w: ICI stall spins must be positive", ErrInvalidArgument)
		}
		opts.iciStallSpins = n
		return nil
	}}
}

func resolveOptions(opts []Option) (*kernelOptions, error) {
	cfg := &kernelOptions{
		cores:         min(runtime.NumCPU(), MaxCores),
		quantum:       DefaultQuantum,
		tlbBatchSize:  DefaultTLBBatchSize,
		iciStallSpins: DefaultICIStallSpins,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.allocator == nil {
		cfg.allocator = DefaultPageBudget()
	}
	return cfg, nil
}
