package kernel

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// KernelState is the lifecycle state of a [Kernel].
//
//	KernelCreated  → KernelRunning   [Start]
//	KernelRunning  → KernelStopping  [Shutdown]
//	KernelRunning  → KernelHalted    [kernel panic]
//	KernelStopping → KernelStopped   [Shutdown complete]
//
// KernelHalted and KernelStopped are terminal.
type KernelState uint64

const (
	KernelCreated KernelState = iota
	KernelRunning
	KernelStopping
	KernelStopped
	KernelHalted
)

func (s KernelState) String() string {
	switch s {
	case KernelCreated:
		return "Created"
	case KernelRunning:
		return "Running"
	case KernelStopping:
		return "Stopping"
	case KernelStopped:
		return "Stopped"
	case KernelHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// fastState is a padded, CAS-driven state word.
type fastState struct { // betteralign:ignore
	_ cpu.CacheLinePad
	v atomic.Uint64
	_ cpu.CacheLinePad
}

func (s *fastState) Load() KernelState { return KernelState(s.v.Load()) }

func (s *fastState) TryTransition(from, to KernelState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// TransitionAny moves to the target state from the first of validFrom that
// matches, reporting whether any did.
func (s *fastState) TransitionAny(validFrom []KernelState, to KernelState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the kernel has stopped or halted.
func (s *fastState) IsTerminal() bool {
	state := s.Load()
	return state == KernelStopped || state == KernelHalted
}

// ThreadState is the run state of a [Thread].
//
//	ThreadInstantiated → ThreadReady      [create]
//	ThreadReady        → ThreadRunning    [distribution, quantum swap]
//	ThreadRunning      → ThreadReady      [preemption, quantum expiry]
//	ThreadRunning      → ThreadWaiting    [blocking wait, contended critical section]
//	ThreadWaiting      → ThreadReady      [signal, timeout, abandonment, hand-off]
//	ThreadRunning      → ThreadExited     [exit]
//	ThreadExited       → ThreadCleanup    [last reference released]
type ThreadState uint32

const (
	ThreadInstantiated ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadWaiting
	ThreadExited
	ThreadCleanup
)

func (s ThreadState) String() string {
	switch s {
	case ThreadInstantiated:
		return "Instantiated"
	case ThreadReady:
		return "Ready"
	case ThreadRunning:
		return "Running"
	case ThreadWaiting:
		return "Waiting"
	case ThreadExited:
		return "Exited"
	case ThreadCleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the thread has finished executing.
func (s ThreadState) Terminal() bool { return s >= ThreadExited }
