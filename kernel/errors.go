package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by operations that require the scheduler,
	// before [Kernel.Start] or after [Kernel.Shutdown].
	ErrNotStarted = errors.New("kernel: not started")

	// ErrAlreadyStarted is returned by a second call to [Kernel.Start].
	ErrAlreadyStarted = errors.New("kernel: already started")

	// ErrHalted is returned once the kernel has halted, following a kernel
	// panic.
	ErrHalted = errors.New("kernel: halted")

	// ErrInvalidArgument indicates a contract violation by the caller.
	ErrInvalidArgument = errors.New("kernel: invalid argument")

	// ErrAlreadyExists is returned when registering an object, or a name,
	// that is already registered.
	ErrAlreadyExists = errors.New("kernel: already exists")

	// ErrNotFound is returned by name lookups that find nothing.
	ErrNotFound = errors.New("kernel: not found")

	// ErrWaitOnSelf is returned when a thread attempts to wait on itself, or
	// on its own process.
	ErrWaitOnSelf = errors.New("kernel: thread cannot wait on itself")

	// ErrSemaphoreOverflow is returned by a semaphore release that would take
	// the count past its maximum. The release has no effect.
	ErrSemaphoreOverflow = errors.New("kernel: semaphore count would exceed maximum")

	// ErrNotOwner is returned when leaving a critical section that the
	// calling thread does not own.
	ErrNotOwner = errors.New("kernel: critical section not owned by caller")

	// ErrOutOfMemory is returned (wrapped) when the page allocator cannot
	// satisfy a request.
	ErrOutOfMemory = errors.New("kernel: out of memory")

	// ErrBadToken is returned when translating or destroying a token that
	// does not refer to a live slot.
	ErrBadToken = errors.New("kernel: invalid token")

	// ErrOutOfTokens is returned when a process token table is full.
	ErrOutOfTokens = errors.New("kernel: token table full")
)

// KernelPanic is the value the kernel panics with, and the error
// [Kernel.Err] reports, after an invariant violation.
type KernelPanic struct {
	Reason string
	Core   CoreID
}

func (e *KernelPanic) Error() string {
	return fmt.Sprintf("kernel: panic on core %d: %s", e.Core, e.Reason)
}

// Is matches [ErrHalted].
func (e *KernelPanic) Is(target error) bool {
	return target == ErrHalted
}
