package kernel

import (
	"fmt"
	"sync"

	"github.com/pbnjay/memory"
)

const (
	// PageSize is the unit of allocation.
	PageSize = 4096

	// ObjectPages is the storage of a kernel object.
	ObjectPages = 1

	// ThreadPages is the storage of a thread: its control block and stack.
	ThreadPages = 4

	minDefaultPages = 1 << 12
)

// AllocKind tags an allocation with its use.
type AllocKind uint8

const (
	AllocObject AllocKind = iota
	AllocThread
	AllocTokenPage
)

func (k AllocKind) String() string {
	switch k {
	case AllocObject:
		return "Object"
	case AllocThread:
		return "Thread"
	case AllocTokenPage:
		return "TokenPage"
	default:
		return fmt.Sprintf("AllocKind(%d)", uint8(k))
	}
}

func allocKindFor(t ObjectType) AllocKind {
	if t == ObjectTypeThread {
		return AllocThread
	}
	return AllocObject
}

// Allocation is a grant of pages from an [Allocator]. The zero value owns
// nothing.
type Allocation struct {
	ID    uint64
	Pages int
	Kind  AllocKind
}

// Allocator is the page allocator backing kernel objects.
type Allocator interface {
	// Alloc returns an allocation of the given number of pages, or an error
	// wrapping ErrOutOfMemory.
	Alloc(kind AllocKind, pages int) (Allocation, error)
	// Free returns an allocation. Freeing the zero Allocation is a no-op.
	Free(a Allocation)
}

// PageBudget is an Allocator that enforces a fixed page limit.
type PageBudget struct {
	live  map[uint64]Allocation
	mu    sync.Mutex
	limit int
	used  int
	next  uint64
}

var _ Allocator = (*PageBudget)(nil)

// NewPageBudget returns an allocator of at most limit pages.
func NewPageBudget(limit int) *PageBudget {
	return &PageBudget{limit: limit, live: make(map[uint64]Allocation)}
}

// DefaultPageBudget sizes a budget at 1/64th of physical memory.
func DefaultPageBudget() *PageBudget {
	pages := int(memory.TotalMemory() / PageSize / 64)
	return NewPageBudget(max(pages, minDefaultPages))
}

func (b *PageBudget) Alloc(kind AllocKind, pages int) (Allocation, error) {
	if pages < 1 {
		return Allocation{}, fmt.Errorf("%w: allocation of %d pages", ErrInvalidArgument, pages)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+pages > b.limit {
		return Allocation{}, fmt.Errorf("%w: %d %s pages requested, %d of %d in use", ErrOutOfMemory, pages, kind, b.used, b.limit)
	}
	b.next++
	a := Allocation{ID: b.next, Pages: pages, Kind: kind}
	b.live[a.ID] = a
	b.used += pages
	return a, nil
}

func (b *PageBudget) Free(a Allocation) {
	if a.ID == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.live[a.ID]; !ok {
		return
	}
	delete(b.live, a.ID)
	b.used -= a.Pages
}

// Used returns the number of allocated pages.
func (b *PageBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Limit returns the page limit.
func (b *PageBudget) Limit() int { return b.limit }

// Live returns the number of outstanding allocations.
func (b *PageBudget) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}
