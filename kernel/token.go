package kernel

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

const (
	tokensPerPage = PageSize / 32
	maxTokenSlots = 1 << 16
)

// Token is an opaque, process-local handle to an object. Tokens encode a
// slot index and generation, obfuscated with a per-table salt, so stale
// or forged tokens are rejected.
type Token uint32

type tokenSlot struct {
	obj Object
	gen uint16
}

// TokenTable maps tokens to object references. Each live token holds one
// reference to its object.
type TokenTable struct {
	k     *Kernel
	slots []tokenSlot
	free  []uint32
	pages []Allocation
	mu    sync.Mutex
	salt  uint32
}

func (tt *TokenTable) init(k *Kernel) {
	tt.k = k
	tt.salt = rand.Uint32()
}

// Create returns a new token for obj, taking a reference to it.
func (tt *TokenTable) Create(obj Object) (Token, error) {
	if obj == nil {
		return 0, fmt.Errorf("%w: nil object", ErrInvalidArgument)
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if len(tt.free) == 0 {
		if err := tt.growLocked(); err != nil {
			return 0, err
		}
	}
	idx := tt.free[len(tt.free)-1]
	tt.free = tt.free[:len(tt.free)-1]
	slot := &tt.slots[idx]
	slot.gen++
	if slot.gen == 0 {
		slot.gen = 1
	}
	slot.obj = obj
	tt.k.objects.AddRef(obj)
	return Token((uint32(slot.gen)<<16 | idx) ^ tt.salt), nil
}

func (tt *TokenTable) growLocked() error {
	n := len(tt.slots)
	if n >= maxTokenSlots {
		return ErrOutOfTokens
	}
	a, err := tt.k.opts.allocator.Alloc(AllocTokenPage, 1)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfTokens, err)
	}
	tt.pages = append(tt.pages, a)
	grow := min(tokensPerPage, maxTokenSlots-n)
	tt.slots = append(tt.slots, make([]tokenSlot, grow)...)
	for i := n + grow - 1; i >= n; i-- {
		tt.free = append(tt.free, uint32(i))
	}
	return nil
}

func (tt *TokenTable) lookupLocked(tok Token) (*tokenSlot, error) {
	v := uint32(tok) ^ tt.salt
	idx, gen := v&0xFFFF, uint16(v>>16)
	if int(idx) >= len(tt.slots) {
		return nil, ErrBadToken
	}
	slot := &tt.slots[idx]
	if slot.obj == nil || slot.gen != gen {
		return nil, ErrBadToken
	}
	return slot, nil
}

// Translate returns the object tok refers to, with a new reference.
func (tt *TokenTable) Translate(tok Token) (Object, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	slot, err := tt.lookupLocked(tok)
	if err != nil {
		return nil, err
	}
	tt.k.objects.AddRef(slot.obj)
	return slot.obj, nil
}

// Destroy invalidates tok, releasing its reference.
func (tt *TokenTable) Destroy(tok Token) error {
	tt.mu.Lock()
	slot, err := tt.lookupLocked(tok)
	if err != nil {
		tt.mu.Unlock()
		return err
	}
	obj := slot.obj
	slot.obj = nil
	tt.free = append(tt.free, (uint32(tok)^tt.salt)&0xFFFF)
	tt.mu.Unlock()
	tt.k.objects.Release(obj)
	return nil
}

// Len returns the number of live tokens.
func (tt *TokenTable) Len() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.slots) - len(tt.free)
}

// close releases every live token and frees the table's pages.
func (tt *TokenTable) close() {
	tt.mu.Lock()
	var objs []Object
	for i := range tt.slots {
		if obj := tt.slots[i].obj; obj != nil {
			objs = append(objs, obj)
		}
	}
	tt.slots, tt.free = nil, nil
	pages := tt.pages
	tt.pages = nil
	tt.mu.Unlock()

	for _, obj := range objs {
		tt.k.objects.Release(obj)
	}
	for _, a := range pages {
		tt.k.opts.allocator.Free(a)
	}
}
