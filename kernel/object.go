package kernel

import (
	"fmt"
	"math"
	"sync"
)

// ObjectType identifies the concrete type of an [Object].
type ObjectType uint8

const (
	ObjectTypeNone ObjectType = iota
	ObjectTypeEvent
	ObjectTypeSemaphore
	ObjectTypeAlarm
	ObjectTypeThread
	ObjectTypeProcess
)

func (t ObjectType) String() string {
	switch t {
	case ObjectTypeEvent:
		return "Event"
	case ObjectTypeSemaphore:
		return "Semaphore"
	case ObjectTypeAlarm:
		return "Alarm"
	case ObjectTypeThread:
		return "Thread"
	case ObjectTypeProcess:
		return "Process"
	default:
		return fmt.Sprintf("ObjectType(%d)", uint8(t))
	}
}

// ObjectFlags modify reference counting and storage of an object.
type ObjectFlags uint8

const (
	// FlagPermanent objects are never disposed, and skip reference counting.
	FlagPermanent ObjectFlags = 1 << iota
	// FlagEmbedded objects live inside another object, and own no storage.
	FlagEmbedded
)

// ObjectID is unique for the lifetime of a kernel.
type ObjectID uint64

// Object is a waitable, reference counted kernel object. The
// implementations are [*Event], [*Semaphore], [*Alarm], [*Thread] and
// [*Process].
type Object interface {
	Header() *ObjectHeader
	isObject()
}

// ObjectHeader is the common part of every kernel object.
type ObjectHeader struct {
	// guarded by ObjectManager.mu
	name *objectName
	refs int64

	// scheduler-owned
	waiters waitList

	alloc       Allocation
	disposeItem SchedItem
	id          ObjectID
	typ         ObjectType
	flags       ObjectFlags
	disposed    bool
}

func (h *ObjectHeader) Header() *ObjectHeader { return h }

func (h *ObjectHeader) ID() ObjectID { return h.id }

func (h *ObjectHeader) Type() ObjectType { return h.typ }

func (h *ObjectHeader) Flags() ObjectFlags { return h.flags }

// objectName binds a name to an object, holding one reference to it.
type objectName struct {
	target Object
	text   string
}

// initObject prepares h for registration, with a single reference owned by
// the creator.
func (k *Kernel) initObject(h *ObjectHeader, typ ObjectType, flags ObjectFlags, pages int) error {
	if flags&FlagEmbedded == 0 && pages > 0 {
		a, err := k.opts.allocator.Alloc(allocKindFor(typ), pages)
		if err != nil {
			return err
		}
		h.alloc = a
	}
	h.id = ObjectID(k.nextObjectID.Add(1))
	h.typ = typ
	h.flags = flags
	h.refs = 1
	if flags&FlagPermanent != 0 {
		h.refs = math.MaxInt64
	}
	return nil
}

// abortObject frees the storage of an object that failed registration.
func (k *Kernel) abortObject(h *ObjectHeader) {
	if h.flags&FlagEmbedded == 0 {
		k.opts.allocator.Free(h.alloc)
	}
	h.alloc = Allocation{}
}

// ObjectManager is the registry of live objects and their names. Its lock
// is held only for map and reference count updates, never while disposing.
type ObjectManager struct {
	k       *Kernel
	objects map[ObjectID]Object
	names   map[string]*objectName
	mu      sync.Mutex
}

func newObjectManager(k *Kernel) *ObjectManager {
	return &ObjectManager{
		k:       k,
		objects: make(map[ObjectID]Object),
		names:   make(map[string]*objectName),
	}
}

// Add registers obj, and binds it to name if name is non-empty. The name
// binding holds its own reference, dropped as soon as it is the last
// reference besides one other.
func (m *ObjectManager) Add(obj Object, name string) error {
	h := obj.Header()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[h.id]; ok {
		return fmt.Errorf("%w: object %d", ErrAlreadyExists, h.id)
	}
	if name != `` {
		if _, ok := m.names[name]; ok {
			return fmt.Errorf("%w: name %q", ErrAlreadyExists, name)
		}
		n := &objectName{target: obj, text: name}
		m.names[name] = n
		h.name = n
		if h.flags&FlagPermanent == 0 {
			h.refs++
		}
	}
	m.objects[h.id] = obj
	return nil
}

// Lookup returns the object bound to name, with a new reference.
func (m *ObjectManager) Lookup(name string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	m.addRefLocked(n.target.Header())
	return n.target, nil
}

// Get returns the object with the given id, with a new reference.
func (m *ObjectManager) Get(id ObjectID) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", ErrNotFound, id)
	}
	m.addRefLocked(obj.Header())
	return obj, nil
}

// NameOf returns the name bound to obj, or the empty string.
func (m *ObjectManager) NameOf(obj Object) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := obj.Header().name; n != nil {
		return n.text
	}
	return ``
}

// Len returns the number of registered objects.
func (m *ObjectManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// RefCount returns the current reference count of obj.
func (m *ObjectManager) RefCount(obj Object) int64 {
	h := obj.Header()
	if h.flags&FlagPermanent != 0 {
		return h.refs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return h.refs
}

// AddRef takes a new reference to obj, which must still be live.
func (m *ObjectManager) AddRef(obj Object) {
	h := obj.Header()
	if h.flags&FlagPermanent != 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addRefLocked(h)
}

func (m *ObjectManager) addRefLocked(h *ObjectHeader) {
	if h.flags&FlagPermanent != 0 {
		return
	}
	if h.refs <= 0 {
		// the caller's deferred unlock releases m.mu as the panic unwinds
		m.k.panicf(0, "%s object %d referenced after disposal", h.typ, h.id)
	}
	h.refs++
}

// Release drops a reference to obj, reporting whether it was the last.
// When only the name binding and one other reference remain, the name is
// detached first. A released object is disposed through the scheduler,
// abandoning any waiters, exactly once.
func (m *ObjectManager) Release(obj Object) bool {
	h := obj.Header()
	if h.flags&FlagPermanent != 0 {
		return false
	}

	m.mu.Lock()
	h.refs--
	switch {
	case h.refs < 0:
		m.mu.Unlock()
		m.k.panicf(0, "%s object %d released with no references", h.typ, h.id)

	case h.refs == 1 && h.name != nil:
		n := h.name
		h.name = nil
		delete(m.names, n.text)
		n.target = nil
		m.mu.Unlock()
		// the binding's reference
		return m.Release(obj)

	case h.refs == 0:
		if h.disposed {
			m.mu.Unlock()
			m.k.panicf(0, "%s object %d disposed twice", h.typ, h.id)
		}
		h.disposed = true
		delete(m.objects, h.id)
		m.mu.Unlock()
		m.k.dispose(obj)
		return true
	}
	m.mu.Unlock()
	return false
}

// dispose routes a released object through the scheduler, or destroys it
// directly if no scheduler is running.
func (k *Kernel) dispose(obj Object) {
	if k.state.Load() != KernelRunning {
		k.destroy(obj)
		return
	}
	h := obj.Header()
	h.disposeItem.kind = ItemObjectDispose
	h.disposeItem.obj = obj
	k.submit(&h.disposeItem)
	c := k.schedulingCore()
	c.post(CoreEventSchedulerCall, c.id)
}

func (p *schedPass) execObjectDispose(it *SchedItem) bool {
	obj := it.obj
	it.obj = nil
	switch o := obj.(type) {
	case *Alarm:
		p.s.timers.remove(&o.timer)
		o.mounted = false
	case *Semaphore:
		o.closing = true
	}
	p.abandonWaiters(waitHeader(obj))
	p.k.destroy(obj)
	return true
}

// destroy runs the type specific destructor and frees storage.
func (k *Kernel) destroy(obj Object) {
	h := obj.Header()
	switch o := obj.(type) {
	case *Event, *Semaphore, *Alarm:
	case *Thread:
		o.setState(ThreadCleanup)
		k.objects.Release(o.proc)
	case *Process:
		o.tokens.close()
	default:
		k.panicf(0, "dispose of unknown object type %T", obj)
	}
	if hook := k.opts.disposeHook; hook != nil {
		hook(obj)
	}
	k.abortObject(h)
	k.stats.disposed.Add(1)
	k.log.Debug().
		Uint64(`object`, uint64(h.id)).
		Stringer(`type`, h.typ).
		Log(`object disposed`)
}
