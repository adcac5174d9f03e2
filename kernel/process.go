package kernel

import (
	"sync/atomic"
)

// Process groups threads, and owns a token table. It is signaled once its
// last thread exits.
type Process struct {
	ObjectHeader
	k      *Kernel
	tokens TokenTable
	// live threads, scheduler-owned
	live   int
	exited atomic.Bool
	pid    uint32
}

func (*Process) isObject() {}

// CreateProcess creates and registers a process, optionally named. The
// caller owns the returned reference.
func (k *Kernel) CreateProcess(name string) (*Process, error) {
	return k.newProcess(name, 0)
}

func (k *Kernel) newProcess(name string, flags ObjectFlags) (*Process, error) {
	p := &Process{k: k, pid: k.nextPID.Add(1)}
	if err := k.initObject(&p.ObjectHeader, ObjectTypeProcess, flags, ObjectPages); err != nil {
		return nil, err
	}
	p.tokens.init(k)
	if err := k.objects.Add(p, name); err != nil {
		k.abortObject(&p.ObjectHeader)
		return nil, err
	}
	return p, nil
}

// PID returns the process id.
func (p *Process) PID() uint32 { return p.pid }

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool { return p.exited.Load() }

// Tokens returns the process's handle table.
func (p *Process) Tokens() *TokenTable { return &p.tokens }
