// Package sched implements the strict round-robin scheduler: a single
// global instance holding a FIFO ready queue, a table of every live process
// keyed by PID, and a pointer to whichever process is currently running.
package sched

import (
	"nyx/kernel"
	"nyx/kernel/process"
	"nyx/kernel/sync"
	"sync/atomic"
)

var (
	errNoReadyProcess = &kernel.Error{Module: "sched", Message: "no ready process to dispatch"}
	errUnknownPID     = &kernel.Error{Module: "sched", Message: "unknown pid"}
)

// the following is mocked by tests.
var contextSwitchFn = contextSwitch

// onDispatchFn, when non-nil, is invoked with a process's KernelStackTop
// immediately before a context switch into it. syscall.Init installs this
// to keep the per-CPU SYSCALL entry stack pointer in sync with whichever
// process is currently running; nil (the default) skips it entirely, which
// is what every test exercising Tick/dispatchNext relies on.
var onDispatchFn func(kernelStackTop uintptr)

// SetOnDispatch installs fn as the dispatch hook described above.
func SetOnDispatch(fn func(kernelStackTop uintptr)) {
	onDispatchFn = fn
}

// nextPID is the scheduler's monotonically increasing, never-reused-within-
// a-boot PID source.
var nextPID uint32

// AllocatePID returns the next PID, starting at 1 so that 0 can be reserved
// to mean "no process"/"kernel".
func AllocatePID() uint32 {
	return atomic.AddUint32(&nextPID, 1)
}

// Scheduler is the single global round-robin scheduler instance.
type Scheduler struct {
	lock sync.Spinlock

	ready   []*process.Process
	table   map[uint32]*process.Process
	current *process.Process
}

// Global is the system-wide scheduler instance, initialized by kmain.
var Global Scheduler

// Init prepares the scheduler's internal bookkeeping. It must be called
// exactly once, before AddProcess or Tick.
func (s *Scheduler) Init() {
	s.lock.Acquire()
	defer s.lock.Release()

	s.ready = nil
	s.table = make(map[uint32]*process.Process)
	s.current = nil
}

// AddProcess registers p with the scheduler and marks it Ready, making it
// eligible for dispatch on a future Tick.
func (s *Scheduler) AddProcess(p *process.Process) *kernel.Error {
	s.lock.Acquire()
	defer s.lock.Release()

	if err := p.SetState(process.StateReady); err != nil {
		return err
	}

	s.table[p.PID] = p
	s.ready = append(s.ready, p)
	return nil
}

// Current returns the process currently occupying the CPU, or nil if the
// scheduler has not yet dispatched anything.
func (s *Scheduler) Current() *process.Process {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.current
}

// Lookup returns the process registered under pid, or nil if none exists.
func (s *Scheduler) Lookup(pid uint32) *process.Process {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.table[pid]
}

// Tick performs one round-robin dispatch step: the current process (if
// still Ready or Running) is re-enqueued at the tail, the head of the ready
// queue is dequeued, and a context switch transfers control to it.
func (s *Scheduler) Tick() *kernel.Error {
	s.lock.Acquire()

	prev := s.current
	if prev != nil && (prev.State == process.StateReady || prev.State == process.StateRunning) {
		if prev.State == process.StateRunning {
			if err := prev.SetState(process.StateReady); err != nil {
				s.lock.Release()
				return err
			}
		}
		s.ready = append(s.ready, prev)
	}

	if len(s.ready) == 0 {
		s.current = nil
		s.lock.Release()
		return errNoReadyProcess
	}

	next := s.ready[0]
	s.ready = s.ready[1:]

	if err := next.SetState(process.StateRunning); err != nil {
		s.lock.Release()
		return err
	}
	s.current = next

	s.lock.Release()

	var fromCtx *process.Context
	if prev != nil {
		fromCtx = &prev.Context
	}
	if onDispatchFn != nil {
		onDispatchFn(next.KernelStackTop)
	}
	contextSwitchFn(fromCtx, &next.Context, next.AddressSpace.TopFrame().Address())

	return nil
}

// Yield voluntarily gives up the remainder of the current process's time
// slice. It is the Tick entry point used by sys_yield.
func (s *Scheduler) Yield() *kernel.Error {
	return s.Tick()
}

// Block transitions the current process to Blocked and immediately
// dispatches the next Ready process, as a syscall handler does when it must
// wait for an event.
func (s *Scheduler) Block() *kernel.Error {
	s.lock.Acquire()
	prev := s.current
	if prev == nil {
		s.lock.Release()
		return errNoReadyProcess
	}
	if err := prev.SetState(process.StateBlocked); err != nil {
		s.lock.Release()
		return err
	}
	s.lock.Release()

	return s.dispatchNext(prev)
}

// Unblock transitions a Blocked process back to Ready and re-enqueues it.
func (s *Scheduler) Unblock(pid uint32) *kernel.Error {
	s.lock.Acquire()
	defer s.lock.Release()

	p, ok := s.table[pid]
	if !ok {
		return errUnknownPID
	}
	if err := p.SetState(process.StateReady); err != nil {
		return err
	}
	s.ready = append(s.ready, p)
	return nil
}

// dispatchNext dequeues and switches to the next Ready process without
// re-enqueuing prev, used when prev has already left the Ready/Running set
// (Blocked or Terminated).
func (s *Scheduler) dispatchNext(prev *process.Process) *kernel.Error {
	s.lock.Acquire()

	if len(s.ready) == 0 {
		s.current = nil
		s.lock.Release()
		return errNoReadyProcess
	}

	next := s.ready[0]
	s.ready = s.ready[1:]

	if err := next.SetState(process.StateRunning); err != nil {
		s.lock.Release()
		return err
	}
	s.current = next
	s.lock.Release()

	var fromCtx *process.Context
	if prev != nil {
		fromCtx = &prev.Context
	}
	if onDispatchFn != nil {
		onDispatchFn(next.KernelStackTop)
	}
	contextSwitchFn(fromCtx, &next.Context, next.AddressSpace.TopFrame().Address())

	return nil
}

// Exit terminates the current process with the given exit code and
// dispatches the next Ready process, as sys_exit does.
func (s *Scheduler) Exit(code int32) *kernel.Error {
	s.lock.Acquire()
	prev := s.current
	if prev == nil {
		s.lock.Release()
		return errNoReadyProcess
	}
	s.lock.Release()

	if err := prev.Exit(code); err != nil {
		return err
	}

	return s.dispatchNext(prev)
}

// ReadyLen returns the number of processes currently waiting in the ready
// queue. Exposed so round-robin fairness can be asserted directly in tests.
func (s *Scheduler) ReadyLen() int {
	s.lock.Acquire()
	defer s.lock.Release()
	return len(s.ready)
}
