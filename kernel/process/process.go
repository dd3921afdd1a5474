// Package process implements the process and CPU-context model: a process
// owns a private address space, a kernel stack
// carved from the kernel heap, a pending-signal table, and the saved
// register file the scheduler's context switch consumes and produces.
package process

import (
	"nyx/kernel"
	"nyx/kernel/gate"
	"nyx/kernel/mem"
	"nyx/kernel/mem/heap"
	"nyx/kernel/mem/pmm"
	"nyx/kernel/mem/vmm"
)

// KernelStackSize is the size of the kernel stack allocated for every new
// process.
const KernelStackSize = 16 * mem.Kb

var (
	errNoKernelStack = &kernel.Error{Module: "process", Message: "failed to allocate kernel stack"}
)

// the following are mocked by tests.
var (
	allocFrameFn      = pmm.FrameAllocator.AllocFrame
	newAddressSpaceFn = vmm.New
	heapAllocateFn    = heap.Kernel.Allocate
	heapFreeFn        = heap.Kernel.Free
	freeFrameFn       = pmm.FrameAllocator.FreeFrame

	cloneKernelHalfFn = func(as *vmm.AddressSpace) { as.CloneKernelHalf(&vmm.Kernel) }
)

// Context is the full register snapshot consumed and produced by the
// assembly context-switch routine. It is the same
// shape gate.Registers uses to capture a syscall/interrupt entry, since both
// describe exactly "the integer register file plus the iret frame".
type Context = gate.Registers

// Process is a single schedulable unit of execution.
type Process struct {
	PID       uint32
	ParentPID uint32
	State     State
	ExitCode  int32

	Context Context

	UserStackTop   uintptr
	KernelStackTop uintptr
	kernelStackPtr uintptr

	AddressSpace vmm.AddressSpace
	Signals      SignalTable

	// ValidUserState is false until the ELF loader (or an equivalent
	// bootstrap path) has populated Context with a legitimate user-mode
	// entry point, stack pointer and segment selectors. The scheduler must
	// not dispatch a process with ValidUserState == false.
	ValidUserState bool
}

// New allocates a 16 KiB kernel stack from the kernel heap and a private
// top-level page table cloned from the kernel's upper half. The caller
// supplies pid/parentPID, since PID allocation is
// the scheduler's responsibility.
func New(pid, parentPID uint32) (*Process, *kernel.Error) {
	stack, err := heapAllocateFn(KernelStackSize)
	if err != nil {
		return nil, errNoKernelStack
	}

	as, err := newAddressSpaceFn(allocFrameFn)
	if err != nil {
		heapFreeFn(stack)
		return nil, err
	}
	cloneKernelHalfFn(&as)

	p := &Process{
		PID:            pid,
		ParentPID:      parentPID,
		State:          StateNew,
		AddressSpace:   as,
		UserStackTop:   vmm.UserStackTop,
		kernelStackPtr: stack,
		KernelStackTop: stack + uintptr(KernelStackSize),
	}
	return p, nil
}

// SetState transitions the process to to, rejecting any edge not present in
// the process lifecycle graph.
func (p *Process) SetState(to State) *kernel.Error {
	if err := transition(p.State, to); err != nil {
		return err
	}
	p.State = to
	return nil
}

// Exit transitions the process to Terminated with the given exit code and
// immediately frees its kernel stack. The address space is only released
// once a future Reap call claims the exit code.
func (p *Process) Exit(code int32) *kernel.Error {
	if err := p.SetState(StateTerminated); err != nil {
		return err
	}
	p.ExitCode = code

	heapFreeFn(p.kernelStackPtr)
	p.kernelStackPtr = 0
	p.KernelStackTop = 0
	return nil
}

// Reap releases the process's address space. It must only be called once,
// after a wait() has observed Terminated and consumed ExitCode.
func (p *Process) Reap() {
	freeFrameFn(p.AddressSpace.TopFrame())
}

// Destroy releases a process's kernel stack and address space immediately,
// bypassing the normal lifecycle transitions. It exists for a process that
// fails to finish initializing (e.g. the ELF loader rejecting a malformed
// image) before ever being registered with the scheduler, where neither
// Exit nor Reap's state requirements apply.
func (p *Process) Destroy() {
	if p.kernelStackPtr != 0 {
		heapFreeFn(p.kernelStackPtr)
		p.kernelStackPtr = 0
		p.KernelStackTop = 0
	}
	freeFrameFn(p.AddressSpace.TopFrame())
}

// SendSignal records signal n as pending for delivery the next time this
// process returns to user mode.
func (p *Process) SendSignal(n int) *kernel.Error {
	return p.Signals.Send(n)
}
