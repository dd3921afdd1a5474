package gate

import (
	"io"
	"nyx/kernel"
	"nyx/kernel/kfmt"
	"unsafe"
)

// Registers contains a snapshot of all register values when an exception or
// interrupt occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info holds the error code the CPU pushes for the handful of
	// exceptions that have one (GPFException, PageFaultException, ...),
	// or 0 for every vector that doesn't push one.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)
)

// idtEntry is a single 64-bit-mode interrupt-gate descriptor. Field layout
// mirrors the hardware format exactly (no Go-side padding): a 64-bit
// handler address split across three pieces, a code-segment selector, and
// an IST/type/DPL/present byte pair.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// present64BitInterruptGate marks a descriptor present, DPL 0, 64-bit
// interrupt gate (type 0xE) — the only gate type this kernel installs.
// Hardware clears IF on entry through an interrupt gate, so every handler
// this table dispatches to already runs with interrupts disabled.
const present64BitInterruptGate = 0x8E

var (
	idt [256]idtEntry

	// idtDescriptor is the raw 10-byte operand LIDT expects: a 2-byte
	// limit immediately followed by an 8-byte base, with no padding
	// between them. A Go struct of {uint16; uint64} can't express that
	// layout (the uint64 would be aligned to its own 8-byte boundary), so
	// this is filled in by hand, byte by byte, in installIDT.
	idtDescriptor [10]byte

	// handlerTable holds the Go callback HandleInterrupt registered for
	// each vector, consulted by routeInterrupt once the raw machine state
	// has been captured into a Registers value.
	handlerTable [256]func(*Registers)

	// istTable holds the interrupt-stack-table offset HandleInterrupt was
	// given for each vector (0 meaning "don't switch stacks").
	istTable [256]uint8

	// trapVector is the single-core scratch cell each per-vector stub uses
	// to hand the trapping vector number to commonStub: interrupts stay
	// masked for the full entry-to-iret duration of a gate (interrupt
	// gates clear IF on entry), so there is never a second in-flight trap
	// to race against it.
	trapVector uint8

	errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}
)

// entryTableBase returns the address of entryTable, a file-local,
// assembly-only table of 256 pointers (one per IDT vector) to that
// vector's raw entry stub. Implemented in gate_amd64.s; kept out of Go
// entirely since its contents are link-time constants no Go declaration
// could express.
func entryTableBase() uintptr

// Init builds the IDT from entryTable and loads it into the CPU.
func Init() {
	installIDT()
}

// HandleInterrupt registers the Go function to invoke when interruptNumber
// traps, and selects the interrupt-stack-table entry (0 to keep using
// whatever stack was active) the CPU switches to before entering the
// handler. It may be called again to replace a handler, and is safe to
// call after Init since routeInterrupt re-reads handlerTable on every
// trap rather than baking the choice into the IDT itself.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) {
	handlerTable[intNumber] = handler
	istTable[intNumber] = istOffset
	idt[intNumber].ist = istOffset & 0x7
}

// installIDT populates every one of the 256 IDT slots with the address of
// its generated assembly stub and loads the resulting table with LIDT.
// Every slot is wired from the start, whether or not a Go handler has been
// registered for it yet: routeInterrupt, not the gate descriptor, is what
// decides whether a trapping vector has a handler.
func installIDT() {
	stubs := (*[256]uintptr)(unsafe.Pointer(entryTableBase()))
	for i := range idt {
		target := stubs[i]
		idt[i] = idtEntry{
			offsetLow:  uint16(target),
			selector:   uint16(KernelCS),
			ist:        istTable[i],
			typeAttr:   present64BitInterruptGate,
			offsetMid:  uint16(target >> 16),
			offsetHigh: uint32(target >> 32),
		}
	}

	limit := uint16(unsafe.Sizeof(idt) - 1)
	base := uint64(uintptr(unsafe.Pointer(&idt[0])))
	idtDescriptor[0] = byte(limit)
	idtDescriptor[1] = byte(limit >> 8)
	for i := 0; i < 8; i++ {
		idtDescriptor[2+i] = byte(base >> (8 * uint(i)))
	}
	loadIDT(uintptr(unsafe.Pointer(&idtDescriptor[0])))
}

// loadIDT executes LIDT against the descriptor at idtrAddr. Implemented in
// gate_amd64.s.
func loadIDT(idtrAddr uintptr)

// routeInterrupt is the only Go-side call made by commonStub, the shared
// tail in gate_amd64.s that every per-vector stub jumps to after saving the
// trapping vector into trapVector with the CPU's error code (or a
// synthesized 0) already on the stack. It is an ordinary
// (non-closure) function so the assembly can reach it through the
// compiler's stack-argument ABI0 entry point rather than invoking a stored
// func value directly from asm. It looks up the registered handler for
// vector and, if any is registered, invokes it with regs so any changes the
// handler makes are visible to commonStub's restore-and-iret
// sequence; an unregistered vector is always a fatal condition on this
// kernel, so it panics instead of returning.
func routeInterrupt(regs *Registers, vector uint64) {
	if h := handlerTable[vector]; h != nil {
		h(regs)
		return
	}
	kfmt.Printf("unhandled interrupt %d, error code %x\n", vector, regs.Info)
	regs.DumpTo(kfmt.GetOutputSink())
	kfmt.Panic(errUnhandledInterrupt)
}
