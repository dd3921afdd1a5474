// Package irq exposes the exception-handling surface (register/frame dumps,
// double-fault/GPF/page-fault numbers) in the vocabulary the fault handlers
// in kernel/mem/vmm were written against, adapting every call onto
// kernel/gate's single real IDT rather than owning a second one: two
// independently loaded IDTs can't both be active, so there is exactly one
// trap-dispatch mechanism in this kernel and this package is a view onto it.
package irq

import (
	"nyx/kernel/gate"
	"nyx/kernel/kfmt"
)

// gateRegisters names the single register-snapshot type gate's dispatch
// path actually produces, so split/writeBack below read clearly.
type gateRegisters = gate.Registers

// Regs contains a snapshot of the register values when an interrupt occurred.
type Regs struct {
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
}

// Print outputs a dump of the register values to the active console.
func (r *Regs) Print() {
	kfmt.Printf("RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Printf("RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Printf("RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Printf("RBP = %16x\n", r.RBP)
	kfmt.Printf("R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Printf("R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Printf("R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Printf("R14 = %16x R15 = %16x\n", r.R14, r.R15)
}

// Frame describes an exception frame that is automatically pushed by the CPU
// to the stack when an exception occurs.
type Frame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Print outputs a dump of the exception frame to the active console.
func (f *Frame) Print() {
	kfmt.Printf("RIP = %16x CS  = %16x\n", f.RIP, f.CS)
	kfmt.Printf("RSP = %16x SS  = %16x\n", f.RSP, f.SS)
	kfmt.Printf("RFL = %16x\n", f.RFlags)
}

// split carves the three irq-shaped views (Regs, error code, Frame) back out
// of the single gate.Registers snapshot gate's dispatch path actually
// captures.
func split(regs *gateRegisters) (*Regs, uint64, *Frame) {
	r := &Regs{
		RAX: regs.RAX, RBX: regs.RBX, RCX: regs.RCX, RDX: regs.RDX,
		RSI: regs.RSI, RDI: regs.RDI, RBP: regs.RBP,
		R8: regs.R8, R9: regs.R9, R10: regs.R10, R11: regs.R11,
		R12: regs.R12, R13: regs.R13, R14: regs.R14, R15: regs.R15,
	}
	f := &Frame{RIP: regs.RIP, CS: regs.CS, RFlags: regs.RFlags, RSP: regs.RSP, SS: regs.SS}
	return r, regs.Info, f
}

// writeBack propagates any changes an ExceptionHandler(WithCode) made to its
// Regs/Frame views back into the gate.Registers value the dispatch path
// will actually restore and iret from.
func writeBack(regs *gateRegisters, r *Regs, f *Frame) {
	regs.RAX, regs.RBX, regs.RCX, regs.RDX = r.RAX, r.RBX, r.RCX, r.RDX
	regs.RSI, regs.RDI, regs.RBP = r.RSI, r.RDI, r.RBP
	regs.R8, regs.R9, regs.R10, regs.R11 = r.R8, r.R9, r.R10, r.R11
	regs.R12, regs.R13, regs.R14, regs.R15 = r.R12, r.R13, r.R14, r.R15
	regs.RIP, regs.CS, regs.RFlags, regs.RSP, regs.SS = f.RIP, f.CS, f.RFlags, f.RSP, f.SS
}
