// Package vmm implements the page-table manager: a thin wrapper around the
// 4-level amd64 page-table hierarchy that the boot
// loader hands to the kernel already populated (higher-half kernel mapping,
// HHDM, identity map of reclaimable regions). The kernel adopts that
// hierarchy as its master AddressSpace and subsequently manages it, and
// every per-process AddressSpace, through Map/Unmap/Translate.
package vmm

import (
	"nyx/kernel"
	"nyx/kernel/cpu"
	"nyx/kernel/irq"
	"nyx/kernel/kfmt"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
)

// Kernel is the master address space inherited from the boot loader. Every
// per-process AddressSpace clones its upper half from Kernel so that kernel
// text, data and heap mappings are reachable regardless of which process is
// currently active.
var Kernel AddressSpace

// the following functions are mocked by tests and are automatically inlined
// by the compiler.
var (
	activePDTFn               = cpu.ActivePDT
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	readCR2Fn                 = cpu.ReadCR2
)

var errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}

// Init adopts the currently active page table (installed by the boot loader
// before the kernel was entered) as the master Kernel address space and
// installs the page-fault and general-protection-fault handlers. It must be
// called after mem.SetHHDMOffset and after irq handlers can be registered,
// but before any call to New/Map outside this package.
func Init() *kernel.Error {
	top := activePDTFn()
	Kernel = AddressSpace{
		topFrame: pmm.FrameFromAddress(top),
		topAddr:  mem.DirectMap(top),
	}

	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	return nil
}

// pageFaultHandler reports an unrecoverable page fault. There is no demand
// paging or copy-on-write support: every mapping a process can touch is
// established up front by the ELF loader and the scheduler's stack
// allocation, so a page fault always indicates a programming error in the
// faulting process or the kernel itself.
func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	faultAddress := uintptr(readCR2Fn())

	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch errorCode {
	case 0:
		kfmt.Printf("read from non-present page")
	case 1:
		kfmt.Printf("page protection violation (read)")
	case 2:
		kfmt.Printf("write to non-present page")
	case 3:
		kfmt.Printf("page protection violation (write)")
	case 4:
		kfmt.Printf("page-fault in user-mode")
	case 8:
		kfmt.Printf("page table has reserved bit set")
	case 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()
	panic(errUnrecoverableFault)
}

func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()
	panic(errUnrecoverableFault)
}
