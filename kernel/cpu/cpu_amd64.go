// Package cpu wraps the handful of privileged amd64 instructions the rest
// of the kernel needs: toggling the interrupt flag, halting, flushing a
// single TLB entry, swapping CR3, and reading CPUID/CR2. Every function
// below is declared without a body; cpu_amd64.s supplies the instruction
// sequence the Go compiler can't emit on its own.
package cpu

// the following is mocked by tests.
var cpuidFn = ID

// EnableInterrupts sets the interrupt flag (STI), allowing maskable
// interrupts to be delivered again.
func EnableInterrupts()

// DisableInterrupts clears the interrupt flag (CLI), the kernel's only
// mutual-exclusion primitive on a single core: a region that runs with
// interrupts off cannot be preempted by the scheduler's timer tick or
// reentered by any other interrupt handler.
func DisableInterrupts()

// InterruptsEnabled reports whether RFLAGS.IF is currently set, letting a
// caller that's about to disable interrupts remember whether to turn them
// back on again afterwards.
func InterruptsEnabled() bool

// Halt executes HLT, stopping instruction fetch until the next interrupt
// arrives. Used by kfmt.Panic to stop the CPU after reporting a panic.
func Halt()

// FlushTLBEntry invalidates the cached page-table translation for
// virtAddr via INVLPG, so a Map/Unmap that changes that single page takes
// effect immediately instead of being served from a stale TLB entry.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT loads pdtPhysAddr into CR3, making it the active top-level
// page table; this implicitly flushes every non-global TLB entry.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT reads CR3, returning the physical address of the page table
// currently in use.
func ActivePDT() uintptr

// ReadCR2 reads CR2, the faulting linear address the CPU latches there
// on a page fault.
func ReadCR2() uint64

// ID executes CPUID with EAX set to leaf and ECX cleared, returning the
// resulting EAX/EBX/ECX/EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// ReadMSR executes RDMSR against the model-specific register numbered msr.
func ReadMSR(msr uint32) uint64

// WriteMSR executes WRMSR, loading value into the model-specific register
// numbered msr. Used to program STAR/LSTAR/SFMASK/EFER and KERNEL_GS_BASE
// for the SYSCALL/SYSRET fast path; every other privileged state this
// kernel touches has a dedicated instruction instead of living behind an
// MSR.
func WriteMSR(msr uint32, value uint64)

// IsIntel reports whether CPUID's leaf-0 vendor string reads "GenuineIntel".
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
