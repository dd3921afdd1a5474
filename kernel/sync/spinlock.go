// Package sync provides the kernel's only mutual-exclusion primitive. There
// is no SMP: the kernel runs on a single core, so the sole source of
// reentrancy is an interrupt handler running on top of code that was
// already mid-update of shared state. Spinlock therefore doesn't spin at
// all — it disables interrupts for its critical section and restores
// whatever interrupt state was in effect on Release, which is both
// sufficient and strictly cheaper than a busy-wait that could never be
// released by another core in the first place.
package sync

import "nyx/kernel/cpu"

// the following are mocked by tests: cpu.DisableInterrupts/EnableInterrupts
// execute privileged instructions that fault outside ring 0.
var (
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	interruptsEnabledFn = cpu.InterruptsEnabled
)

// Spinlock excludes interrupt handlers (never other cores — there are none)
// from a critical section by disabling interrupts for its duration.
// Acquire/Release do not nest: acquiring an already-held Spinlock from the
// same thread of execution re-disables interrupts harmlessly, but the
// matching Release will re-enable them before the outer critical section is
// done, which is a bug in the caller, not in Spinlock.
type Spinlock struct {
	heldInterrupts bool
}

// Acquire disables interrupts, recording whether they were enabled so
// Release can restore exactly that state rather than unconditionally
// turning them back on.
func (l *Spinlock) Acquire() {
	l.heldInterrupts = interruptsEnabledFn()
	disableInterruptsFn()
}

// TryToAcquire always succeeds: with no SMP and interrupts already the only
// thing a Spinlock excludes, there is no owner to contend with by the time
// this returns. Kept for call sites that still branch on the result.
func (l *Spinlock) TryToAcquire() bool {
	l.Acquire()
	return true
}

// Release re-enables interrupts, but only if they were enabled when Acquire
// was called — a Release inside a handler that itself ran with interrupts
// off must not turn them on underneath it.
func (l *Spinlock) Release() {
	if l.heldInterrupts {
		enableInterruptsFn()
	}
}
