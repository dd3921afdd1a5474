package sched

import "nyx/kernel/process"

// contextSwitch saves the callee-saved state and iret-frame of the
// currently running task (if from is non-nil; nil is allowed for the very
// first switch performed during boot), loads toCR3 into CR3 if it differs
// from the currently active page table, restores to's register file and
// iret-frame, and returns into it.
//
// Implemented in contextswitch_amd64.s.
func contextSwitch(from, to *process.Context, toCR3 uintptr)
