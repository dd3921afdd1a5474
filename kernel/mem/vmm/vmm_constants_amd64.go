package vmm

import "nyx/kernel/mem"

// pageLevels is the number of levels in the amd64 page-table hierarchy:
// PML4, PDPT, PD and PT.
const pageLevels = 4

// pageLevelShifts holds the bit offset of the index for each page-table
// level, ordered from the PML4 (top) down to the PT (bottom).
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

// entriesPerTable is the number of 64-bit entries in a single page table
// (4096 bytes / 8 bytes per entry).
const entriesPerTable = 512

// entryIndexMask isolates the 9-bit index encoded at each page-table level.
const entryIndexMask = uintptr(entriesPerTable - 1)

// kernelHalfStart is the index of the first PML4 entry that belongs to the
// kernel half of the address space (entries 256..511, i.e. virtual addresses
// with bit 47 set). CloneKernelHalf copies entries [kernelHalfStart, 512)
// from the master kernel table into every freshly created address space so
// that kernel text, data and heap mappings stay visible regardless of which
// process is active.
const kernelHalfStart = 256

const (
	// kernelHeapBase is the start of the region the kernel heap grows into.
	kernelHeapBase = uintptr(0xFFFF_9000_0000_0000)

	// userFramebufferBase is where a process that has been granted
	// framebuffer access maps it into its lower half.
	userFramebufferBase = uintptr(0x0000_7000_0000_0000)

	// userSpaceEnd is the first address that is no longer part of the lower
	// (user) half of a 4-level amd64 address space.
	userSpaceEnd = uintptr(0x0000_8000_0000_0000)
)

// UserStackTop is the first byte above the highest address a user-mode
// stack may occupy: one page below the top of the lower half, so that a
// stack overflow faults instead of wrapping into non-canonical territory.
const UserStackTop = userSpaceEnd - uintptr(mem.PageSize)

// UserFramebufferBase is where a process that has been granted framebuffer
// access maps it into its lower half.
const UserFramebufferBase = userFramebufferBase
