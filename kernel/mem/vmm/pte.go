package vmm

import (
	"nyx/kernel"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
	"unsafe"
)

// PteFlag describes the flag bits that may be set on a page-table entry.
type PteFlag uintptr

const (
	// FlagPresent marks an entry as valid; the MMU ignores all other bits
	// of an entry with this flag cleared.
	FlagPresent = PteFlag(1 << 0)

	// FlagRW allows writes to the mapped region. Without it, the region is
	// read-only.
	FlagRW = PteFlag(1 << 1)

	// FlagUser allows CPL=3 code to access the mapped region. Without it,
	// only CPL=0 (kernel) code may use the mapping.
	FlagUser = PteFlag(1 << 2)

	// FlagWriteThrough disables write-back caching for the mapped region.
	FlagWriteThrough = PteFlag(1 << 3)

	// FlagCacheDisable disables caching entirely for the mapped region.
	FlagCacheDisable = PteFlag(1 << 4)

	// FlagAccessed is set by the CPU the first time the entry is used to
	// translate an address.
	FlagAccessed = PteFlag(1 << 5)

	// FlagDirty is set by the CPU the first time a write is performed
	// through the entry. Only meaningful on leaf entries.
	FlagDirty = PteFlag(1 << 6)

	// FlagHuge marks a PD or PDPT entry as a 2MiB/1GiB leaf instead of a
	// pointer to the next table level.
	FlagHuge = PteFlag(1 << 7)

	// FlagGlobal prevents the entry's TLB translation from being flushed
	// on a CR3 reload. Only meaningful when PGE is enabled.
	FlagGlobal = PteFlag(1 << 8)

	// FlagNoExecute forbids instruction fetches from the mapped region.
	FlagNoExecute = PteFlag(1 << 63)
)

// physAddrMask isolates bits 12-51 of a page-table entry, which hold the
// 4-KiB-aligned physical address of the next table or of the mapped page.
const physAddrMask = uintptr(0x000F_FFFF_FFFF_F000)

// ErrInvalidMapping is returned when a virtual address has no present
// mapping in the page-table hierarchy being queried.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "invalid or missing mapping"}

// pageTableEntry is a single 64-bit slot inside a page table. The methods
// below operate directly on the live entry through its HHDM virtual address;
// there is no copy-on-write shadowing of entries.
type pageTableEntry uintptr

// HasFlags returns true if all bits set in flags are also set on the entry.
func (pte *pageTableEntry) HasFlags(flags PteFlag) bool {
	return (uintptr(*pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if at least one bit set in flags is also set on
// the entry.
func (pte *pageTableEntry) HasAnyFlag(flags PteFlag) bool {
	return (uintptr(*pte) & uintptr(flags)) != 0
}

// SetFlags ORs flags into the entry, leaving the frame address untouched.
func (pte *pageTableEntry) SetFlags(flags PteFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags))
}

// ClearFlags clears flags from the entry, leaving the frame address
// untouched.
func (pte *pageTableEntry) ClearFlags(flags PteFlag) {
	*pte = pageTableEntry(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical frame referenced by this entry.
func (pte *pageTableEntry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(*pte) & physAddrMask)
}

// SetFrame updates the physical frame referenced by this entry, leaving its
// flags untouched.
func (pte *pageTableEntry) SetFrame(f pmm.Frame) {
	*pte = pageTableEntry((uintptr(*pte) &^ physAddrMask) | (f.Address() & physAddrMask))
}

// tableAddr returns the HHDM virtual address of the table this entry points
// to, assuming the entry is present and not a huge-page leaf.
func (pte *pageTableEntry) tableAddr() uintptr {
	return mem.DirectMap(uintptr(*pte) & physAddrMask)
}

// entryIndex returns the index into a page table at the given hierarchy
// level (0 == PML4) for virtual address v.
func entryIndex(v uintptr, level int) uintptr {
	return (v >> pageLevelShifts[level]) & entryIndexMask
}

// tableEntries views the 4-KiB table whose HHDM virtual address is addr as
// an array of 512 page-table entries.
func tableEntries(addr uintptr) *[entriesPerTable]pageTableEntry {
	return (*[entriesPerTable]pageTableEntry)(unsafe.Pointer(addr))
}
