package vmm

import (
	"nyx/kernel"
	"nyx/kernel/cpu"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
)

// the following functions are mocked by tests and are automatically inlined
// by the compiler.
var (
	flushTLBEntryFn = cpu.FlushTLBEntry
	switchPDTFn      = cpu.SwitchPDT
)

// AddressSpace is an owning reference to a process-private (or the kernel
// master) top-level page table. The upper half (PML4 entries 256..511) is
// shared by reference
// with the kernel master address space; the lower half is exclusive to
// whoever owns this AddressSpace.
type AddressSpace struct {
	// topFrame is the physical frame backing the PML4.
	topFrame pmm.Frame

	// topAddr is the HHDM virtual address of the same table, cached so
	// that Map/Unmap/Translate never need to recompute it.
	topAddr uintptr
}

// New allocates a fresh, zeroed PML4 and returns the AddressSpace that owns
// it. The returned address space has no kernel-half mappings; call
// CloneKernelHalf to populate them before Load-ing it.
func New(allocFn FrameAllocatorFn) (AddressSpace, *kernel.Error) {
	frame, err := allocFn()
	if err != nil {
		return AddressSpace{}, err
	}

	addr := mem.DirectMap(frame.Address())
	mem.Memset(addr, 0, uintptr(mem.PageSize))

	return AddressSpace{topFrame: frame, topAddr: addr}, nil
}

// CloneKernelHalf copies PML4 entries [kernelHalfStart, 512) from src into
// as, so that kernel text, data and heap mappings remain reachable from a
// freshly created process address space. The entries are copied by value;
// since they point at shared lower-level tables, this makes every kernel
// mapping made before or after the clone visible through as as well.
func (as *AddressSpace) CloneKernelHalf(src *AddressSpace) {
	dst := tableEntries(as.topAddr)
	from := tableEntries(src.topAddr)
	for i := kernelHalfStart; i < entriesPerTable; i++ {
		dst[i] = from[i]
	}
}

// Map establishes a mapping from virtual address v to physical frame f using
// the supplied flags. Missing intermediate
// tables are allocated on demand via allocFn and zeroed; if the mapping
// includes FlagUser, every intermediate entry along the path also gets
// FlagUser set, since x86-64 requires U to be set at every level for a user
// access to succeed.
func (as *AddressSpace) Map(v uintptr, f pmm.Frame, flags PteFlag, allocFn FrameAllocatorFn) *kernel.Error {
	var (
		tableAddr = as.topAddr
		err       *kernel.Error
	)

	for level := 0; level < pageLevels; level++ {
		entries := tableEntries(tableAddr)
		pte := &entries[entryIndex(v, level)]

		if level == pageLevels-1 {
			*pte = 0
			pte.SetFrame(f)
			pte.SetFlags(flags | FlagPresent)
			flushTLBEntryFn(v)
			return nil
		}

		tableAddr, err = ensureChild(pte, flags, allocFn)
		if err != nil {
			return err
		}
	}

	return nil
}

// Unmap clears the leaf entry mapping v, if any, and invalidates the TLB
// entry for it. Intermediate tables are never freed, bounding the memory
// cost of unmapping by the address space's total footprint rather than
// requiring reference counting.
func (as *AddressSpace) Unmap(v uintptr) {
	walk(as.topAddr, v, func(level int, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}
		if level == pageLevels-1 {
			*pte = 0
		}
		return true
	})
	flushTLBEntryFn(v)
}

// Translate returns the physical address that corresponds to virtual
// address v, or ErrInvalidMapping if v has no present mapping.
func (as *AddressSpace) Translate(v uintptr) (uintptr, *kernel.Error) {
	pte, err := pteForAddress(as.topAddr, v)
	if err != nil {
		return 0, err
	}
	return pte.Frame().Address() | PageOffset(v), nil
}

// Load installs this address space as the active one by writing its PML4's
// physical address to CR3 and flushing the TLB.
func (as *AddressSpace) Load() {
	switchPDTFn(as.topFrame.Address())
}

// TopFrame returns the physical frame backing this address space's PML4.
func (as *AddressSpace) TopFrame() pmm.Frame {
	return as.topFrame
}

// PageOffset returns the offset of virtual address v within its containing
// 4-KiB page.
func PageOffset(v uintptr) uintptr {
	return v & (uintptr(mem.PageSize) - 1)
}
