package vmm

import (
	"nyx/kernel"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
)

// pageTableWalker is invoked by walk once for each level of the hierarchy
// while resolving a virtual address, starting at the PML4 (level 0) and
// ending at the PT (level pageLevels-1). Returning false aborts the walk
// before descending into the next level.
type pageTableWalker func(level int, pte *pageTableEntry) bool

// walk descends the page-table hierarchy rooted at topAddr (an HHDM virtual
// address) resolving virtual address v, invoking walkFn at each level. It
// never allocates; callers that need to create missing intermediate tables
// do so from within walkFn via ensureChild.
func walk(topAddr, v uintptr, walkFn pageTableWalker) {
	tableAddr := topAddr
	for level := 0; level < pageLevels; level++ {
		entries := tableEntries(tableAddr)
		pte := &entries[entryIndex(v, level)]

		if !walkFn(level, pte) {
			return
		}

		if level < pageLevels-1 {
			tableAddr = pte.tableAddr()
		}
	}
}

// ensureChild returns the HHDM virtual address of the table referenced by
// pte, allocating and zeroing a fresh frame for it via allocFn if the entry
// is not yet present. childFlags are applied to the (possibly pre-existing)
// intermediate entry in addition to FlagPresent|FlagRW, so that a U
// requested anywhere along the path is propagated to every ancestor as
// required by x86-64 privilege propagation.
func ensureChild(pte *pageTableEntry, childFlags PteFlag, allocFn FrameAllocatorFn) (uintptr, *kernel.Error) {
	if !pte.HasFlags(FlagPresent) {
		frame, err := allocFn()
		if err != nil {
			return 0, err
		}

		addr := mem.DirectMap(frame.Address())
		mem.Memset(addr, 0, uintptr(mem.PageSize))

		*pte = 0
		pte.SetFrame(frame)
		pte.SetFlags(FlagPresent | FlagRW)
	}

	if childFlags&FlagUser != 0 {
		pte.SetFlags(FlagUser)
	}

	return pte.tableAddr(), nil
}

// pteForAddress returns the leaf page-table entry for virtual address v in
// the address space rooted at topAddr, or ErrInvalidMapping if any level of
// the hierarchy is not present.
func pteForAddress(topAddr, v uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		leaf *pageTableEntry
		miss bool
	)

	walk(topAddr, v, func(level int, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			miss = true
			return false
		}
		if level == pageLevels-1 {
			leaf = pte
		}
		return true
	})

	if miss || leaf == nil {
		return nil, ErrInvalidMapping
	}
	return leaf, nil
}

// FrameAllocatorFn is a function that can allocate and return a single
// physical frame.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)
