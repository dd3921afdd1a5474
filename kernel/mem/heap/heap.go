// Package heap implements the kernel's general-purpose allocator: a single
// address-ordered free list over a virtual region that grows on demand. It
// backs the structures that the Go runtime's own garbage-collected heap
// does not own, such as a process's kernel stack.
package heap

import (
	"nyx/kernel"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
	"nyx/kernel/mem/vmm"
	"unsafe"
)

const pointerSize = 1 << mem.PointerShift

// blockAlign is the alignment every payload returned by Allocate satisfies.
const blockAlign = 16

var (
	errZeroSize       = &kernel.Error{Module: "heap", Message: "zero-sized allocation request"}
	errOutOfMemory    = &kernel.Error{Module: "heap", Message: "out of memory"}
	errInvalidPointer = &kernel.Error{Module: "heap", Message: "invalid or corrupt heap pointer"}
)

// the following are mocked by tests.
var (
	reserveRegionFn = vmm.ReserveRegion
	allocFrameFn    = pmm.FrameAllocator.AllocFrame
	mapFn           = vmm.Kernel.Map
)

// Kernel is the single system-wide heap instance. It is initialized once by
// kmain, after the page-table manager and physical frame allocator are up.
var Kernel Heap

// Heap is a first-fit, address-ordered free-list allocator over a
// contiguous-on-creation virtual region that grows by mapping additional
// frames in a newly reserved region whenever no free block satisfies a
// request.
type Heap struct {
	start uintptr
	end   uintptr
	first uintptr

	total mem.Size
	used  mem.Size
}

// Init carves out and maps an initial region of size bytes and seeds it
// with a single free block that spans the whole region. It must be called
// before any other Heap method.
func (h *Heap) Init(size mem.Size) *kernel.Error {
	start, err := reserveRegionFn(size)
	if err != nil {
		return err
	}

	pages := mem.Pages(size)
	mapped := pages * mem.PageSize
	if err := h.mapPages(start, pages); err != nil {
		return err
	}

	first := headerAt(start)
	first.size = uintptr(mapped) - headerSize
	first.free = true
	first.next = 0
	first.prev = 0
	first.magic = blockMagic

	h.start = start
	h.end = start + uintptr(mapped)
	h.first = start
	h.total = mapped
	h.used = mem.Size(headerSize)
	return nil
}

// TotalBytes returns the current size of the heap's backing region.
func (h *Heap) TotalBytes() mem.Size { return h.total }

// UsedBytes returns the number of bytes currently allocated, including
// block header overhead.
func (h *Heap) UsedBytes() mem.Size { return h.used }

// FreeBytes returns the number of bytes available for allocation.
func (h *Heap) FreeBytes() mem.Size { return h.total - h.used }

// Allocate reserves and returns a 16-byte-aligned payload of at least n
// bytes, growing the heap if no free block is large enough.
func (h *Heap) Allocate(n mem.Size) (uintptr, *kernel.Error) {
	if n == 0 {
		return 0, errZeroSize
	}

	size := uintptr(mem.AlignUp(n, mem.Size(blockAlign)))

	block := h.findFreeBlock(size)
	if block == nil {
		if err := h.expand(mem.Size(size) + mem.Size(headerSize)); err != nil {
			return 0, err
		}
		block = h.findFreeBlock(size)
		if block == nil {
			return 0, errOutOfMemory
		}
	}

	h.splitBlock(block, size)
	block.free = false
	h.used += mem.Size(block.size) + mem.Size(headerSize)

	return block.data(), nil
}

// Free releases a payload previously returned by Allocate. A double-free or
// a pointer with a corrupt/missing header magic is silently ignored, since
// the kernel's allocator fast path never panics.
func (h *Heap) Free(p uintptr) {
	if p == 0 {
		return
	}

	block := headerFromData(p)
	if !block.valid() || block.free {
		return
	}

	block.free = true
	h.used -= mem.Size(block.size) + mem.Size(headerSize)
	h.mergeBlocks(block)
}

// AllocateAligned reserves a payload of at least n bytes aligned to align,
// which must be a power of two. The machine word immediately preceding the
// returned pointer stores the address FreeAligned needs to recover the real
// block header.
func (h *Heap) AllocateAligned(n, align mem.Size) (uintptr, *kernel.Error) {
	if n == 0 || align == 0 {
		return 0, errZeroSize
	}

	p, err := h.Allocate(n + align + mem.Size(pointerSize))
	if err != nil {
		return 0, err
	}

	aligned := mem.AlignUp(p+uintptr(pointerSize), uintptr(align))
	*(*uintptr)(unsafe.Pointer(aligned - uintptr(pointerSize))) = p

	return aligned, nil
}

// FreeAligned releases a payload previously returned by AllocateAligned.
func (h *Heap) FreeAligned(p uintptr) {
	if p == 0 {
		return
	}
	original := *(*uintptr)(unsafe.Pointer(p - uintptr(pointerSize)))
	h.Free(original)
}

// Reallocate resizes the allocation at p to at least newSize bytes,
// preserving the shorter of the old and new sizes worth of content. A nil p
// behaves as Allocate; a zero newSize behaves as Free and returns 0.
func (h *Heap) Reallocate(p uintptr, newSize mem.Size) (uintptr, *kernel.Error) {
	if p == 0 {
		return h.Allocate(newSize)
	}
	if newSize == 0 {
		h.Free(p)
		return 0, nil
	}

	block := headerFromData(p)
	if !block.valid() {
		return 0, errInvalidPointer
	}

	aligned := uintptr(mem.AlignUp(newSize, mem.Size(blockAlign)))
	if block.size >= aligned {
		return p, nil
	}

	np, err := h.Allocate(newSize)
	if err != nil {
		return 0, err
	}

	copySize := block.size
	if aligned < copySize {
		copySize = aligned
	}
	kernel.Memcopy(p, np, copySize)
	h.Free(p)

	return np, nil
}

// findFreeBlock scans the list in address order for the first free, valid
// block of at least size bytes.
func (h *Heap) findFreeBlock(size uintptr) *blockHeader {
	for addr := h.first; addr != 0; {
		block := headerAt(addr)
		if block.free && block.valid() && block.size >= size {
			return block
		}
		addr = block.next
	}
	return nil
}

// splitBlock carves an allocation of exactly size bytes off the front of
// block, turning the remainder into a new free block, but only if the
// remainder is large enough to hold a header plus a minimally useful
// payload; otherwise the whole block is handed out as-is.
func (h *Heap) splitBlock(block *blockHeader, size uintptr) {
	if block.size < size+headerSize+blockAlign {
		return
	}

	newAddr := block.data() + size
	newBlock := headerAt(newAddr)
	newBlock.size = block.size - size - headerSize
	newBlock.free = true
	newBlock.next = block.next
	newBlock.prev = block.addr()
	newBlock.magic = blockMagic

	if block.next != 0 {
		headerAt(block.next).prev = newAddr
	}
	block.next = newAddr
	block.size = size
}

// mergeBlocks coalesces block with each free neighbour that directly abuts
// it in memory, forward then backward.
func (h *Heap) mergeBlocks(block *blockHeader) {
	if !block.valid() {
		return
	}

	if next := headerAt(block.next); next.valid() && next.free && block.data()+block.size == next.addr() {
		block.size += headerSize + next.size
		block.next = next.next
		if block.next != 0 {
			headerAt(block.next).prev = block.addr()
		}
	}

	if prev := headerAt(block.prev); prev.valid() && prev.free && prev.data()+prev.size == block.addr() {
		prev.size += headerSize + block.size
		prev.next = block.next
		if prev.next != 0 {
			headerAt(prev.next).prev = block.prev
		}
	}
}

// expand grows the heap by at least minBytes, rounded up to whole pages,
// mapping freshly allocated physical frames at a newly reserved virtual
// region and appending the result as a free block at the tail of the list.
//
// The new region is not guaranteed to sit immediately after the previous
// end of the heap: ReserveRegion draws from the same bump-allocated virtual
// range used by the Go runtime's own growth (kernel/goruntime/bootstrap.go),
// so an intervening runtime allocation can leave an unmapped gap between the
// old end and the new block. The free list stays address-ordered regardless,
// since ReserveRegion never returns a smaller address than a prior call.
func (h *Heap) expand(minBytes mem.Size) *kernel.Error {
	pages := mem.Pages(minBytes)
	grow := pages * mem.PageSize

	start, err := reserveRegionFn(grow)
	if err != nil {
		return err
	}

	if err := h.mapPages(start, pages); err != nil {
		return err
	}

	newBlock := headerAt(start)
	newBlock.size = uintptr(grow) - headerSize
	newBlock.free = true
	newBlock.next = 0
	newBlock.magic = blockMagic

	last := headerAt(h.first)
	for last.next != 0 {
		last = headerAt(last.next)
	}
	last.next = start
	newBlock.prev = last.addr()

	h.end = start + uintptr(grow)
	h.total += grow

	h.mergeBlocks(newBlock)
	return nil
}

// mapPages maps pages contiguous frames at virtual address start, writable
// and non-executable.
func (h *Heap) mapPages(start uintptr, pages mem.Size) *kernel.Error {
	for page := mem.Size(0); page < pages; page++ {
		frame, err := allocFrameFn()
		if err != nil {
			return err
		}

		v := start + uintptr(page)*uintptr(mem.PageSize)
		if err := mapFn(v, frame, vmm.FlagRW|vmm.FlagNoExecute, allocFrameFn); err != nil {
			return err
		}
	}
	return nil
}
