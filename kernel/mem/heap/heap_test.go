package heap

import (
	"nyx/kernel"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
	"nyx/kernel/mem/vmm"
	"testing"
	"unsafe"
)

// newTestHeap backs every reserveRegionFn call with real, page-aligned Go
// memory so that blockHeader pointers overlaid on it are dereferenceable,
// and stubs out frame allocation/mapping entirely since the fake virtual
// addresses already point at usable memory.
func newTestHeap(t *testing.T, initialPages mem.Size) *Heap {
	t.Helper()
	mem.SetHHDMOffset(0)

	var kept [][]byte

	prevReserve, prevAlloc, prevMap := reserveRegionFn, allocFrameFn, mapFn
	t.Cleanup(func() {
		reserveRegionFn, allocFrameFn, mapFn = prevReserve, prevAlloc, prevMap
	})

	reserveRegionFn = func(size mem.Size) (uintptr, *kernel.Error) {
		aligned := mem.AlignUp(size, mem.PageSize)
		buf := make([]byte, uintptr(aligned)+uintptr(mem.PageSize))
		kept = append(kept, buf)
		start := mem.AlignUp(uintptr(unsafe.Pointer(&buf[0])), uintptr(mem.PageSize))
		return start, nil
	}
	allocFrameFn = func() (pmm.Frame, *kernel.Error) {
		return pmm.Frame(0), nil
	}
	mapFn = func(uintptr, pmm.Frame, vmm.PteFlag, vmm.FrameAllocatorFn) *kernel.Error {
		return nil
	}

	h := &Heap{}
	if err := h.Init(initialPages * mem.PageSize); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return h
}

func TestHeapInit(t *testing.T) {
	h := newTestHeap(t, 1)

	if got, want := h.TotalBytes(), mem.PageSize; got != want {
		t.Fatalf("got total %d; want %d", got, want)
	}
	if got, want := h.UsedBytes(), mem.Size(headerSize); got != want {
		t.Fatalf("got used %d; want %d (one header)", got, want)
	}

	first := headerAt(h.first)
	if !first.valid() || !first.free {
		t.Fatal("expected a single valid, free block spanning the region")
	}
	if got, want := first.size, uintptr(mem.PageSize)-headerSize; got != want {
		t.Fatalf("got first block size %d; want %d", got, want)
	}
}

func TestHeapAllocateFreeRoundtrip(t *testing.T) {
	h := newTestHeap(t, 1)

	p, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p%blockAlign != 0 {
		t.Fatalf("payload %#x is not %d-byte aligned", p, blockAlign)
	}

	// Writing through the returned pointer must not corrupt the header.
	*(*uint64)(unsafe.Pointer(p)) = 0xdeadbeef

	h.Free(p)

	first := headerAt(h.first)
	if !first.free {
		t.Fatal("expected block to be free again after Free")
	}
}

func TestHeapAllocateZeroIsError(t *testing.T) {
	h := newTestHeap(t, 1)
	if _, err := h.Allocate(0); err == nil {
		t.Fatal("expected Allocate(0) to return an error")
	}
}

func TestHeapSplitLeavesRemainderFree(t *testing.T) {
	h := newTestHeap(t, 1)

	p, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	allocated := headerFromData(p)
	if allocated.free {
		t.Fatal("expected the allocated block to be marked used")
	}
	if allocated.next == 0 {
		t.Fatal("expected a split to leave a remainder block")
	}

	remainder := headerAt(allocated.next)
	if !remainder.free || !remainder.valid() {
		t.Fatal("expected remainder block to be free and valid")
	}
}

func TestHeapNoSplitWhenRemainderTooSmall(t *testing.T) {
	h := newTestHeap(t, 1)

	first := headerAt(h.first)
	// Request nearly the whole block so the leftover can't hold a header.
	p, err := h.Allocate(mem.Size(first.size) - mem.Size(blockAlign))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	block := headerFromData(p)
	if block.next != 0 {
		t.Fatal("expected no split when the remainder is too small for a header")
	}
}

func TestHeapFreeCoalescesNeighbours(t *testing.T) {
	h := newTestHeap(t, 1)

	a, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blockA := headerFromData(a)
	sizeBeforeMerge := blockA.size

	h.Free(a)
	h.Free(b)

	merged := headerAt(h.first)
	if !merged.free {
		t.Fatal("expected the whole region to be one free block again")
	}
	if merged.size <= sizeBeforeMerge {
		t.Fatal("expected coalescing to grow the free block past either half alone")
	}
	if merged.next != 0 {
		t.Fatal("expected exactly one block after full coalescing")
	}
}

func TestHeapDoubleFreeIsNoop(t *testing.T) {
	h := newTestHeap(t, 1)

	p, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.Free(p)
	usedAfterFirstFree := h.UsedBytes()

	h.Free(p)
	if h.UsedBytes() != usedAfterFirstFree {
		t.Fatal("expected double free to be a no-op")
	}
}

func TestHeapFreeNilIsNoop(t *testing.T) {
	h := newTestHeap(t, 1)
	h.Free(0)
}

func TestHeapGrowsWhenExhausted(t *testing.T) {
	h := newTestHeap(t, 1)

	totalBefore := h.TotalBytes()

	// Ask for more than a single page can hold; this must force expand().
	big := mem.Size(mem.PageSize) * 2
	p, err := h.Allocate(big)
	if err != nil {
		t.Fatalf("unexpected error growing the heap: %v", err)
	}
	if p == 0 {
		t.Fatal("expected a non-nil pointer after growth")
	}
	if h.TotalBytes() <= totalBefore {
		t.Fatal("expected TotalBytes to increase after expand")
	}
}

func TestHeapAllocateAlignedRoundtrip(t *testing.T) {
	h := newTestHeap(t, 1)

	p, err := h.AllocateAligned(32, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p%64 != 0 {
		t.Fatalf("payload %#x is not 64-byte aligned", p)
	}

	h.FreeAligned(p)

	// The original (unaligned) block should be free again.
	anyFree := false
	for addr := h.first; addr != 0; {
		b := headerAt(addr)
		if b.free {
			anyFree = true
		}
		addr = b.next
	}
	if !anyFree {
		t.Fatal("expected FreeAligned to release the underlying block")
	}
}

func TestHeapReallocateGrowsAndPreservesData(t *testing.T) {
	h := newTestHeap(t, 1)

	p, err := h.Allocate(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	*(*byte)(unsafe.Pointer(p)) = 0x42

	np, err := h.Reallocate(p, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *(*byte)(unsafe.Pointer(np)); got != 0x42 {
		t.Fatalf("expected reallocated data to be preserved, got %#x", got)
	}
}

func TestHeapReallocateShrinkKeepsSamePointer(t *testing.T) {
	h := newTestHeap(t, 1)

	p, err := h.Allocate(256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	np, err := h.Reallocate(p, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if np != p {
		t.Fatal("expected reallocate-to-smaller-size to return the same pointer")
	}
}

func TestHeapReallocateNilActsAsAllocate(t *testing.T) {
	h := newTestHeap(t, 1)

	p, err := h.Reallocate(0, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == 0 {
		t.Fatal("expected a non-nil pointer")
	}
}

func TestHeapReallocateZeroActsAsFree(t *testing.T) {
	h := newTestHeap(t, 1)

	p, err := h.Allocate(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	np, err := h.Reallocate(p, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if np != 0 {
		t.Fatalf("expected Reallocate(p, 0) to return 0; got %#x", np)
	}

	block := headerFromData(p)
	if !block.free {
		t.Fatal("expected Reallocate(p, 0) to free the block")
	}
}
