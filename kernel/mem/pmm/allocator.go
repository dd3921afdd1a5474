package pmm

import (
	"nyx/kernel"
	"nyx/kernel/kfmt/early"
	"nyx/kernel/mem"
)

// FrameAllocator is the single system-wide instance of BitmapAllocator. It is
// wired up by kmain during early boot: Init() followed by one FreeFrame per
// USABLE region reported by the boot loader.
var FrameAllocator BitmapAllocator

var (
	errOutOfMemory       = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errInvalidFrameCount = &kernel.Error{Module: "pmm", Message: "invalid frame count"}
)

// BitmapAllocator is a first-fit physical frame allocator backed by a single
// bitmap indexed by frame number. There is no
// buddy system and no NUMA/coloring awareness: the frame count for the
// systems this kernel targets is small enough that a linear scan bitmap is
// both simple and fast enough.
type BitmapAllocator struct {
	bm bitmap

	totalFrames uint64
	usedFrames  uint64
}

// Init prepares the allocator to track maxPhysicalBytes worth of frames,
// using buf (a caller-supplied, zeroed []uint64) as the bitmap backing
// store. All frames start out marked allocated; the caller is expected to
// walk the boot memory map and call FreeFrame for every USABLE frame to
// populate the initial free set. BootloaderReclaimable and Framebuffer
// frames are intentionally left allocated so that they are never handed out
// until/unless a future reclaim pass explicitly frees them.
func (a *BitmapAllocator) Init(buf []uint64, maxPhysicalBytes mem.Size) {
	a.totalFrames = uint64(mem.Pages(maxPhysicalBytes))
	a.bm.init(buf, a.totalFrames)
	for i := uint64(0); i < a.totalFrames; i++ {
		a.bm.set(i)
	}
	a.usedFrames = a.totalFrames
}

// TotalBytes returns the total amount of physical memory tracked by the
// allocator.
func (a *BitmapAllocator) TotalBytes() mem.Size {
	return mem.Size(a.totalFrames) * mem.PageSize
}

// UsedBytes returns the number of bytes currently allocated or reserved.
func (a *BitmapAllocator) UsedBytes() mem.Size {
	return mem.Size(a.usedFrames) * mem.PageSize
}

// FreeBytes returns the number of bytes available for allocation.
func (a *BitmapAllocator) FreeBytes() mem.Size {
	return a.TotalBytes() - a.UsedBytes()
}

// AllocFrame reserves and returns a single physical frame, or InvalidFrame
// if none are available.
func (a *BitmapAllocator) AllocFrame() (Frame, *kernel.Error) {
	idx := a.bm.findFirstZero()
	if idx >= a.totalFrames {
		return InvalidFrame, errOutOfMemory
	}
	a.bm.set(idx)
	a.usedFrames++
	return Frame(idx), nil
}

// AllocFrames reserves count contiguous physical frames and returns the
// first one, or InvalidFrame if no run of that length is free.
func (a *BitmapAllocator) AllocFrames(count uint64) (Frame, *kernel.Error) {
	if count == 0 {
		return InvalidFrame, errInvalidFrameCount
	}

	idx := a.bm.findFirstZeroRun(count)
	if idx >= a.totalFrames {
		return InvalidFrame, errOutOfMemory
	}
	a.bm.setRange(idx, count)
	a.usedFrames += count
	return Frame(idx), nil
}

// FreeFrame releases a single previously allocated or reserved frame.
// Freeing an already-free frame, or a frame outside the tracked range, is a
// silent no-op.
func (a *BitmapAllocator) FreeFrame(f Frame) {
	idx := uint64(f)
	if idx >= a.totalFrames || !a.bm.get(idx) {
		return
	}
	a.bm.clear(idx)
	a.usedFrames--
}

// FreeFrames releases count contiguous frames starting at f.
func (a *BitmapAllocator) FreeFrames(f Frame, count uint64) {
	for i := uint64(0); i < count; i++ {
		a.FreeFrame(Frame(uint64(f) + i))
	}
}

// ReserveFrame marks a single frame as allocated without it ever being
// handed out by AllocFrame/AllocFrames. Used for frames occupied by the
// kernel image, the bitmap itself, or boot-loader-reclaimable regions that
// the kernel chooses not to reclaim.
func (a *BitmapAllocator) ReserveFrame(f Frame) {
	idx := uint64(f)
	if idx >= a.totalFrames || a.bm.get(idx) {
		return
	}
	a.bm.set(idx)
	a.usedFrames++
}

// ReserveFrames marks count contiguous frames starting at f as allocated.
func (a *BitmapAllocator) ReserveFrames(f Frame, count uint64) {
	for i := uint64(0); i < count; i++ {
		a.ReserveFrame(Frame(uint64(f) + i))
	}
}

// ReserveRegion reserves every frame that overlaps the physical address
// range [base, base+length). The range is rounded outward to frame
// boundaries.
func (a *BitmapAllocator) ReserveRegion(base uintptr, length mem.Size) {
	if length == 0 {
		return
	}
	alignedBase := mem.AlignDown(base, uintptr(mem.PageSize))
	pageCount := mem.Pages(length + mem.Size(base-alignedBase))
	a.ReserveFrames(FrameFromAddress(alignedBase), uint64(pageCount))
}

// BitmapBytes returns the number of bytes required to back a bitmap capable
// of tracking maxPhysicalBytes worth of frames, rounded up to a whole number
// of uint64 words. Callers use this to size the []uint64 buffer passed to
// Init before any allocator is available to allocate it.
func BitmapBytes(maxPhysicalBytes mem.Size) mem.Size {
	frames := uint64(mem.Pages(maxPhysicalBytes))
	return mem.Size(wordsFor(frames) * 8)
}

// PrintStats logs a one-line summary of the allocator state using the early,
// allocation-free formatter (mirrors gopher-os's BitmapAllocator.printStats).
func (a *BitmapAllocator) PrintStats() {
	early.Printf("[pmm] total: %dKb, used: %dKb, free: %dKb\n",
		uint64(a.TotalBytes()/mem.Kb),
		uint64(a.UsedBytes()/mem.Kb),
		uint64(a.FreeBytes()/mem.Kb),
	)
}
