// Package pmm implements the bitmap-backed physical frame allocator.
package pmm

import (
	"math"
	"nyx/kernel/mem"
)

// Frame describes a physical memory page index. A frame's physical address
// is frame * mem.PageSize.
type Frame uintptr

// InvalidFrame is returned by allocators when they fail to reserve the
// requested frame(s).
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is not the InvalidFrame sentinel.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address for this frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the Frame containing physAddr, rounding down to
// the nearest frame boundary if physAddr is not page-aligned.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}
