package vmm

import (
	"nyx/kernel"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
	"unsafe"
)

// testPagePool keeps every page handed out by newTestFrameAllocator alive
// for the duration of a test, since the Go GC has no idea these buffers are
// referenced only through raw uintptr arithmetic.
var testPagePool [][]byte

// newTestFrameAllocator returns a FrameAllocatorFn backed by ordinary Go
// heap memory rather than real physical RAM. mem.SetHHDMOffset(0) must be in
// effect so that DirectMap is the identity function and a pmm.Frame's
// Address() round-trips to the same bytes the allocator handed out.
func newTestFrameAllocator() FrameAllocatorFn {
	return func() (pmm.Frame, *kernel.Error) {
		buf := make([]byte, 2*mem.PageSize)
		testPagePool = append(testPagePool, buf)

		addr := mem.AlignUp(uintptr(unsafe.Pointer(&buf[0])), uintptr(mem.PageSize))
		return pmm.FrameFromAddress(addr), nil
	}
}
