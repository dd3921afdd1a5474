package vmm

import (
	"nyx/kernel"
	"nyx/kernel/mem"
)

// heapBump is the next unused virtual address in the kernel's growth region.
// It only ever increases: this kernel has no notion of returning virtual
// address space to a pool, mirroring the heap's own policy of never
// shrinking back to the boot loader.
var heapBump = kernelHeapBase

var errAddressSpaceExhausted = &kernel.Error{Module: "vmm", Message: "kernel address space exhausted"}

// ReserveRegion carves out and returns the start of a size-byte run of
// unused kernel virtual address space, without mapping any physical frames
// to back it. Callers (the Go runtime bootstrap shim and the kernel heap's
// growth path) are responsible for mapping the pages they actually touch.
func ReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	aligned := mem.AlignUp(size, mem.PageSize)
	start := heapBump

	if start+uintptr(aligned) < start {
		return 0, errAddressSpaceExhausted
	}

	heapBump += uintptr(aligned)
	return start, nil
}
