// Package limine parses the boot information handed to the kernel by a
// Limine-compatible loader: a higher-half direct map offset, a physical
// memory map and a framebuffer descriptor. It mirrors gopheros's multiboot
// package in shape
// (raw struct overlays reached through unsafe.Pointer, package-level setters
// invoked once by kmain.Kmain) but follows the Limine boot
// protocol's request/response convention instead of multiboot's single
// tag-list blob: each feature (memory map, HHDM, framebuffer, modules) has
// its own independently-populated response struct.
package limine

import "unsafe"

// MemoryMapEntryType classifies a single MemoryMapEntry, matching the
// Limine protocol's limine_memmap_entry type field.
type MemoryMapEntryType uint64

const (
	// MemoryMapUsable marks memory free for the kernel to use.
	MemoryMapUsable MemoryMapEntryType = iota

	// MemoryMapReserved marks memory that must never be touched.
	MemoryMapReserved

	// MemoryMapAcpiReclaimable marks ACPI tables that can be reclaimed
	// once the kernel is done parsing them.
	MemoryMapAcpiReclaimable

	// MemoryMapAcpiNvs marks memory that must be preserved across a
	// sleep/wake cycle.
	MemoryMapAcpiNvs

	// MemoryMapBadMemory marks memory the firmware has flagged as faulty.
	MemoryMapBadMemory

	// MemoryMapBootloaderReclaimable marks memory used by the loader
	// itself, reclaimable only after the kernel stops needing boot data
	// (command line, modules, responses).
	MemoryMapBootloaderReclaimable

	// MemoryMapKernelAndModules marks the memory occupied by the loaded
	// kernel image and any boot modules.
	MemoryMapKernelAndModules

	// MemoryMapFramebuffer marks memory backing a reported framebuffer.
	MemoryMapFramebuffer
)

// String implements fmt.Stringer for MemoryMapEntryType.
func (t MemoryMapEntryType) String() string {
	switch t {
	case MemoryMapUsable:
		return "usable"
	case MemoryMapReserved:
		return "reserved"
	case MemoryMapAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemoryMapAcpiNvs:
		return "ACPI NVS"
	case MemoryMapBadMemory:
		return "bad memory"
	case MemoryMapBootloaderReclaimable:
		return "bootloader (reclaimable)"
	case MemoryMapKernelAndModules:
		return "kernel/modules"
	case MemoryMapFramebuffer:
		return "framebuffer"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a single physical memory region, matching the
// Limine protocol's limine_memmap_entry layout.
type MemoryMapEntry struct {
	Base   uint64
	Length uint64
	Type   MemoryMapEntryType
}

// memmapResponse matches limine_memmap_response: a revision word followed by
// a count and a pointer to an array of *MemoryMapEntry (pointer-to-pointer,
// not an inline array).
type memmapResponse struct {
	revision   uint64
	entryCount uint64
	entries    **MemoryMapEntry
}

// hhdmResponse matches limine_hhdm_response.
type hhdmResponse struct {
	revision uint64
	offset   uint64
}

// FramebufferMemoryModel identifies the pixel layout of a reported
// framebuffer. Every Limine GOP/UEFI handoff observed in practice reports
// RGB.
type FramebufferMemoryModel uint8

// FramebufferRGB is the only memory model this kernel understands.
const FramebufferRGB FramebufferMemoryModel = 1

// Framebuffer matches (the fields this kernel cares about of)
// limine_framebuffer: a linear pixel buffer already reachable at Address
// (an HHDM virtual address — no separate vmm mapping is required to read or
// write it).
type Framebuffer struct {
	Address     uintptr
	Width       uint64
	Height      uint64
	Pitch       uint64
	Bpp         uint16
	MemoryModel FramebufferMemoryModel
}

// framebufferResponse matches limine_framebuffer_response.
type framebufferResponse struct {
	revision         uint64
	framebufferCount uint64
	framebuffers     **Framebuffer
}

// File matches limine_file: a boot module loaded into memory by the loader
// alongside the kernel. The VFS package mounts these as the root file set in
// lieu of parsing a FAT32 volume (no on-disk filesystem format is
// implemented; the VFS open/read/stat/close contract is the same either
// way).
type File struct {
	revision uint64
	Address  uintptr
	Size     uint64
	path     *byte
	cmdline  *byte
}

// Path returns the boot module's path as reported by the loader (typically
// of the form "/shell.elf").
func (f *File) Path() string {
	return cString(f.path)
}

// moduleResponse matches limine_module_response.
type moduleResponse struct {
	revision    uint64
	moduleCount uint64
	modules     **File
}

var (
	memmapResponsePtr      *memmapResponse
	hhdmResponsePtr        *hhdmResponse
	framebufferResponsePtr *framebufferResponse
	moduleResponsePtr      *moduleResponse
)

// SetMemoryMapResponse registers the address of the loader-populated
// limine_memmap_response. Called once by kmain.Kmain.
func SetMemoryMapResponse(addr uintptr) {
	memmapResponsePtr = (*memmapResponse)(unsafe.Pointer(addr))
}

// SetHHDMResponse registers the address of the loader-populated
// limine_hhdm_response.
func SetHHDMResponse(addr uintptr) {
	hhdmResponsePtr = (*hhdmResponse)(unsafe.Pointer(addr))
}

// SetFramebufferResponse registers the address of the loader-populated
// limine_framebuffer_response.
func SetFramebufferResponse(addr uintptr) {
	framebufferResponsePtr = (*framebufferResponse)(unsafe.Pointer(addr))
}

// SetModuleResponse registers the address of the loader-populated
// limine_module_response.
func SetModuleResponse(addr uintptr) {
	moduleResponsePtr = (*moduleResponse)(unsafe.Pointer(addr))
}

// MemRegionVisitor is invoked by VisitMemoryMap for each reported region.
// Returning false aborts the scan early.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// VisitMemoryMap invokes visitor once per physical memory region reported by
// the loader, in the order the loader reported them.
func VisitMemoryMap(visitor MemRegionVisitor) {
	if memmapResponsePtr == nil {
		return
	}

	base := uintptr(unsafe.Pointer(memmapResponsePtr.entries))
	for i := uint64(0); i < memmapResponsePtr.entryCount; i++ {
		entryPtrPtr := (**MemoryMapEntry)(unsafe.Pointer(base + uintptr(i)*unsafe.Sizeof(uintptr(0))))
		if !visitor(*entryPtrPtr) {
			return
		}
	}
}

// HHDMOffset returns the offset that must be added to a physical address to
// obtain a kernel-readable virtual address. Returns 0 if the loader has not
// reported one; kmain.Kmain passes the result to mem.SetHHDMOffset without
// checking it.
func HHDMOffset() uintptr {
	if hhdmResponsePtr == nil {
		return 0
	}
	return uintptr(hhdmResponsePtr.offset)
}

// PrimaryFramebuffer returns the first framebuffer reported by the loader,
// or nil if none was reported.
func PrimaryFramebuffer() *Framebuffer {
	if framebufferResponsePtr == nil || framebufferResponsePtr.framebufferCount == 0 {
		return nil
	}
	return *framebufferResponsePtr.framebuffers
}

// Modules returns every boot module the loader loaded alongside the kernel.
func Modules() []*File {
	if moduleResponsePtr == nil {
		return nil
	}

	count := int(moduleResponsePtr.moduleCount)
	base := uintptr(unsafe.Pointer(moduleResponsePtr.modules))
	files := make([]*File, count)
	for i := 0; i < count; i++ {
		entryPtrPtr := (**File)(unsafe.Pointer(base + uintptr(i)*unsafe.Sizeof(uintptr(0))))
		files[i] = *entryPtrPtr
	}
	return files
}

// cString converts a NUL-terminated C string pointer into a Go string
// without importing the C-string helpers in the runtime's unsafe-heavy
// bytealg path; used only for the handful of short paths/cmdlines the
// loader reports.
func cString(p *byte) string {
	if p == nil {
		return ""
	}

	n := 0
	for ptr := unsafe.Pointer(p); *(*byte)(ptr) != 0; n++ {
		ptr = unsafe.Pointer(uintptr(ptr) + 1)
	}

	var s []byte
	for i := 0; i < n; i++ {
		s = append(s, *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(i))))
	}
	return string(s)
}
