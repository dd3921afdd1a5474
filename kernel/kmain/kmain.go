// Package kmain wires together every subsystem this kernel owns into the
// boot sequence: physical and virtual memory, the heap, the Go runtime, the
// scheduler, interrupt and syscall dispatch, device drivers, and finally the
// first user process. It follows the shape of the original kernel's own
// kmain package (bootloader info first, then allocator/vmm/goruntime, then
// panic if Kmain ever returns) generalized to the larger set of subsystems
// this kernel's expanded scope requires.
package kmain

import (
	"nyx/device"
	"nyx/device/tty"
	"nyx/device/video/console"
	"nyx/kernel"
	"nyx/kernel/elf"
	"nyx/kernel/gate"
	"nyx/kernel/goruntime"
	"nyx/kernel/hal"
	"nyx/kernel/hal/limine"
	"nyx/kernel/kfmt"
	"nyx/kernel/kfmt/early"
	"nyx/kernel/mem"
	"nyx/kernel/mem/heap"
	"nyx/kernel/mem/pmm"
	"nyx/kernel/mem/vmm"
	"nyx/kernel/sched"
	"nyx/kernel/syscall"
	"nyx/kernel/vfs"
	"unsafe"
)

// InitProcessPath names the module sys_exec cannot reach because nothing has
// called it yet: the first userspace image, loaded directly by kmain once
// every subsystem it depends on is ready.
const InitProcessPath = "/shell.elf"

// KernelHeapSize is how much virtual address space the kernel heap starts
// with. It grows on demand (kernel/mem/heap), so this only needs to be large
// enough to avoid an immediate expand() on the first few allocations.
const KernelHeapSize = 4 * mem.Mb

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is reached from the rt0 entry trampoline through main.main. The trampoline
// itself — switching to long mode, building the minimal GDT and g0 stack Go
// needs before it can run at all — is boot-shim territory and
// is assumed already done by the time this function runs; Kmain only
// receives the physical addresses of whichever Limine feature responses the
// trampoline requested.
//
// Kmain never returns. If every initialization step succeeds it hands the
// CPU to the first user process through the scheduler; if one fails it
// panics.
//
//go:noinline
func Kmain(memmapResponse, hhdmResponse, framebufferResponse, moduleResponse uintptr) {
	limine.SetMemoryMapResponse(memmapResponse)
	limine.SetHHDMResponse(hhdmResponse)
	limine.SetFramebufferResponse(framebufferResponse)
	limine.SetModuleResponse(moduleResponse)
	mem.SetHHDMOffset(limine.HHDMOffset())

	if err := initPhysicalMemory(); err != nil {
		kfmt.Panic(err)
	}
	if err := vmm.Init(); err != nil {
		kfmt.Panic(err)
	}
	if err := heap.Kernel.Init(KernelHeapSize); err != nil {
		kfmt.Panic(err)
	}
	if err := goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	gate.Init()
	syscall.Init()
	sched.Global.Init()

	registerDriverProbes()
	hal.DetectHardware()
	if tty := hal.ActiveTTY(); tty != nil {
		syscall.Console = tty
	}
	early.Printf("[kmain] nyx booting\n")

	vfs.Root.Mount()

	if err := bootInitProcess(); err != nil {
		kfmt.Panic(err)
	}

	// Switch into the first user process; Tick only returns here if it
	// cannot dispatch it.
	if err := sched.Global.Tick(); err != nil {
		kfmt.Panic(err)
	}

	// Use kfmt.Panic instead of panic so the compiler cannot prove this
	// is dead code and strip it.
	kfmt.Panic(errKmainReturned)
}

// initPhysicalMemory sizes the frame bitmap from the loader-reported memory
// map and backs it directly with HHDM-mapped physical memory, rather than
// the original's bump-allocate-then-map dance: Limine's direct map already
// covers every usable physical address, so there is no chicken-and-egg
// problem to solve before the first frame can be allocated.
func initPhysicalMemory() *kernel.Error {
	var maxPhysicalByte uint64
	limine.VisitMemoryMap(func(e *limine.MemoryMapEntry) bool {
		if end := e.Base + e.Length; end > maxPhysicalByte {
			maxPhysicalByte = end
		}
		return true
	})

	bitmapBytes := pmm.BitmapBytes(mem.Size(maxPhysicalByte))

	bitmapPhys, err := findRegionFor(bitmapBytes)
	if err != nil {
		return err
	}

	bitmapWords := unsafe.Slice(
		(*uint64)(unsafe.Pointer(mem.DirectMap(bitmapPhys))),
		int(bitmapBytes/8),
	)
	pmm.FrameAllocator.Init(bitmapWords, mem.Size(maxPhysicalByte))

	limine.VisitMemoryMap(func(e *limine.MemoryMapEntry) bool {
		if e.Type == limine.MemoryMapUsable {
			pmm.FrameAllocator.FreeFrames(pmm.FrameFromAddress(uintptr(e.Base)), uint64(mem.Pages(mem.Size(e.Length))))
		}
		return true
	})
	pmm.FrameAllocator.ReserveRegion(bitmapPhys, bitmapBytes)
	pmm.FrameAllocator.PrintStats()
	return nil
}

var errNoMemoryRegion = &kernel.Error{Module: "kmain", Message: "no usable region large enough for the frame bitmap"}

// findRegionFor returns the base address of the first USABLE memory-map
// region at least size bytes long.
func findRegionFor(size mem.Size) (uintptr, *kernel.Error) {
	var base uintptr
	var found bool
	limine.VisitMemoryMap(func(e *limine.MemoryMapEntry) bool {
		if e.Type == limine.MemoryMapUsable && mem.Size(e.Length) >= size {
			base = uintptr(e.Base)
			found = true
			return false
		}
		return true
	})
	if !found {
		return 0, errNoMemoryRegion
	}
	return base, nil
}

// registerDriverProbes bridges the per-device-family probe lists (populated
// by each driver's own init() block) into the single ordered registry
// hal.DetectHardware consults. Console probes run first so that, by the time
// a TTY probe succeeds, onDriverInit has somewhere to attach it.
func registerDriverProbes() {
	for _, p := range console.ProbeFuncs {
		device.RegisterDriver(&device.DriverInfo{Order: device.DetectOrderEarly, Probe: p})
	}
	for _, p := range tty.HWProbes() {
		device.RegisterDriver(&device.DriverInfo{Order: device.DetectOrderBeforeACPI, Probe: p})
	}
}

// bootInitProcess loads the first user process from the mounted module
// namespace and hands it to the scheduler. Every later process (via
// sys_exec) is spawned by this same process or one of its descendants;
// there is no other path into user mode.
func bootInitProcess() *kernel.Error {
	f, err := vfs.Root.Open(InitProcessPath)
	if err != nil {
		return err
	}

	p, err := elf.Load(f.ReadAll())
	if err != nil {
		return err
	}

	if err := sched.Global.AddProcess(p); err != nil {
		return err
	}

	kfmt.Printf("[kmain] started %s as pid %d\n", InitProcessPath, p.PID)
	return nil
}
