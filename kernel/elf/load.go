package elf

import (
	"nyx/kernel"
	"nyx/kernel/cpu"
	"nyx/kernel/gate"
	"nyx/kernel/mem"
	"nyx/kernel/mem/heap"
	"nyx/kernel/mem/pmm"
	"nyx/kernel/mem/vmm"
	"nyx/kernel/process"
	"nyx/kernel/sched"
	"unsafe"
)

var errAllocFailed = &kernel.Error{Module: "elf", Message: "failed to allocate pages for a PT_LOAD segment"}

// the following are mocked by tests.
var (
	allocatePIDFn = sched.AllocatePID
	newProcessFn  = process.New
	allocFramesFn = pmm.FrameAllocator.AllocFrames
	freeFramesFn  = pmm.FrameAllocator.FreeFrames
	allocFrameFn  = pmm.FrameAllocator.AllocFrame
	mapFn         = func(as *vmm.AddressSpace, v uintptr, f pmm.Frame, flags vmm.PteFlag, alloc vmm.FrameAllocatorFn) *kernel.Error {
		return as.Map(v, f, flags, alloc)
	}
	heapAllocateFn   = heap.Kernel.Allocate
	heapFreeFn       = heap.Kernel.Free
	activePDTFn      = cpu.ActivePDT
	switchPDTFn      = cpu.SwitchPDT
	trampolineAddrFn = trampolineAddr
)

// trampolineAddr returns the address of the assembly trampoline that a
// freshly loaded process's saved context returns into the first time the
// scheduler dispatches it. The trampoline pops the entry point and user
// stack top pushed onto the kernel stack below and irets into user mode.
//
// Implemented in trampoline_amd64.s.
func trampolineAddr() uintptr

// Load parses and validates data as an ELF64 executable and creates a new
// process whose address space has every PT_LOAD segment mapped in, ready
// for the scheduler to dispatch. On any failure the new process is
// destroyed, which releases its kernel stack and top-level page table. If
// mapping a segment fails, the segment frames already allocated are released
// too; if marshalling argv fails, the segment frames are not released.
// Intermediate page-table frames are not released in either case.
func Load(data []byte) (*process.Process, *kernel.Error) {
	return load(data, nil)
}

// LoadWithArgs is Load, additionally marshalling argv onto the new
// process's user stack before it is first dispatched.
func LoadWithArgs(data []byte, argv []string) (*process.Process, *kernel.Error) {
	return load(data, argv)
}

func load(data []byte, argv []string) (*process.Process, *kernel.Error) {
	img, err := Parse(data)
	if err != nil {
		return nil, err
	}

	pid := allocatePIDFn()
	proc, err := newProcessFn(pid, 0)
	if err != nil {
		return nil, err
	}

	if err := mapSegments(proc, img); err != nil {
		proc.Destroy()
		return nil, err
	}

	setupTrampoline(proc, img.Entry())

	if len(argv) > 0 {
		if err := setupArguments(proc, argv); err != nil {
			proc.Destroy()
			return nil, err
		}
	}

	proc.ValidUserState = true
	return proc, nil
}

// mapSegments maps every PT_LOAD segment of img into proc's address space.
// Each segment's backing pages are zeroed through the HHDM before its
// on-disk bytes (filesz may be smaller than memsz, e.g. .bss) are copied
// in, and are mapped user-accessible, writable iff PF_W is set and
// executable iff PF_X is set.
func mapSegments(proc *process.Process, img *Image) *kernel.Error {
	var allocatedBase []pmm.Frame
	var allocatedCount []uint64

	releaseAll := func() {
		for i, base := range allocatedBase {
			freeFramesFn(base, allocatedCount[i])
		}
	}

	for _, ph := range img.Segments() {
		vaddr := uintptr(ph.Vaddr)
		memsz := uintptr(ph.Memsz)
		filesz := uintptr(ph.Filesz)
		offset := uintptr(ph.Offset)

		pageAddr := mem.AlignDown(vaddr, uintptr(mem.PageSize))
		pageEnd := mem.AlignUp(vaddr+memsz, uintptr(mem.PageSize))
		pages := uint64((pageEnd - pageAddr) / uintptr(mem.PageSize))

		base, err := allocFramesFn(pages)
		if err != nil {
			releaseAll()
			return errAllocFailed
		}
		allocatedBase = append(allocatedBase, base)
		allocatedCount = append(allocatedCount, pages)

		virt := mem.DirectMap(base.Address())
		kernel.Memset(virt, 0, uintptr(pages)*uintptr(mem.PageSize))

		if filesz > 0 {
			copyOffset := vaddr - pageAddr
			kernel.Memcopy(uintptr(unsafe.Pointer(&img.data[offset])), virt+copyOffset, filesz)
		}

		flags := vmm.FlagUser
		if ph.Flags&pfW != 0 {
			flags |= vmm.FlagRW
		}
		if ph.Flags&pfX == 0 {
			flags |= vmm.FlagNoExecute
		}

		for page := uint64(0); page < pages; page++ {
			v := pageAddr + uintptr(page)*uintptr(mem.PageSize)
			f := pmm.Frame(uintptr(base) + uintptr(page))
			if err := mapFn(&proc.AddressSpace, v, f, flags, allocFrameFn); err != nil {
				releaseAll()
				return err
			}
		}
	}

	return nil
}

// setupTrampoline pushes the segment's entry point and the process's
// (16-byte aligned) user stack top onto its kernel stack and points the
// saved context at the trampoline, so that the very first dispatch of this
// process runs the trampoline in kernel mode and has it iret into user
// mode at entry with RSP == the pushed user stack top.
func setupTrampoline(proc *process.Process, entry uintptr) {
	userStack := mem.AlignDown(proc.UserStackTop, 16)

	kernelStack := proc.KernelStackTop
	kernelStack -= unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(kernelStack)) = userStack
	kernelStack -= unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(kernelStack)) = entry

	proc.Context.RIP = uint64(trampolineAddrFn())
	proc.Context.RSP = uint64(kernelStack)
	proc.Context.RBP = 0
	proc.Context.RFlags = 0x202
	proc.Context.CS = gate.KernelCS
	proc.Context.SS = gate.KernelDS

	proc.UserStackTop = userStack
}

// setupArguments marshals argv onto proc's user stack following the layout
// [argc][argv pointers][NULL][string bytes]. The
// buffer is assembled in a scratch kernel-heap allocation, then copied onto
// the target stack by temporarily loading proc's address space, since the
// currently active page table has no mapping for proc's lower half.
func setupArguments(proc *process.Process, argv []string) *kernel.Error {
	wordSize := uintptr(unsafe.Sizeof(uintptr(0)))

	var stringsSize uintptr
	for _, a := range argv {
		stringsSize += uintptr(len(a)) + 1
	}
	stringsSize = mem.AlignUp(stringsSize, wordSize)

	argc := uintptr(len(argv))
	totalSize := stringsSize + (argc+1)*wordSize + wordSize

	userStack := mem.AlignDown(proc.UserStackTop-totalSize, 16)

	scratch, err := heapAllocateFn(mem.Size(totalSize))
	if err != nil {
		return err
	}
	defer heapFreeFn(scratch)
	kernel.Memset(scratch, 0, totalSize)

	argvTable := scratch + wordSize
	stringBase := userStack + wordSize + (argc+1)*wordSize
	stringOffset := uintptr(0)

	*(*uintptr)(unsafe.Pointer(scratch)) = argc
	for i, a := range argv {
		*(*uintptr)(unsafe.Pointer(argvTable + uintptr(i)*wordSize)) = stringBase + stringOffset

		dst := argvTable + (argc+1)*wordSize + stringOffset
		if len(a) > 0 {
			kernel.Memcopy(uintptr(unsafe.Pointer(&[]byte(a)[0])), dst, uintptr(len(a)))
		}
		stringOffset += uintptr(len(a)) + 1
	}

	prevPDT := activePDTFn()
	proc.AddressSpace.Load()
	kernel.Memcopy(scratch, userStack, totalSize)
	switchPDTFn(prevPDT)

	proc.UserStackTop = userStack

	userRspSlot := uintptr(proc.Context.RSP) + wordSize
	*(*uintptr)(unsafe.Pointer(userRspSlot)) = userStack

	return nil
}
