package elf

import (
	"nyx/kernel"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
	"nyx/kernel/mem/vmm"
	"nyx/kernel/process"
	"testing"
	"unsafe"
)

// withFakeDependencies replaces every seam Load touches with an in-memory
// fake so tests never need a real page-table hierarchy, frame allocator or
// heap. The fake newProcessFn backs KernelStackTop with an ordinary Go byte
// slice, since setupTrampoline/setupArguments write through it with raw
// pointers.
func withFakeDependencies(t *testing.T) {
	t.Helper()

	prevPID, prevNewProc, prevAllocFrames, prevFreeFrames, prevAllocFrame, prevMap :=
		allocatePIDFn, newProcessFn, allocFramesFn, freeFramesFn, allocFrameFn, mapFn
	prevHeapAlloc, prevHeapFree, prevActivePDT, prevSwitchPDT, prevTrampoline :=
		heapAllocateFn, heapFreeFn, activePDTFn, switchPDTFn, trampolineAddrFn

	t.Cleanup(func() {
		allocatePIDFn, newProcessFn, allocFramesFn, freeFramesFn, allocFrameFn, mapFn =
			prevPID, prevNewProc, prevAllocFrames, prevFreeFrames, prevAllocFrame, prevMap
		heapAllocateFn, heapFreeFn, activePDTFn, switchPDTFn, trampolineAddrFn =
			prevHeapAlloc, prevHeapFree, prevActivePDT, prevSwitchPDT, prevTrampoline
	})

	var nextPID uint32
	allocatePIDFn = func() uint32 {
		nextPID++
		return nextPID
	}

	kernelStack := make([]byte, 16*1024)
	kernelStackTop := uintptr(unsafe.Pointer(&kernelStack[len(kernelStack)-1])) + 1

	newProcessFn = func(pid, parentPID uint32) (*process.Process, *kernel.Error) {
		return &process.Process{
			PID:            pid,
			ParentPID:      parentPID,
			State:          process.StateNew,
			UserStackTop:   0x0000_7000_0000_0000,
			KernelStackTop: kernelStackTop,
		}, nil
	}

	var nextFrame pmm.Frame
	allocFramesFn = func(count uint64) (pmm.Frame, *kernel.Error) {
		nextFrame += pmm.Frame(count)
		return nextFrame, nil
	}
	allocFrameFn = func() (pmm.Frame, *kernel.Error) {
		nextFrame++
		return nextFrame, nil
	}
	freeFramesFn = func(pmm.Frame, uint64) {}

	mapFn = func(*vmm.AddressSpace, uintptr, pmm.Frame, vmm.PteFlag, vmm.FrameAllocatorFn) *kernel.Error {
		return nil
	}

	var bump uintptr = 0x2000
	heapAllocateFn = func(n mem.Size) (uintptr, *kernel.Error) {
		p := bump
		bump += uintptr(mem.AlignUp(n, 16))
		return p, nil
	}
	heapFreeFn = func(uintptr) {}

	activePDTFn = func() uintptr { return 0 }
	switchPDTFn = func(uintptr) {}

	trampolineAddrFn = func() uintptr { return 0xffff_8000_0010_0000 }
}

// buildImage assembles a minimal one-segment ET_EXEC/EM_X86_64 ELF64 image
// with a single PT_LOAD segment containing payload at vaddr.
func buildImage(vaddr uint64, payload []byte) []byte {
	const phoff = ehdrSize
	phdrSize := int(unsafe.Sizeof(Phdr{}))
	buf := make([]byte, phoff+phdrSize+len(payload))

	ehdr := ehdrAt(buf)
	ehdr.Ident[eiMag0] = magic0
	ehdr.Ident[eiMag1] = magic1
	ehdr.Ident[eiMag2] = magic2
	ehdr.Ident[eiMag3] = magic3
	ehdr.Ident[eiClass] = classELF64
	ehdr.Ident[eiData] = dataLSB
	ehdr.Type = typeExec
	ehdr.Machine = machineX8664
	ehdr.Entry = vaddr
	ehdr.Phoff = phoff
	ehdr.Phentsize = uint16(phdrSize)
	ehdr.Phnum = 1

	ph := phdrAt(buf, ehdr, 0)
	ph.Type = ptLoad
	ph.Flags = pfR | pfX
	ph.Offset = uint64(phoff + phdrSize)
	ph.Vaddr = vaddr
	ph.Filesz = uint64(len(payload))
	ph.Memsz = uint64(len(payload))

	copy(buf[phoff+phdrSize:], payload)
	return buf
}

func TestParseRejectsTooSmallImage(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected a too-small image to be rejected")
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	img := buildImage(0x400000, []byte{0x90})
	img[0] = 0x00
	if _, err := Parse(img); err == nil {
		t.Fatal("expected a bad magic number to be rejected")
	}
}

func TestParseAcceptsValidImage(t *testing.T) {
	img := buildImage(0x400000, []byte{0x90, 0x90})
	parsed, err := Parse(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Entry() != 0x400000 {
		t.Fatalf("got entry %#x; want 0x400000", parsed.Entry())
	}
	if len(parsed.Segments()) != 1 {
		t.Fatalf("got %d PT_LOAD segments; want 1", len(parsed.Segments()))
	}
}

func TestLoadRejectsMalformedImageWithoutCreatingAProcess(t *testing.T) {
	withFakeDependencies(t)

	called := false
	newProcessFn = func(uint32, uint32) (*process.Process, *kernel.Error) {
		called = true
		return nil, nil
	}

	if _, err := Load([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected a malformed image to be rejected")
	}
	if called {
		t.Fatal("expected Load to reject the image before ever creating a process")
	}
}

func TestLoadMapsSegmentAndSetsUpTrampoline(t *testing.T) {
	withFakeDependencies(t)

	img := buildImage(0x401000, []byte{0x90, 0x90, 0x90})
	proc, err := Load(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if proc.Context.RIP != uint64(trampolineAddrFn()) {
		t.Fatalf("got RIP %#x; want the trampoline address", proc.Context.RIP)
	}
	if proc.Context.RFlags != 0x202 {
		t.Fatalf("got RFlags %#x; want 0x202", proc.Context.RFlags)
	}
	if !proc.ValidUserState {
		t.Fatal("expected ValidUserState to be set after a successful load")
	}

	// The pushed entry point/user stack top should be readable back off
	// the kernel stack the trampoline will pop them from.
	savedEntry := *(*uintptr)(unsafe.Pointer(uintptr(proc.Context.RSP)))
	if savedEntry != 0x401000 {
		t.Fatalf("got saved entry %#x; want 0x401000", savedEntry)
	}
}

func TestLoadReleasesFramesOnMapFailure(t *testing.T) {
	withFakeDependencies(t)

	var freed []uint64
	freeFramesFn = func(_ pmm.Frame, count uint64) { freed = append(freed, count) }
	mapFn = func(*vmm.AddressSpace, uintptr, pmm.Frame, vmm.PteFlag, vmm.FrameAllocatorFn) *kernel.Error {
		return &kernel.Error{Module: "elf", Message: "simulated mapping failure"}
	}

	img := buildImage(0x401000, []byte{0x90})
	if _, err := Load(img); err == nil {
		t.Fatal("expected a mapping failure to surface as an error")
	}
	if len(freed) != 1 {
		t.Fatalf("expected the segment's frames to be released exactly once, got %d releases", len(freed))
	}
}

func TestLoadWithArgsMarshalsArgv(t *testing.T) {
	withFakeDependencies(t)

	img := buildImage(0x401000, []byte{0x90})
	proc, err := LoadWithArgs(img, []string{"init", "-v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proc.UserStackTop%16 != 0 {
		t.Fatalf("got user stack top %#x; want 16-byte aligned", proc.UserStackTop)
	}
}
