package vmm

import (
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
	"testing"
)

func TestAddressSpaceMapUnmapTranslate(t *testing.T) {
	mem.SetHHDMOffset(0)
	alloc := newTestFrameAllocator()

	as, err := New(alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dataFrame, err := alloc()
	if err != nil {
		t.Fatalf("alloc data frame: %v", err)
	}

	const virt = uintptr(0x0000_0000_0040_1000)
	if err := as.Map(virt, dataFrame, FlagPresent|FlagRW, alloc); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, err := as.Translate(virt)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if want := dataFrame.Address(); got != want {
		t.Fatalf("Translate(%#x) = %#x; want %#x", virt, got, want)
	}

	const offset = uintptr(0x42)
	got, err = as.Translate(virt + offset)
	if err != nil {
		t.Fatalf("Translate with offset: %v", err)
	}
	if want := dataFrame.Address() + offset; got != want {
		t.Fatalf("Translate(%#x) = %#x; want %#x", virt+offset, got, want)
	}

	as.Unmap(virt)
	if _, err := as.Translate(virt); err != ErrInvalidMapping {
		t.Fatalf("Translate after Unmap: got err %v; want ErrInvalidMapping", err)
	}
}

func TestAddressSpaceTranslateMissing(t *testing.T) {
	mem.SetHHDMOffset(0)
	alloc := newTestFrameAllocator()

	as, err := New(alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := as.Translate(0xdead_b000); err != ErrInvalidMapping {
		t.Fatalf("got err %v; want ErrInvalidMapping", err)
	}
}

func TestAddressSpaceCloneKernelHalf(t *testing.T) {
	mem.SetHHDMOffset(0)
	alloc := newTestFrameAllocator()

	kernel, err := New(alloc)
	if err != nil {
		t.Fatalf("New(kernel): %v", err)
	}

	kernelFrame, err := alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	const kernelVirt = uintptr(0xFFFF_8000_0010_0000)
	if err := kernel.Map(kernelVirt, kernelFrame, FlagPresent|FlagRW, alloc); err != nil {
		t.Fatalf("Map into kernel half: %v", err)
	}

	proc, err := New(alloc)
	if err != nil {
		t.Fatalf("New(proc): %v", err)
	}
	proc.CloneKernelHalf(&kernel)

	got, err := proc.Translate(kernelVirt)
	if err != nil {
		t.Fatalf("Translate through cloned half: %v", err)
	}
	if want := kernelFrame.Address(); got != want {
		t.Fatalf("got %#x; want %#x", got, want)
	}

	// A mapping made in the kernel's lower half must stay invisible to proc.
	userFrame, err := alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	const userVirt = uintptr(0x0000_0000_0020_0000)
	if err := kernel.Map(userVirt, userFrame, FlagPresent|FlagRW, alloc); err != nil {
		t.Fatalf("Map into kernel's lower half: %v", err)
	}
	if _, err := proc.Translate(userVirt); err != ErrInvalidMapping {
		t.Fatalf("lower half leaked into clone: err = %v", err)
	}
}

func TestAddressSpaceMapPropagatesUserFlag(t *testing.T) {
	mem.SetHHDMOffset(0)
	alloc := newTestFrameAllocator()

	as, err := New(alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	frame, err := alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	const virt = uintptr(0x0000_0000_0060_0000)
	if err := as.Map(virt, frame, FlagPresent|FlagRW|FlagUser, alloc); err != nil {
		t.Fatalf("Map: %v", err)
	}

	var sawUser bool
	walk(as.topAddr, virt, func(level int, pte *pageTableEntry) bool {
		if level < pageLevels-1 {
			sawUser = sawUser || pte.HasFlags(FlagUser)
		}
		return pte.HasFlags(FlagPresent)
	})
	if !sawUser {
		t.Fatal("expected FlagUser to propagate to intermediate page-table entries")
	}
}

func TestAddressSpaceTopFrame(t *testing.T) {
	mem.SetHHDMOffset(0)
	alloc := newTestFrameAllocator()

	as, err := New(alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if as.TopFrame() == pmm.InvalidFrame {
		t.Fatal("expected a valid top frame")
	}
}
