package goruntime

import (
	"nyx/kernel"
	"nyx/kernel/mem"
	"testing"
)

// withFakeReserve replaces earlyReserveRegionFn with an in-memory bump
// allocator so sysReserve can be exercised without a real kernel address
// space. sysMap/sysAlloc additionally call vmm.Kernel.Map directly (not
// behind a seam), so they are left untested here: exercising them needs a
// real page-table hierarchy, not a fake.
func withFakeReserve(t *testing.T) {
	t.Helper()
	prev := earlyReserveRegionFn
	t.Cleanup(func() { earlyReserveRegionFn = prev })

	var bump uintptr = 0x1000_0000
	earlyReserveRegionFn = func(size mem.Size) (uintptr, *kernel.Error) {
		start := bump
		bump += uintptr(mem.AlignUp(size, mem.PageSize))
		return start, nil
	}
}

func TestSysReserveRoundsUpToPageSize(t *testing.T) {
	withFakeReserve(t)

	var requested mem.Size
	reserve := earlyReserveRegionFn
	earlyReserveRegionFn = func(size mem.Size) (uintptr, *kernel.Error) {
		requested = size
		return reserve(size)
	}

	var reserved bool
	got := sysReserve(nil, 1, &reserved)
	if requested != mem.PageSize {
		t.Fatalf("expected a 1-byte request to reserve %d bytes; got %d", mem.PageSize, requested)
	}
	if !reserved {
		t.Fatal("expected sysReserve to mark the region as reserved")
	}
	if got == nil {
		t.Fatal("expected a non-nil region pointer")
	}
}

func TestSysReservePanicsWhenRegionExhausted(t *testing.T) {
	prev := earlyReserveRegionFn
	defer func() { earlyReserveRegionFn = prev }()
	earlyReserveRegionFn = func(mem.Size) (uintptr, *kernel.Error) {
		return 0, &kernel.Error{Module: "vmm", Message: "kernel address space exhausted"}
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected sysReserve to panic when the region cannot be reserved")
		}
	}()

	var reserved bool
	sysReserve(nil, mem.PageSize, &reserved)
}

func TestNanotimeReturnsNonZero(t *testing.T) {
	if got := nanotime(); got == 0 {
		t.Fatal("expected a non-zero dummy clock value")
	}
}

func TestGetRandomDataFillsBuffer(t *testing.T) {
	prevSeed := prngSeed
	defer func() { prngSeed = prevSeed }()

	buf := make([]byte, 32)
	getRandomData(buf)

	var allZero = true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatal("expected getRandomData to populate the buffer with non-zero bytes")
	}
}

func TestGetRandomDataIsDeterministicFromSeed(t *testing.T) {
	prevSeed := prngSeed
	defer func() { prngSeed = prevSeed }()

	prngSeed = 1
	a := make([]byte, 8)
	getRandomData(a)

	prngSeed = 1
	b := make([]byte, 8)
	getRandomData(b)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected the same seed to produce the same stream, got %v vs %v", a, b)
		}
	}
}
