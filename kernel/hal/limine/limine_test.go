package limine

import (
	"testing"
)

func TestVisitMemoryMap(t *testing.T) {
	entries := []*MemoryMapEntry{
		{Base: 0, Length: 0x1000, Type: MemoryMapUsable},
		{Base: 0x1000, Length: 0x2000, Type: MemoryMapReserved},
		{Base: 0x3000, Length: 0x1000, Type: MemoryMapBootloaderReclaimable},
	}

	resp := memmapResponse{
		entryCount: uint64(len(entries)),
		entries:    &entries[0],
	}
	memmapResponsePtr = &resp
	defer func() { memmapResponsePtr = nil }()

	var got []*MemoryMapEntry
	VisitMemoryMap(func(e *MemoryMapEntry) bool {
		got = append(got, e)
		return true
	})

	if len(got) != len(entries) {
		t.Fatalf("got %d entries; want %d", len(got), len(entries))
	}
	for i, e := range got {
		if *e != *entries[i] {
			t.Errorf("entry %d: got %+v; want %+v", i, *e, *entries[i])
		}
	}
}

func TestVisitMemoryMapAbort(t *testing.T) {
	entries := []*MemoryMapEntry{
		{Base: 0, Length: 0x1000, Type: MemoryMapUsable},
		{Base: 0x1000, Length: 0x1000, Type: MemoryMapUsable},
	}
	resp := memmapResponse{entryCount: uint64(len(entries)), entries: &entries[0]}
	memmapResponsePtr = &resp
	defer func() { memmapResponsePtr = nil }()

	var visits int
	VisitMemoryMap(func(_ *MemoryMapEntry) bool {
		visits++
		return false
	})

	if visits != 1 {
		t.Fatalf("got %d visits; want 1 (abort after first)", visits)
	}
}

func TestVisitMemoryMapNoResponse(t *testing.T) {
	memmapResponsePtr = nil

	var visited bool
	VisitMemoryMap(func(_ *MemoryMapEntry) bool {
		visited = true
		return true
	})

	if visited {
		t.Fatal("expected no visits when no memmap response is registered")
	}
}

func TestHHDMOffset(t *testing.T) {
	if got := HHDMOffset(); got != 0 {
		t.Fatalf("got %#x; want 0 with no response registered", got)
	}

	resp := hhdmResponse{offset: 0xFFFF_8000_0000_0000}
	hhdmResponsePtr = &resp
	defer func() { hhdmResponsePtr = nil }()

	if got, want := HHDMOffset(), uintptr(0xFFFF_8000_0000_0000); got != want {
		t.Fatalf("got %#x; want %#x", got, want)
	}
}

func TestPrimaryFramebuffer(t *testing.T) {
	if got := PrimaryFramebuffer(); got != nil {
		t.Fatalf("expected nil with no response registered; got %+v", got)
	}

	fb := &Framebuffer{Address: 0x1000, Width: 1024, Height: 768, Pitch: 4096, Bpp: 32, MemoryModel: FramebufferRGB}
	resp := framebufferResponse{framebufferCount: 1, framebuffers: &fb}
	framebufferResponsePtr = &resp
	defer func() { framebufferResponsePtr = nil }()

	got := PrimaryFramebuffer()
	if got == nil || *got != *fb {
		t.Fatalf("got %+v; want %+v", got, fb)
	}
}

func TestModules(t *testing.T) {
	pathBytes := append([]byte("/shell.elf"), 0)
	f := &File{Address: 0x2000, Size: 4096, path: &pathBytes[0]}
	resp := moduleResponse{moduleCount: 1, modules: &f}
	moduleResponsePtr = &resp
	defer func() { moduleResponsePtr = nil }()

	mods := Modules()
	if len(mods) != 1 {
		t.Fatalf("got %d modules; want 1", len(mods))
	}
	if mods[0].Path() != "/shell.elf" {
		t.Fatalf("got path %q; want /shell.elf", mods[0].Path())
	}
}

func TestCString(t *testing.T) {
	if got := cString(nil); got != "" {
		t.Fatalf("got %q; want empty string for nil pointer", got)
	}

	raw := append([]byte("hello"), 0)
	if got := cString(&raw[0]); got != "hello" {
		t.Fatalf("got %q; want %q", got, "hello")
	}
}
