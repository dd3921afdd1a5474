package vmm

import (
	"nyx/kernel/mem/pmm"
	"testing"
)

func TestPteFlags(t *testing.T) {
	var pte pageTableEntry

	if pte.HasFlags(FlagPresent) {
		t.Fatal("expected new entry to have no flags set")
	}

	pte.SetFlags(FlagPresent | FlagRW)
	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected FlagPresent|FlagRW to be set")
	}
	if pte.HasFlags(FlagUser) {
		t.Fatal("did not expect FlagUser to be set")
	}
	if !pte.HasAnyFlag(FlagUser | FlagRW) {
		t.Fatal("expected HasAnyFlag to detect FlagRW")
	}

	pte.ClearFlags(FlagRW)
	if pte.HasFlags(FlagRW) {
		t.Fatal("expected FlagRW to be cleared")
	}
}

func TestPteFrame(t *testing.T) {
	var pte pageTableEntry
	pte.SetFlags(FlagPresent | FlagRW | FlagNoExecute)

	want := pmm.Frame(0x1234)
	pte.SetFrame(want)

	if got := pte.Frame(); got != want {
		t.Fatalf("got frame %#x; want %#x", got, want)
	}
	if !pte.HasFlags(FlagPresent | FlagRW | FlagNoExecute) {
		t.Fatal("SetFrame must not disturb existing flags")
	}

	other := pmm.Frame(0x5678)
	pte.SetFrame(other)
	if got := pte.Frame(); got != other {
		t.Fatalf("got frame %#x after re-set; want %#x", got, other)
	}
}

func TestEntryIndex(t *testing.T) {
	specs := []struct {
		addr  uintptr
		level int
		want  uintptr
	}{
		{0x0000_0000_0000_0000, 0, 0},
		{0xFFFF_8000_0000_0000, 0, 256},
		{0x0000_0000_4020_1000, 3, 1},
	}

	for _, spec := range specs {
		if got := entryIndex(spec.addr, spec.level); got != spec.want {
			t.Errorf("entryIndex(%#x, %d) = %d; want %d", spec.addr, spec.level, got, spec.want)
		}
	}
}
