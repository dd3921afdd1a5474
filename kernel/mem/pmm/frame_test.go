package pmm

import (
	"nyx/kernel/mem"
	"testing"
)

func TestFrameValid(t *testing.T) {
	if !Frame(0).Valid() {
		t.Fatal("expected frame 0 to be valid")
	}
	if InvalidFrame.Valid() {
		t.Fatal("expected InvalidFrame to be invalid")
	}
}

func TestFrameAddress(t *testing.T) {
	f := Frame(3)
	if got, want := f.Address(), uintptr(3)*uintptr(mem.PageSize); got != want {
		t.Fatalf("got %#x; want %#x", got, want)
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		addr uintptr
		want Frame
	}{
		{0, 0},
		{uintptr(mem.PageSize), 1},
		{uintptr(mem.PageSize) + 1, 1},
		{uintptr(mem.PageSize)*10 + 42, 10},
	}

	for _, spec := range specs {
		if got := FrameFromAddress(spec.addr); got != spec.want {
			t.Errorf("FrameFromAddress(%#x) = %d; want %d", spec.addr, got, spec.want)
		}
	}
}
