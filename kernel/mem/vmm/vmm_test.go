package vmm

import (
	"nyx/kernel/cpu"
	"nyx/kernel/irq"
	"nyx/kernel/mem"
	"testing"
)

func TestInitAdoptsActivePDT(t *testing.T) {
	defer func() {
		activePDTFn = cpu.ActivePDT
		handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	}()

	mem.SetHHDMOffset(0)

	const fakeTop = uintptr(0x0000_0000_0030_0000)
	activePDTFn = func() uintptr { return fakeTop }

	var registered []irq.ExceptionNum
	handleExceptionWithCodeFn = func(num irq.ExceptionNum, _ irq.ExceptionHandlerWithCode) {
		registered = append(registered, num)
	}

	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if Kernel.topAddr != fakeTop {
		t.Fatalf("got Kernel.topAddr %#x; want %#x", Kernel.topAddr, fakeTop)
	}
	if len(registered) != 2 || registered[0] != irq.PageFaultException || registered[1] != irq.GPFException {
		t.Fatalf("unexpected exception handlers registered: %v", registered)
	}
}

func TestPageFaultHandlerPanics(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		if r := recover(); r != errUnrecoverableFault {
			t.Fatalf("recovered %v; want errUnrecoverableFault", r)
		}
	}()

	readCR2Fn = func() uint64 { return 0xdead0000 }

	var frame irq.Frame
	var regs irq.Regs
	pageFaultHandler(1, &frame, &regs)

	t.Fatal("pageFaultHandler was expected to panic")
}

func TestGeneralProtectionFaultHandlerPanics(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		if r := recover(); r != errUnrecoverableFault {
			t.Fatalf("recovered %v; want errUnrecoverableFault", r)
		}
	}()

	readCR2Fn = func() uint64 { return 0 }

	var frame irq.Frame
	var regs irq.Regs
	generalProtectionFaultHandler(0, &frame, &regs)

	t.Fatal("generalProtectionFaultHandler was expected to panic")
}
