package syscall

import (
	"nyx/kernel/hal/limine"
	"nyx/kernel/mem"
	"nyx/kernel/mem/pmm"
	"nyx/kernel/mem/vmm"
	"unsafe"
)

// the following are mocked by tests.
var (
	primaryFramebufferFn = limine.PrimaryFramebuffer
	allocFrameFn         = pmm.FrameAllocator.AllocFrame
)

func sysExit(code uint64) uint64 {
	if err := exitFn(int32(code)); err != nil {
		return errResult
	}
	return 0
}

func sysWrite(fd, buf, count uint64) uint64 {
	if fd != 1 && fd != 2 {
		return errResult
	}
	if count == 0 {
		return 0
	}
	if Console == nil || !validUserPointer(uintptr(buf), uintptr(count)) {
		return errResult
	}

	n, err := Console.Write(userBytes(uintptr(buf), uintptr(count)))
	if err != nil {
		return errResult
	}
	return uint64(n)
}

// sysRead always fails: fd 0 would read from a PS/2 keyboard, and no
// keyboard driver exists here, matching the original's "no keyboard"
// fallback when globalKeyboard is null.
func sysRead(fd, buf, count uint64) uint64 {
	return errResult
}

// sysOpen and sysClose always fail: this kernel only exposes a read-only,
// pre-mounted module namespace, not real per-process file descriptors. A
// process loads files the only way this ABI supports: implicitly, through
// sys_exec.
func sysOpen(path, flags, mode uint64) uint64 {
	return errResult
}

func sysClose(fd uint64) uint64 {
	return errResult
}

func sysGetPID() uint64 {
	p := currentFn()
	if p == nil {
		return 0
	}
	return uint64(p.PID)
}

// sysFork always fails: this kernel has no copy-on-write address-space
// duplication to back a real fork.
func sysFork() uint64 {
	return errResult
}

func sysExec(pathPtr, argvPtr, envpPtr uint64) uint64 {
	path, ok := userCString(uintptr(pathPtr))
	if !ok {
		return errResult
	}
	argv, ok := userArgv(uintptr(argvPtr))
	if !ok {
		return errResult
	}

	f, err := openFn(path)
	if err != nil {
		return errResult
	}
	image := f.ReadAll()

	newProc, err := loadWithArgsFn(image, argv)
	if err != nil {
		return errResult
	}

	if current := currentFn(); current != nil {
		newProc.ParentPID = current.PID
	}

	if err := addProcessFn(newProc); err != nil {
		return errResult
	}
	yieldFn()
	return 0
}

// sysWait reports success without ever blocking, matching the original:
// Process.State never gains a "waiting for a child" phase, so a 0 result
// only confirms that pid names a child of the caller, not that the child
// has exited.
func sysWait(pid, statusPtr uint64) uint64 {
	current := currentFn()
	if current == nil {
		return errResult
	}

	child := lookupFn(uint32(pid))
	if child == nil || child.ParentPID != current.PID {
		return errResult
	}

	if statusPtr != 0 {
		if !validUserPointer(uintptr(statusPtr), unsafe.Sizeof(int32(0))) {
			return errResult
		}
		*(*int32)(unsafe.Pointer(uintptr(statusPtr))) = 0
	}
	return 0
}

func sysKill(pid, sig uint64) uint64 {
	target := lookupFn(uint32(pid))
	if target == nil {
		return errResult
	}
	if err := target.SendSignal(int(sig)); err != nil {
		return errResult
	}
	return 0
}

// sysMmap and sysMunmap always fail: every mapping a process has is fixed
// up front by the ELF loader or sys_fb_info, with no general-purpose
// on-demand mapping support.
func sysMmap(addr, length, prot uint64) uint64 {
	return errResult
}

func sysMunmap(addr, length uint64) uint64 {
	return errResult
}

func sysYield() uint64 {
	if err := yieldFn(); err != nil {
		return errResult
	}
	return 0
}

// sysSleep always fails with no timer installed: it requires a millisecond
// clock, and no PIT/HPET driver is implemented to back one, matching the
// original's "if (!globalTimer) return -1" guard.
func sysSleep(ms uint64) uint64 {
	if MillisecondsFn == nil {
		return errResult
	}
	target := MillisecondsFn() + ms
	for MillisecondsFn() < target {
	}
	return 0
}

// sysGetTime returns 0 with no timer installed, matching the original's
// "if (!globalTimer) return 0" guard.
func sysGetTime() uint64 {
	if MillisecondsFn == nil {
		return 0
	}
	return MillisecondsFn()
}

// sysClear writes the ANSI "clear screen" escape sequence to the console,
// same as the original; whether the active console interprets it is up to
// that console's driver, since no framebuffer ANSI parser is implemented
// here.
func sysClear() uint64 {
	if Console == nil {
		return 0
	}
	Console.Write([]byte("\033[2J"))
	return 0
}

// fbInfo mirrors the original's (unpacked) FBInfo struct field-for-field;
// since neither side uses a packed attribute, Go's natural alignment
// produces the identical 24-byte layout the C++ compiler does.
type fbInfo struct {
	Addr   uint64
	Width  uint32
	Height uint32
	Pitch  uint32
	Bpp    uint16
}

func sysFBInfo(infoPtr uint64) uint64 {
	fb := primaryFramebufferFn()
	if fb == nil {
		return errResult
	}
	current := currentFn()
	if current == nil {
		return errResult
	}
	if !validUserPointer(uintptr(infoPtr), unsafe.Sizeof(fbInfo{})) {
		return errResult
	}

	fbPhys := fb.Address - mem.HHDMOffset()
	size := mem.Size(fb.Pitch) * mem.Size(fb.Height)
	pages := mem.Pages(size)

	for i := mem.Size(0); i < pages; i++ {
		v := vmm.UserFramebufferBase + uintptr(i)*uintptr(mem.PageSize)
		f := pmm.FrameFromAddress(fbPhys + uintptr(i)*uintptr(mem.PageSize))
		flags := vmm.FlagRW | vmm.FlagUser | vmm.FlagCacheDisable
		if err := current.AddressSpace.Map(v, f, flags, allocFrameFn); err != nil {
			return errResult
		}
	}

	info := (*fbInfo)(unsafe.Pointer(uintptr(infoPtr)))
	info.Addr = uint64(vmm.UserFramebufferBase)
	info.Width = uint32(fb.Width)
	info.Height = uint32(fb.Height)
	info.Pitch = uint32(fb.Pitch)
	info.Bpp = 4
	return 0
}

// sysFBMap is reserved and not implemented: the original's version maps no
// memory at all despite its name (its own comment reads "todo: do actual
// mapping"), so there is no real behavior here worth reproducing. Use
// sys_fb_info instead, which does establish a real user-space mapping.
func sysFBMap() uint64 {
	return errResult
}

func sysSignal(sig, handler uint64) uint64 {
	current := currentFn()
	if current == nil {
		return errResult
	}
	old := current.Signals.Handler(int(sig))
	if err := current.Signals.SetHandler(int(sig), uintptr(handler)); err != nil {
		return errResult
	}
	return uint64(old)
}

// sysSigReturn unwinds the one-word frame deliverPendingSignal built: the
// interrupted RIP sits at the top of the stack the handler was entered
// with, and RSP is restored past the fixed-size trampoline frame, mirroring
// the original's "rsp += 128" literal.
func sysSigReturn() uint64 {
	current := currentFn()
	if current == nil {
		return errResult
	}
	sp := uintptr(current.Context.RSP)
	current.Context.RIP = *(*uint64)(unsafe.Pointer(sp))
	current.Context.RSP += 128
	return 0
}
