// Package syscall implements the system-call dispatcher: user-mode processes
// request kernel services through a fixed, numbered table of operations,
// exactly as the original kernel's Syscall class does, entered through the
// MSR-configured SYSCALL/SYSRET fast-call pair rather than a software
// interrupt — entry_amd64.s is the assembly side, routeSyscall below is
// where a register snapshot first reaches Go. initMSRs programs
// STAR/LSTAR/SFMASK and sets EFER.SCE so SYSCALL/SYSRET are legal
// instructions in the first place.
package syscall

import (
	"io"
	"nyx/kernel/cpu"
	"nyx/kernel/elf"
	"nyx/kernel/gate"
	"nyx/kernel/process"
	"nyx/kernel/sched"
	"nyx/kernel/vfs"
	"unsafe"
)

// Number identifies a syscall, matching the original kernel's SyscallNumber
// enum.
type Number uint64

// The syscall numbers, fixed for the lifetime of the ABI.
const (
	SysExit Number = iota
	SysWrite
	SysRead
	SysOpen
	SysClose
	SysGetPID
	SysFork
	SysExec
	SysWait
	SysKill
	SysMmap
	SysMunmap
	SysYield
	SysSleep
	SysGetTime
	SysClear
	SysFBInfo
	SysFBMap
	SysSignal
	SysSigReturn
)

// errResult is returned, reinterpreted as -1, by any syscall that fails —
// the original kernel's uniform (uint64_t)-1 error convention.
const errResult = ^uint64(0)

// Console is the writer SysWrite and SysClear target for fds 1 and 2. It is
// nil until kmain assigns the active console/tty device; writes attempted
// before that point fail exactly like the original's `if (!console)` guard.
var Console io.Writer

// MillisecondsFn reports the number of milliseconds since boot, backing
// SysSleep/SysGetTime. It is nil until a timer driver sets it: no PIT/HPET
// driver is implemented, so by default every clock syscall fails the same
// way the original does when globalTimer is null.
var MillisecondsFn func() uint64

// the following are mocked by tests.
var (
	currentFn      = sched.Global.Current
	exitFn         = sched.Global.Exit
	yieldFn        = sched.Global.Yield
	lookupFn       = sched.Global.Lookup
	addProcessFn   = sched.Global.AddProcess
	openFn         = vfs.Root.Open
	loadWithArgsFn = elf.LoadWithArgs
)

// The model-specific registers initMSRs programs. IA32_KERNEL_GS_BASE is
// amd64's general-purpose "stash a pointer for SWAPGS to find" register;
// every other one here exists solely to configure SYSCALL/SYSRET.
const (
	msrEFER         = 0xC0000080
	msrSTAR         = 0xC0000081
	msrLSTAR        = 0xC0000082
	msrSFMASK       = 0xC0000084
	msrKernelGSBase = 0xC0000102

	eferSCE = 1 << 0
)

// cpuState is the per-CPU area entry_amd64.s reaches through GS after
// SWAPGS. There is exactly one instance: this kernel never runs on more
// than one core.
var cpuState struct {
	kernelStackTop uint64
	userRSPScratch uint64
}

func syscallEntryAddr() uintptr

// Init programs the MSRs that turn SYSCALL/SYSRET into legal, correctly
// targeted instructions and registers with the scheduler so every dispatch
// keeps cpuState.kernelStackTop pointed at whichever process is about to
// run.
func Init() {
	initMSRs()
	sched.SetOnDispatch(setKernelStackTop)
}

func initMSRs() {
	cpu.WriteMSR(msrEFER, cpu.ReadMSR(msrEFER)|eferSCE)

	// STAR[47:32] is the SYSCALL entry base: CS = that field, SS = that
	// field + 8, which is exactly gate.KernelCS/gate.KernelDS. STAR[63:48]
	// is the SYSRETQ return base: SS = base+8, CS = base+16 — see
	// gate.UserCS's doc comment for why that needs its own GDT slot.
	const sysretBase = 0x18
	const syscallBase = gate.KernelCS
	star := uint64(sysretBase)<<48 | uint64(syscallBase)<<32
	cpu.WriteMSR(msrSTAR, star)

	cpu.WriteMSR(msrLSTAR, uint64(syscallEntryAddr()))

	// SFMASK bits are cleared from RFLAGS on entry; clearing IF here means
	// syscallEntry always starts with interrupts off, same as every gate
	// dispatch.
	cpu.WriteMSR(msrSFMASK, 0x200)

	cpu.WriteMSR(msrKernelGSBase, uint64(uintptr(unsafe.Pointer(&cpuState))))
}

// setKernelStackTop is sched's onDispatch callback, keeping cpuState in
// sync with whichever process Tick/dispatchNext is about to switch into so
// the next SYSCALL from that process lands on the right stack.
func setKernelStackTop(top uintptr) {
	cpuState.kernelStackTop = uint64(top)
}

// routeSyscall is the Go side of a syscall trap: it mirrors the original's
// saveSyscallState by copying the freshly trapped register snapshot into
// the calling process's Context before dispatch, since every other syscall
// handler identifies "the current process" through the scheduler rather
// than through regs directly, dispatches, then writes the result back into
// RAX and delivers any signal that became pending meanwhile.
//
// The syscall number travels in RAX, not a dedicated trap field: SYSCALL
// doesn't push one, and RAX is also where the ABI expects the result on
// return, same dual role the hardware gives it on Linux.
//
// Note: SysExit/SysExec/SysYield/SysKill may switch to a different
// process's context mid-dispatch (via the scheduler's contextSwitchFn, its
// own IRETQ). When that happens entry_amd64.s's SYSRETQ never resumes the
// interrupted frame this regs snapshot describes — it resumes whatever
// dispatchNext switched to instead.
func routeSyscall(regs *gate.Registers) {
	if p := currentFn(); p != nil {
		p.Context = *regs
		p.ValidUserState = true
	}

	num := Number(regs.RAX)
	result := Dispatch(num, regs.RDI, regs.RSI, regs.RDX, regs.R10, regs.R8)

	if p := currentFn(); p != nil {
		deliverPendingSignal(p)
		*regs = p.Context
	}
	regs.RAX = result
}

// Dispatch runs the syscall identified by num with up to five arguments,
// exactly as Syscall::handle's switch does, and returns the raw result
// value the ABI places in RAX.
func Dispatch(num Number, a1, a2, a3, a4, a5 uint64) uint64 {
	switch num {
	case SysExit:
		return sysExit(a1)
	case SysWrite:
		return sysWrite(a1, a2, a3)
	case SysRead:
		return sysRead(a1, a2, a3)
	case SysOpen:
		return sysOpen(a1, a2, a3)
	case SysClose:
		return sysClose(a1)
	case SysGetPID:
		return sysGetPID()
	case SysFork:
		return sysFork()
	case SysExec:
		return sysExec(a1, a2, a3)
	case SysWait:
		return sysWait(a1, a2)
	case SysKill:
		return sysKill(a1, a2)
	case SysMmap:
		return sysMmap(a1, a2, a3)
	case SysMunmap:
		return sysMunmap(a1, a2)
	case SysYield:
		return sysYield()
	case SysSleep:
		return sysSleep(a1)
	case SysGetTime:
		return sysGetTime()
	case SysClear:
		return sysClear()
	case SysFBInfo:
		return sysFBInfo(a1)
	case SysFBMap:
		return sysFBMap()
	case SysSignal:
		return sysSignal(a1, a2)
	case SysSigReturn:
		return sysSigReturn()
	default:
		return errResult
	}
}

// deliverPendingSignal pushes the calling process into its handler for the
// lowest-numbered pending signal, building the same trampoline frame
// sys_sigreturn unwinds: the interrupted RIP, saved at the bottom of a
// 128-byte region below the old RSP, then jumping to the
// handler with the signal number in RDI (the amd64 first-argument
// register). Processes with no installed handler for a pending signal (the
// default disposition) are terminated, matching a Unix default action.
func deliverPendingSignal(p *process.Process) {
	sig, ok := p.Signals.NextPending()
	if !ok {
		return
	}
	p.Signals.Clear(sig)

	handler := p.Signals.Handler(sig)
	if handler == 0 {
		_ = exitFn(-1)
		return
	}

	sp := uintptr(p.Context.RSP) - 128
	*(*uint64)(unsafe.Pointer(sp)) = p.Context.RIP
	p.Context.RSP = uint64(sp)
	p.Context.RIP = uint64(handler)
	p.Context.RDI = uint64(sig)
}
