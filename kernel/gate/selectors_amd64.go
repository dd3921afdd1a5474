package gate

// Segment selectors established by the boot-protocol shim's GDT, fixed for
// the lifetime of the kernel. Anything that builds an iret frame (the ELF
// loader's initial process context) or a SYSRETQ frame (the syscall return
// path) targets these values rather than rediscovering them.
//
// The gap between UserDS and UserCS is 16, not 8: SYSRETQ derives both from
// a single IA32_STAR field as SS = STAR[63:48]+8 and CS = STAR[63:48]+16, so
// the GDT carries an unused 32-bit-compat user code descriptor at 0x18
// purely to hold that arithmetic's base slot (syscall.initMSRs sets
// STAR[63:48] to 0x18 accordingly).
const (
	KernelCS = 0x08
	KernelDS = 0x10
	UserDS   = 0x23
	UserCS   = 0x2B
)
