package syscall

import (
	"nyx/kernel/mem"
	"nyx/kernel/mem/vmm"
	"unsafe"
)

// kernelHalfBase is the lowest virtual address belonging to the kernel half
// of a 4-level amd64 address space (bit 47 set, sign-extended). Any user
// pointer at or above this address is either kernel memory or
// non-canonical, exactly as isValidUserPointer rejected in the original.
const kernelHalfBase = uintptr(0xFFFF_8000_0000_0000)

// userSpaceEnd is the first address past the lower half, mirroring
// isValidUserPointer's upper bound.
const userSpaceEnd = vmm.UserStackTop + uintptr(mem.PageSize)

// maxCStringLen bounds how many bytes userCString will scan
// looking for a NUL terminator, matching the original's hardcoded 256-byte
// path/argument limit.
const maxCStringLen = 256

// maxArgv bounds how many argv pointers sysExec will walk, matching the
// original's hardcoded 64-argument limit.
const maxArgv = 64

// validUserPointer reports whether the size-byte region starting at ptr
// lies entirely within the canonical user half of the address space,
// mirroring the original's isValidUserPointer: a null pointer, a pointer
// at or above the kernel half, or a region whose end overflows or crosses
// into the kernel half are all rejected.
func validUserPointer(ptr, size uintptr) bool {
	if ptr == 0 || ptr >= kernelHalfBase {
		return false
	}
	end := ptr + size
	if end < ptr {
		return false
	}
	return end <= userSpaceEnd
}

// userBytes overlays a byte slice directly onto a validated user-space
// region. The caller's address space must be the one currently active,
// which is always true from within a syscall trap (no CR3 switch happens
// on a ring 3 -> ring 0 transition).
func userBytes(ptr uintptr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(size))
}

// userCString reads a NUL-terminated string out of user memory, stopping
// at maxCStringLen bytes the way the original's path/argument copies do.
// ok is false if ptr is not a valid user pointer.
func userCString(ptr uintptr) (string, bool) {
	if !validUserPointer(ptr, 1) {
		return "", false
	}

	buf := userBytes(ptr, maxCStringLen)
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), true
		}
	}
	return string(buf), true
}

// userArgv walks a NUL-terminated array of user-space C-string pointers
// (argv[argc] == nil), resolving each into a Go string, bounded by maxArgv
// entries. ptr == 0 yields an empty, successful argv, matching the
// original's "if (userArgv) { ... }" guard around a null argv.
func userArgv(ptr uintptr) ([]string, bool) {
	if ptr == 0 {
		return nil, true
	}
	if !validUserPointer(ptr, unsafe.Sizeof(uintptr(0))) {
		return nil, false
	}

	var argv []string
	for i := 0; i < maxArgv; i++ {
		slot := ptr + uintptr(i)*unsafe.Sizeof(uintptr(0))
		entry := *(*uintptr)(unsafe.Pointer(slot))
		if entry == 0 {
			break
		}
		s, ok := userCString(entry)
		if !ok {
			return nil, false
		}
		argv = append(argv, s)
	}
	return argv, true
}
