package mem

// hhdmOffset is the fixed offset added to a physical address to obtain a
// kernel-visible virtual address inside the higher-half direct map. It is
// populated once, during early boot, by kmain.Kmain, which passes the value
// reported through hal/limine to SetHHDMOffset.
var hhdmOffset uintptr

// SetHHDMOffset records the HHDM offset reported by the boot loader. It must
// be called exactly once, before any other package in this tree dereferences
// a physical address through DirectMap.
func SetHHDMOffset(offset uintptr) {
	hhdmOffset = offset
}

// HHDMOffset returns the offset last recorded via SetHHDMOffset.
func HHDMOffset() uintptr {
	return hhdmOffset
}

// DirectMap returns the HHDM virtual address that corresponds to the given
// physical address.
func DirectMap(physAddr uintptr) uintptr {
	return physAddr + hhdmOffset
}
