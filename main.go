package main

import "nyx/kernel/kmain"

var (
	memmapResponse      uintptr
	hhdmResponse        uintptr
	framebufferResponse uintptr
	moduleResponse      uintptr
)

// main makes a dummy call to the actual kernel entrypoint. It is
// intentionally defined this way, with its arguments sourced from package
// variables rather than literals, to prevent the compiler from inlining the
// call and discarding kmain.Kmain as dead code: the rt0 trampoline patches
// these variables with the real Limine response addresses before jumping
// here, not Go itself.
func main() {
	kmain.Kmain(memmapResponse, hhdmResponse, framebufferResponse, moduleResponse)
}
