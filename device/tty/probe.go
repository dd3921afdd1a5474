package tty

import "nyx/device"

// ProbeFuncs is a slice of device probe functions that is used by the hal
// package to probe for TTY device hardware. Each driver appends its probe
// function to this list from an init() block.
var ProbeFuncs []device.ProbeFn

// HWProbes returns a slice of device.ProbeFn that can be used by the hal
// package to probe for TTY device hardware.
func HWProbes() []device.ProbeFn {
	return ProbeFuncs
}
