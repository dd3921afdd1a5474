package console

import (
	"nyx/device"
	"nyx/kernel"
	"nyx/kernel/hal/limine"
	"nyx/kernel/mem"
)

var (
	primaryFramebufferFn = limine.PrimaryFramebuffer

	// ProbeFuncs is a slice of device probe functions that is used by
	// the hal package to probe for console device hardware. Each driver
	// should use an init() block to append its probe function to this list.
	ProbeFuncs []device.ProbeFn
)

func init() {
	ProbeFuncs = append(ProbeFuncs, probeForFramebuffer)
}

// probeForFramebuffer looks for a loader-reported framebuffer and, if
// present, wraps it in a Framebuffer console device.
func probeForFramebuffer() device.Driver {
	fb := primaryFramebufferFn()
	if fb == nil || fb.MemoryModel != limine.FramebufferRGB {
		return nil
	}

	return &framebufferDriver{
		Framebuffer: NewFramebuffer(Info{
			Address: mem.DirectMap(fb.Address),
			Width:   uint32(fb.Width),
			Height:  uint32(fb.Height),
			Pitch:   uint32(fb.Pitch),
			Bpp:     uint8(fb.Bpp),
		}),
	}
}

// framebufferDriver adapts a Framebuffer console into a device.Driver so it
// can be probed and registered through the usual driver pipeline.
type framebufferDriver struct {
	*Framebuffer
}

// DriverName implements device.Driver.
func (d *framebufferDriver) DriverName() string { return "limine-framebuffer" }

// DriverVersion implements device.Driver.
func (d *framebufferDriver) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// DriverInit implements device.Driver. The framebuffer is already usable by
// the time probeForFramebuffer constructs it, so there is nothing left to
// initialize.
func (d *framebufferDriver) DriverInit() *kernel.Error { return nil }
